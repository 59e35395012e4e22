package compose

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"

	"github.com/campora/courier/internal/audit"
	"github.com/campora/courier/internal/charset"
	"github.com/campora/courier/internal/config"
	"github.com/campora/courier/internal/identity"
	"github.com/campora/courier/internal/render"
)

// Transport delivers a fully composed message.
type Transport interface {
	Send(ctx context.Context, msg *Message) error
}

// Renderer renders a named site template over named variables.
type Renderer interface {
	Render(id string, vars map[string]string) (string, error)
}

// Transcoder converts finalized text fields to the site charset.
type Transcoder interface {
	Convert(text, from, to string) (string, error)
}

// Counters is the send/bounce bookkeeping collaborator.
type Counters interface {
	IncrementSendCount(ctx context.Context, userID int64) error
	OverBounceThreshold(ctx context.Context, userID int64) (bool, error)
}

// Resolver answers identity-provider questions about federated recipients.
type Resolver interface {
	IsRemote(u *identity.User) bool
	HomeRedirectURL(u *identity.User) string
}

// Pipeline orchestrates composition and dispatch. One Pipeline serves many
// requests; each request is exclusively owned by its call stack, so the
// pipeline keeps no per-request state.
type Pipeline struct {
	cfg       *config.Config
	transport Transport
	counters  Counters
	sink      audit.Sink

	renderer  Renderer
	transcode Transcoder
	resolver  Resolver
	trace     io.Writer // human-readable failure trace for CLI contexts

	siteLinkRe     *regexp.Regexp
	siteHrefLinkRe *regexp.Regexp
}

// New wires a Pipeline with the default renderer and transcoder. The
// identity resolver and trace writer are optional and off by default.
func New(cfg *config.Config, transport Transport, counters Counters, sink audit.Sink) *Pipeline {
	root := regexp.QuoteMeta(cfg.Site.RootURL)
	return &Pipeline{
		cfg:            cfg,
		transport:      transport,
		counters:       counters,
		sink:           sink,
		renderer:       render.New(),
		transcode:      charset.New(),
		siteLinkRe:     regexp.MustCompile(root + `[^\s"'<>)]*`),
		siteHrefLinkRe: regexp.MustCompile(`href=["'](` + root + `[^"']*)["']`),
	}
}

// SetIdentityResolver enables link rewriting for federated recipients.
func (p *Pipeline) SetIdentityResolver(r Resolver) {
	p.resolver = r
}

// EnableTrace turns on the human-readable failure trace, used when the
// pipeline runs under a command-line execution context.
func (p *Pipeline) EnableTrace(w io.Writer) {
	p.trace = w
}

// Compose runs the build stages in order and returns the finished message.
// The validity gate is not consulted here; Dispatch is the only path that
// hands a message to the transport.
func (p *Pipeline) Compose(ctx context.Context, req *Request) (*Message, error) {
	b := p.NewBuilder(req)
	if err := b.SetReplyTo(req.ReplyTo); err != nil {
		return nil, err
	}
	if err := b.SetSubject(req.Subject); err != nil {
		return nil, err
	}
	if err := b.SetContent(req.BodyText, req.BodyHTML); err != nil {
		return nil, err
	}
	if err := b.SetAttachment(req.Attachment); err != nil {
		return nil, err
	}
	return b.Finalize(ctx)
}

// Dispatch composes and delivers one request. The result is boolean in all
// paths: silent skips report success, validation rejects and transport
// failures report failure. No error crosses this boundary.
func (p *Pipeline) Dispatch(ctx context.Context, req *Request) bool {
	dec := p.Gate(ctx, req.Recipient)
	switch dec.Outcome {
	case Reject:
		slog.Warn("message rejected before dispatch", "reason", dec.Reason)
		return false
	case SilentSkip:
		slog.Debug("message skipped", "reason", dec.Reason)
		return true
	case ForceSuccess:
		slog.Debug("send short-circuited by test harness")
		return true
	}

	msg, err := p.Compose(ctx, req)
	if err != nil {
		slog.Warn("message composition failed", "error", err, "recipient_id", req.Recipient.ID)
		p.tracef("ERROR: could not compose mail for user %d: %v\n", req.Recipient.ID, err)
		return false
	}

	if err := p.transport.Send(ctx, msg); err != nil {
		p.sink.Emit("message_send_failed", map[string]string{
			"sender_id":    strconv.FormatInt(senderID(req.Sender), 10),
			"sender":       req.Sender.DisplayName(),
			"recipient_id": strconv.FormatInt(req.Recipient.ID, 10),
			"subject":      msg.Subject,
			"body":         msg.BodyPlain,
			"error":        err.Error(),
		})
		p.tracef("ERROR: failed to send mail to user %d: %v\n", req.Recipient.ID, err)
		return false
	}

	if p.counters != nil {
		if err := p.counters.IncrementSendCount(ctx, req.Recipient.ID); err != nil {
			slog.Error("failed to record send count", "user_id", req.Recipient.ID, "error", err)
		}
	}
	return true
}

func (p *Pipeline) tracef(format string, args ...any) {
	if p.trace != nil {
		fmt.Fprintf(p.trace, format, args...)
	}
}

func senderID(s identity.Sender) int64 {
	if s.User != nil {
		return s.User.ID
	}
	return 0
}

// deliveryAddress applies the diversion filter: when a diversion address is
// configured, mail goes there instead of to the recipient, unless the
// recipient address matches one of the exception patterns.
func (p *Pipeline) deliveryAddress(u *identity.User) string {
	divert := p.cfg.Mail.DivertAddress
	if divert == "" {
		return u.Email
	}
	for _, except := range p.cfg.Mail.DivertExceptions {
		if except != "" && matchException(u.Email, except) {
			return u.Email
		}
	}
	slog.Debug("diverting message", "user_id", u.ID, "divert_to", divert)
	return divert
}

func matchException(addr, pattern string) bool {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(addr)
}

// rewriteLinks routes links pointing at the site root through the
// recipient's home identity-provider redirection endpoint.
func (p *Pipeline) rewriteLinks(text, html string, u *identity.User) (string, string) {
	if p.resolver == nil || !p.resolver.IsRemote(u) {
		return text, html
	}
	redirect := p.resolver.HomeRedirectURL(u)
	if redirect == "" {
		return text, html
	}

	if html != "" {
		html = p.siteHrefLinkRe.ReplaceAllStringFunc(html, func(m string) string {
			sub := p.siteHrefLinkRe.FindStringSubmatch(m)
			return `href="` + redirect + url.QueryEscape(sub[1]) + `"`
		})
	}
	text = p.siteLinkRe.ReplaceAllStringFunc(text, func(m string) string {
		return redirect + url.QueryEscape(m)
	})
	return text, html
}
