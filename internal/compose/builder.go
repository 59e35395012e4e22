package compose

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/campora/courier/internal/charset"
	"github.com/campora/courier/internal/identity"
	"github.com/campora/courier/internal/render"
)

// Build stages, strictly ordered. Later stages read state written by
// earlier ones (content rendering depends on the resolved sender name), so
// skipping a stage is a contract violation reported as ErrSequence.
type stage int

const (
	stageCreated stage = iota
	stageReplyToSet
	stageSubjectSet
	stageContentSet
	stageAttachmentSet
	stageDone
)

func (s stage) String() string {
	switch s {
	case stageCreated:
		return "created"
	case stageReplyToSet:
		return "reply-to set"
	case stageSubjectSet:
		return "subject set"
	case stageContentSet:
		return "content set"
	case stageAttachmentSet:
		return "attachment set"
	default:
		return "done"
	}
}

// Builder assembles one Message from one Request through the staged setters.
// A Builder is single-use: Finalize consumes it.
type Builder struct {
	p        *Pipeline
	req      *Request
	msg      *Message
	stage    stage
	realFrom bool // visible From is the sender's real address
}

// NewBuilder starts a build for a request. The diversion filter runs here,
// before any address is written into the message.
func (p *Pipeline) NewBuilder(req *Request) *Builder {
	wrap := req.WordWrap
	if wrap <= 0 {
		wrap = p.cfg.Mail.WordWrap
	}
	return &Builder{
		p:   p,
		req: req,
		msg: &Message{
			Recipients: []Address{{
				Email: p.deliveryAddress(req.Recipient),
				Name:  req.Recipient.FullName(),
			}},
			WordWrap: wrap,
			Charset:  "UTF-8",
		},
	}
}

func (b *Builder) require(want stage) error {
	if b.stage != want {
		return fmt.Errorf("%w: expected stage %q, builder is at %q", ErrSequence, want, b.stage)
	}
	return nil
}

// SetReplyTo records the reply-to override (which may be nil) and resolves
// the correspondents: envelope sender, visible From, and reply-to list.
func (b *Builder) SetReplyTo(override *Address) error {
	if err := b.require(stageCreated); err != nil {
		return err
	}
	if err := b.resolveCorrespondents(override); err != nil {
		return err
	}
	b.stage = stageReplyToSet
	return nil
}

// SetSubject records the subject and assembles the send metadata: rendered
// subject, message-id, priority, and custom headers.
func (b *Builder) SetSubject(subject string) error {
	if err := b.require(stageReplyToSet); err != nil {
		return err
	}

	rendered, err := b.p.renderer.Render(render.EmailSubject, map[string]string{
		"prefix":  b.p.cfg.Mail.SubjectPrefix,
		"subject": subject,
	})
	if err != nil {
		return fmt.Errorf("render subject: %w", err)
	}
	b.msg.Subject = rendered

	// Never overwrite a caller-supplied message-id.
	if b.req.MessageID != "" {
		b.msg.MessageID = b.req.MessageID
	} else {
		b.msg.MessageID = fmt.Sprintf("<%s@%s>", uuid.New().String(), b.p.cfg.Site.Hostname)
	}

	b.msg.Priority = b.req.Sender.Priority
	b.msg.CustomHeaders = b.assembleHeaders()

	b.stage = stageSubjectSet
	return nil
}

// assembleHeaders builds the ordered custom header list: site-wide headers
// first, then sender-supplied headers, then the provenance header.
func (b *Builder) assembleHeaders() []string {
	headers := append([]string(nil), b.p.cfg.SiteHeaders()...)
	headers = append(headers, b.req.Sender.CustomHeaders...)

	origin := b.req.Origin
	if origin == "" {
		origin = "unknown"
	}
	headers = append(headers, fmt.Sprintf("X-Courier-Origin: %s/%s/%s",
		b.p.cfg.Site.Name, b.p.cfg.Site.Hostname, origin))
	return headers
}

// SetContent records the bodies, applies remote-identity link rewriting, and
// renders the final plaintext and HTML through the site templates.
func (b *Builder) SetContent(text, html string) error {
	if err := b.require(stageSubjectSet); err != nil {
		return err
	}

	text, html = b.p.rewriteLinks(text, html, b.req.Recipient)

	if b.req.Recipient.PrefersHTML() && html == "" {
		derived, err := textToHTML(text)
		if err != nil {
			return fmt.Errorf("derive html body: %w", err)
		}
		html = derived
	}

	plain, err := b.p.renderer.Render(render.EmailText, map[string]string{"body": text})
	if err != nil {
		return fmt.Errorf("render text body: %w", err)
	}

	if html != "" && b.req.Recipient.PrefersHTML() {
		rendered, err := b.p.renderer.Render(render.EmailHTML, map[string]string{"body": html})
		if err != nil {
			return fmt.Errorf("render html body: %w", err)
		}
		b.msg.IsHTML = true
		b.msg.BodyHTML = rendered
		b.msg.BodyPlain = plain
		b.msg.TransferEncoding = "quoted-printable"
	} else {
		b.msg.IsHTML = false
		b.msg.BodyPlain = plain
		b.msg.BodyHTML = ""
	}

	b.stage = stageContentSet
	return nil
}

// SetAttachment records the optional attachment. Sandbox validation runs
// even when att is nil so the stage ordering stays uniform.
func (b *Builder) SetAttachment(att *Attachment) error {
	if err := b.require(stageContentSet); err != nil {
		return err
	}
	resolved, err := b.p.resolveAttachment(att)
	if err != nil {
		return err
	}
	b.msg.Attachment = resolved
	b.stage = stageAttachmentSet
	return nil
}

// Finalize transcodes text fields to the site charset, attaches signing
// metadata, and returns the finished message. The builder is consumed.
func (b *Builder) Finalize(ctx context.Context) (*Message, error) {
	if err := b.require(stageAttachmentSet); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := b.transcodeAll(); err != nil {
		return nil, err
	}
	b.attachSigning()

	b.stage = stageDone
	return b.msg, nil
}

// transcodeAll converts the finalized text fields to the target charset:
// the recipient's preference when set and supported, the site charset
// otherwise. Address lists were written before this point, so only display
// names are converted, never the addresses themselves.
func (b *Builder) transcodeAll() error {
	target := b.targetCharset()
	if charset.IsUTF8(target) {
		return nil
	}

	conv := func(s string) (string, error) {
		return b.p.transcode.Convert(s, "utf-8", target)
	}

	var err error
	if b.msg.From.Name, err = conv(b.msg.From.Name); err != nil {
		return fmt.Errorf("transcode from name: %w", err)
	}
	if b.msg.Subject, err = conv(b.msg.Subject); err != nil {
		return fmt.Errorf("transcode subject: %w", err)
	}
	if b.msg.BodyPlain, err = conv(b.msg.BodyPlain); err != nil {
		return fmt.Errorf("transcode body: %w", err)
	}
	if b.msg.BodyHTML != "" {
		if b.msg.BodyHTML, err = conv(b.msg.BodyHTML); err != nil {
			return fmt.Errorf("transcode alt body: %w", err)
		}
	}
	for i := range b.msg.Recipients {
		if b.msg.Recipients[i].Name, err = conv(b.msg.Recipients[i].Name); err != nil {
			return fmt.Errorf("transcode recipient name: %w", err)
		}
	}
	for i := range b.msg.ReplyTo {
		if b.msg.ReplyTo[i].Name, err = conv(b.msg.ReplyTo[i].Name); err != nil {
			return fmt.Errorf("transcode reply-to name: %w", err)
		}
	}
	b.msg.Charset = target
	return nil
}

// targetCharset picks the transcoding target. A recipient preference wins
// over the site charset; an unknown preference falls back rather than
// failing the whole message.
func (b *Builder) targetCharset() string {
	pref := b.req.Recipient.Charset
	if pref == "" {
		return b.p.cfg.Mail.SiteCharset
	}
	if !charset.IsUTF8(pref) {
		if _, err := b.p.transcode.Convert("", "utf-8", pref); err != nil {
			slog.Debug("unsupported recipient charset, using site charset",
				"user_id", b.req.Recipient.ID, "charset", pref)
			return b.p.cfg.Mail.SiteCharset
		}
	}
	return pref
}

// attachSigning adds DKIM metadata when the selector is configured and the
// private key exists. A missing key file only logs a debug diagnostic.
func (b *Builder) attachSigning() {
	selector := b.p.cfg.Mail.DKIMSelector
	if selector == "" {
		return
	}
	domain := identity.Domain(b.msg.From.Email)
	keyPath := b.p.cfg.DKIMKeyPath(domain)
	if _, err := os.Stat(keyPath); err != nil {
		slog.Debug("dkim key not found, skipping signing", "path", keyPath)
		return
	}
	b.msg.Signing = &Signing{
		Domain:   domain,
		Selector: selector,
		KeyPath:  keyPath,
		Identity: b.msg.From.Email,
	}
}
