package compose

import (
	"fmt"
	"log/slog"

	"github.com/campora/courier/internal/config"
	"github.com/campora/courier/internal/identity"
	"github.com/campora/courier/internal/render"
)

// genericReplyToName labels the synthesized no-reply reply-to entry.
const genericReplyToName = "Do not reply to this email"

// resolveCorrespondents computes the envelope sender, the visible From and
// its display name, and the reply-to list.
func (b *Builder) resolveCorrespondents(override *Address) error {
	cfg := b.p.cfg
	noreply := cfg.NoReplyAddress()
	recipient := b.req.Recipient
	sender := b.req.Sender

	// Envelope (bounce) sender: a synthetic processing address derived
	// deterministically from the recipient, so inbound bounce handling can
	// attribute bounces; otherwise the no-reply address.
	if cfg.Mail.BounceHandling {
		b.msg.EnvelopeFrom = fmt.Sprintf("%s+%d+%s@%s",
			cfg.Mail.BouncePrefix, recipient.ID,
			identity.AddressHash(recipient.Email), cfg.MailDomain())
	} else {
		b.msg.EnvelopeFrom = noreply
	}

	switch {
	case sender.User == nil:
		// Legacy/system sender supplied as a raw display string.
		b.msg.From = Address{Email: noreply, Name: b.fromName(sender.Name)}

	case b.req.UseTrueAddress && sender.RevealAddress:
		if !identity.ValidAddress(sender.User.Email) {
			return fmt.Errorf("%w: %q", ErrInvalidSender, sender.User.Email)
		}
		name := sender.User.FullName()
		if cfg.Mail.ViaPolicy == config.ViaAlways {
			name = b.viaName(name)
		} else {
			name = b.fromName(name)
		}
		b.msg.From = Address{Email: sender.User.Email, Name: name}
		b.realFrom = true

	default:
		// Anonymized sender: real address hidden behind no-reply.
		name := sender.User.FullName()
		if cfg.Mail.ViaPolicy != config.ViaNever {
			name = b.viaName(name)
		} else {
			name = b.fromName(name)
		}
		b.msg.From = Address{Email: noreply, Name: name}
	}

	switch {
	case override != nil && identity.ValidAddress(override.Email):
		b.msg.ReplyTo = []Address{*override}
	case override != nil:
		// Invalid override degrades to the no-reply address.
		slog.Debug("invalid reply-to override, using no-reply", "override", override.Email)
		b.msg.ReplyTo = []Address{{Email: noreply, Name: override.Name}}
	case b.realFrom:
		b.msg.ReplyTo = []Address{{Email: sender.User.Email, Name: sender.User.FullName()}}
	default:
		b.msg.ReplyTo = []Address{{Email: noreply, Name: genericReplyToName}}
	}

	return nil
}

func (b *Builder) fromName(name string) string {
	rendered, err := b.p.renderer.Render(render.EmailFromName, map[string]string{"name": name})
	if err != nil {
		slog.Warn("render from name failed", "error", err)
		return name
	}
	return rendered
}

func (b *Builder) viaName(name string) string {
	rendered, err := b.p.renderer.Render(render.EmailVia, map[string]string{
		"name": name,
		"site": b.p.cfg.Site.Name,
	})
	if err != nil {
		slog.Warn("render via name failed", "error", err)
		return name
	}
	return rendered
}
