package compose

import (
	"context"
	"log/slog"
	"strings"

	"github.com/campora/courier/internal/identity"
)

// Outcome is the validity gate's decision for a request.
type Outcome int

const (
	// Proceed allows composition and dispatch.
	Proceed Outcome = iota
	// ForceSuccess reports success without sending (test harness).
	ForceSuccess
	// SilentSkip suppresses the send but reports success; routine policy
	// behavior, not a failure.
	SilentSkip
	// Reject suppresses the send and reports failure.
	Reject
)

// Decision carries the gate outcome and a diagnostic reason.
type Decision struct {
	Outcome Outcome
	Reason  string
}

// invalidTLD is the reserved sink-hole domain suffix: addresses under it are
// intentionally undeliverable and skipped without complaint.
const invalidTLD = ".invalid"

// Gate decides whether sending to a recipient should proceed. Rules are
// evaluated in a fixed order and the first match wins.
func (p *Pipeline) Gate(ctx context.Context, u *identity.User) Decision {
	if u == nil || u.ID == 0 {
		return Decision{Reject, "recipient missing or has no identifier"}
	}
	if u.Email == "" {
		return Decision{Reject, "recipient has no address"}
	}
	if u.Deleted {
		return Decision{Reject, "recipient account deleted"}
	}
	if p.cfg.Mail.FakeSend {
		return Decision{ForceSuccess, "fake send enabled"}
	}
	if p.cfg.Mail.NeverSend {
		return Decision{SilentSkip, "outgoing mail disabled site-wide"}
	}
	if u.AuthDisabled || u.Suspended {
		return Decision{SilentSkip, "recipient login disabled or suspended"}
	}
	if !identity.ValidAddress(u.Email) {
		return Decision{Reject, "recipient address failed validation"}
	}
	if p.counters != nil {
		over, err := p.counters.OverBounceThreshold(ctx, u.ID)
		if err != nil {
			slog.Error("bounce threshold lookup failed", "user_id", u.ID, "error", err)
		} else if over {
			return Decision{Reject, "recipient over bounce threshold"}
		}
	}
	if strings.HasSuffix(strings.ToLower(u.Email), invalidTLD) {
		return Decision{SilentSkip, "recipient domain is the reserved invalid TLD"}
	}
	return Decision{Proceed, ""}
}
