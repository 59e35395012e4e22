package bounce

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/campora/courier/internal/config"
	"github.com/campora/courier/internal/identity"
)

// Recorder persists attributed bounces.
type Recorder interface {
	RecordBounce(ctx context.Context, userID int64) error
}

// LookupFunc resolves a user id to the address mail was sent to, so the
// envelope hash can be verified before a bounce is counted.
type LookupFunc func(ctx context.Context, userID int64) (email string, err error)

// ref is a parsed envelope processing address.
type ref struct {
	UserID int64
	Hash   string
}

// Monitor polls the bounce mailbox and records verified bounces.
type Monitor struct {
	cfg      *config.Config
	dial     func() (Client, error) // factory for per-poll connections
	recorder Recorder
	lookup   LookupFunc
	verpRe   *regexp.Regexp
}

// NewMonitor creates a Monitor using the configured IMAP mailbox.
func NewMonitor(cfg *config.Config, recorder Recorder, lookup LookupFunc) *Monitor {
	return &Monitor{
		cfg:      cfg,
		dial:     func() (Client, error) { return dial(cfg.IMAP) },
		recorder: recorder,
		lookup:   lookup,
		verpRe: regexp.MustCompile(
			regexp.QuoteMeta(cfg.Mail.BouncePrefix) + `\+(\d+)\+([0-9a-f]{16})@`),
	}
}

// Run polls the mailbox until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	interval := time.Duration(m.cfg.IMAP.PollIntervalSec) * time.Second
	slog.Info("bounce monitor started", "poll_interval", interval, "mailbox", m.cfg.IMAP.Mailbox)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n, err := m.PollOnce(ctx); err != nil {
				slog.Error("bounce poll failed", "error", err)
			} else if n > 0 {
				slog.Info("recorded bounces", "count", n)
			}
		}
	}
}

// PollOnce fetches unseen bounce reports, records the verifiable ones, and
// marks everything seen. Returns the number of bounces recorded.
func (m *Monitor) PollOnce(ctx context.Context) (int, error) {
	client, err := m.dial()
	if err != nil {
		return 0, err
	}
	defer client.Close()

	reports, err := client.FetchUnseen()
	if err != nil {
		return 0, err
	}

	recorded := 0
	for _, report := range reports {
		if r, ok := m.extractRef(report); ok && m.verify(ctx, r) {
			if err := m.recorder.RecordBounce(ctx, r.UserID); err != nil {
				slog.Error("failed to record bounce", "user_id", r.UserID, "error", err)
			} else {
				recorded++
			}
		}
		// Mark seen regardless, so an unattributable report is not
		// re-processed on every poll.
		if err := client.MarkSeen(report.UID); err != nil {
			slog.Warn("failed to mark bounce as seen", "uid", report.UID, "error", err)
		}
	}
	return recorded, nil
}

// extractRef finds the envelope processing address in the report: the To
// addresses first, then the body (some relays rewrite the To header).
func (m *Monitor) extractRef(report *Report) (ref, bool) {
	for _, addr := range report.Recipients {
		if r, ok := m.parseRef(addr); ok {
			return r, true
		}
	}
	return m.parseRef(report.Body)
}

func (m *Monitor) parseRef(s string) (ref, bool) {
	sub := m.verpRe.FindStringSubmatch(s)
	if sub == nil {
		return ref{}, false
	}
	id, err := strconv.ParseInt(sub[1], 10, 64)
	if err != nil {
		return ref{}, false
	}
	return ref{UserID: id, Hash: sub[2]}, true
}

// verify checks the address hash against the recipient's current address.
// A mismatch means a stale or forged report and is dropped.
func (m *Monitor) verify(ctx context.Context, r ref) bool {
	email, err := m.lookup(ctx, r.UserID)
	if err != nil {
		slog.Warn("bounce recipient lookup failed", "user_id", r.UserID, "error", err)
		return false
	}
	if identity.AddressHash(email) != r.Hash {
		slog.Debug("bounce hash mismatch, dropping report", "user_id", r.UserID)
		return false
	}
	return true
}
