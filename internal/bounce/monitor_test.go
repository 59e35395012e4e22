package bounce

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campora/courier/internal/config"
	"github.com/campora/courier/internal/identity"
)

type mockClient struct {
	reports []*Report
	seen    []imap.UID
	closed  bool
	fetchEr error
}

func (m *mockClient) FetchUnseen() ([]*Report, error) {
	if m.fetchEr != nil {
		return nil, m.fetchEr
	}
	return m.reports, nil
}

func (m *mockClient) MarkSeen(uid imap.UID) error {
	m.seen = append(m.seen, uid)
	return nil
}

func (m *mockClient) Close() error {
	m.closed = true
	return nil
}

type mockRecorder struct {
	bounced []int64
	err     error
}

func (m *mockRecorder) RecordBounce(_ context.Context, userID int64) error {
	if m.err != nil {
		return m.err
	}
	m.bounced = append(m.bounced, userID)
	return nil
}

func testMonitor(t *testing.T, client *mockClient, lookup LookupFunc) (*Monitor, *mockRecorder) {
	t.Helper()
	cfg := &config.Config{
		Mail: config.MailConfig{BouncePrefix: "bounce", BounceThreshold: 10},
		IMAP: config.IMAPConfig{PollIntervalSec: 60, Mailbox: "INBOX"},
	}
	rec := &mockRecorder{}
	m := NewMonitor(cfg, rec, lookup)
	m.dial = func() (Client, error) { return client, nil }
	return m, rec
}

func verpAddr(userID int64, email string) string {
	return fmt.Sprintf("bounce+%d+%s@campora.example", userID, identity.AddressHash(email))
}

func lookupTable(table map[int64]string) LookupFunc {
	return func(_ context.Context, userID int64) (string, error) {
		email, ok := table[userID]
		if !ok {
			return "", errors.New("unknown user")
		}
		return email, nil
	}
}

func TestPollOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("records verified bounce from To address", func(t *testing.T) {
		client := &mockClient{reports: []*Report{{
			Recipients: []string{verpAddr(5, "a@b.com")},
			Subject:    "Undelivered Mail Returned to Sender",
			UID:        41,
		}}}
		m, rec := testMonitor(t, client, lookupTable(map[int64]string{5: "a@b.com"}))

		n, err := m.PollOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, []int64{5}, rec.bounced)
		assert.Equal(t, []imap.UID{41}, client.seen)
		assert.True(t, client.closed)
	})

	t.Run("falls back to the body when To was rewritten", func(t *testing.T) {
		client := &mockClient{reports: []*Report{{
			Recipients: []string{"postmaster@relay.example"},
			Body:       "Final-Recipient: rfc822; " + verpAddr(5, "a@b.com") + "\nAction: failed",
			UID:        42,
		}}}
		m, rec := testMonitor(t, client, lookupTable(map[int64]string{5: "a@b.com"}))

		n, err := m.PollOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, []int64{5}, rec.bounced)
	})

	t.Run("hash mismatch is dropped but marked seen", func(t *testing.T) {
		// Hash computed over a different address than the user's current one.
		client := &mockClient{reports: []*Report{{
			Recipients: []string{verpAddr(5, "old@b.com")},
			UID:        43,
		}}}
		m, rec := testMonitor(t, client, lookupTable(map[int64]string{5: "a@b.com"}))

		n, err := m.PollOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Empty(t, rec.bounced)
		assert.Equal(t, []imap.UID{43}, client.seen)
	})

	t.Run("unknown user is dropped but marked seen", func(t *testing.T) {
		client := &mockClient{reports: []*Report{{
			Recipients: []string{verpAddr(99, "ghost@b.com")},
			UID:        44,
		}}}
		m, rec := testMonitor(t, client, lookupTable(map[int64]string{5: "a@b.com"}))

		n, err := m.PollOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Empty(t, rec.bounced)
		assert.Equal(t, []imap.UID{44}, client.seen)
	})

	t.Run("non-bounce mail is ignored", func(t *testing.T) {
		client := &mockClient{reports: []*Report{{
			Recipients: []string{"noreply@campora.example"},
			Body:       "out of office",
			UID:        45,
		}}}
		m, rec := testMonitor(t, client, lookupTable(nil))

		n, err := m.PollOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Empty(t, rec.bounced)
		assert.Equal(t, []imap.UID{45}, client.seen)
	})

	t.Run("recorder failure does not block marking seen", func(t *testing.T) {
		client := &mockClient{reports: []*Report{{
			Recipients: []string{verpAddr(5, "a@b.com")},
			UID:        46,
		}}}
		m, rec := testMonitor(t, client, lookupTable(map[int64]string{5: "a@b.com"}))
		rec.err = errors.New("db locked")

		n, err := m.PollOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Equal(t, []imap.UID{46}, client.seen)
	})

	t.Run("fetch failure surfaces", func(t *testing.T) {
		client := &mockClient{fetchEr: errors.New("mailbox gone")}
		m, _ := testMonitor(t, client, lookupTable(nil))

		_, err := m.PollOnce(ctx)
		assert.ErrorContains(t, err, "mailbox gone")
		assert.True(t, client.closed)
	})
}

func TestParseRef(t *testing.T) {
	m, _ := testMonitor(t, &mockClient{}, lookupTable(nil))

	r, ok := m.parseRef("bounce+5+0123456789abcdef@campora.example")
	require.True(t, ok)
	assert.Equal(t, int64(5), r.UserID)
	assert.Equal(t, "0123456789abcdef", r.Hash)

	_, ok = m.parseRef("noreply@campora.example")
	assert.False(t, ok)

	// Hash must be exactly 16 lowercase hex characters.
	_, ok = m.parseRef("bounce+5+XYZ@campora.example")
	assert.False(t, ok)
}

func TestRunStopsOnCancel(t *testing.T) {
	m, _ := testMonitor(t, &mockClient{}, lookupTable(nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, m.Run(ctx))
}
