package counters

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, threshold int) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), threshold)
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreSendCounts(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 3)

	sent, err := s.SendCount(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, sent)

	require.NoError(t, s.IncrementSendCount(ctx, 1))
	require.NoError(t, s.IncrementSendCount(ctx, 1))
	require.NoError(t, s.IncrementSendCount(ctx, 2))

	sent, err = s.SendCount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), sent)

	sent, err = s.SendCount(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sent)
}

func TestStoreBounces(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 3)

	over, err := s.OverBounceThreshold(ctx, 1)
	require.NoError(t, err)
	assert.False(t, over)

	for i := 0; i < 2; i++ {
		require.NoError(t, s.RecordBounce(ctx, 1))
	}
	over, err = s.OverBounceThreshold(ctx, 1)
	require.NoError(t, err)
	assert.False(t, over)

	require.NoError(t, s.RecordBounce(ctx, 1))
	over, err = s.OverBounceThreshold(ctx, 1)
	require.NoError(t, err)
	assert.True(t, over)

	require.NoError(t, s.ResetBounces(ctx, 1))
	over, err = s.OverBounceThreshold(ctx, 1)
	require.NoError(t, err)
	assert.False(t, over)
}

func TestStoreMigrateIdempotent(t *testing.T) {
	s := openTestStore(t, 3)
	require.NoError(t, s.Migrate())
	require.NoError(t, s.Migrate())
}

func TestMemoryCounters(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(2)

	require.NoError(t, m.IncrementSendCount(ctx, 7))
	sent, err := m.SendCount(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sent)

	require.NoError(t, m.RecordBounce(ctx, 7))
	over, err := m.OverBounceThreshold(ctx, 7)
	require.NoError(t, err)
	assert.False(t, over)

	require.NoError(t, m.RecordBounce(ctx, 7))
	over, err = m.OverBounceThreshold(ctx, 7)
	require.NoError(t, err)
	assert.True(t, over)

	require.NoError(t, m.ResetBounces(ctx, 7))
	over, err = m.OverBounceThreshold(ctx, 7)
	require.NoError(t, err)
	assert.False(t, over)
}
