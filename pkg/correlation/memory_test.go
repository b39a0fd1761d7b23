package correlation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMemoryStorePutGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	snap := &Snapshot{
		TriggerID:     "trig-1",
		CustomerName:  "Asha Patel",
		Phone:         "+14155550100",
		PreferredLang: "en",
	}

	require.NoError(t, s.Put(ctx, "trig-1", snap, time.Minute))

	got, err := s.Get(ctx, "trig-1")
	require.NoError(t, err)
	assert.Equal(t, "Asha Patel", got.CustomerName)
	assert.False(t, got.UpdatedAt.IsZero(), "Put should stamp UpdatedAt")

	t.Run("Get returns a copy", func(t *testing.T) {
		got.CustomerName = "mutated"
		again, err := s.Get(ctx, "trig-1")
		require.NoError(t, err)
		assert.Equal(t, "Asha Patel", again.CustomerName)
	})

	t.Run("Missing key", func(t *testing.T) {
		_, err := s.Get(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryStoreStaleWriteRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	newer := &Snapshot{TriggerID: "trig-1", CustomerName: "Current", UpdatedAt: time.Now()}
	require.NoError(t, s.Put(ctx, "trig-1", newer, time.Minute))

	// A duplicate callback that was delayed in flight carries an older
	// timestamp; it must not clobber the newer data.
	stale := &Snapshot{TriggerID: "trig-1", CustomerName: "Stale", UpdatedAt: time.Now().Add(-5 * time.Second)}
	err := s.Put(ctx, "trig-1", stale, time.Minute)
	assert.ErrorIs(t, err, ErrStaleWrite)

	got, err := s.Get(ctx, "trig-1")
	require.NoError(t, err)
	assert.Equal(t, "Current", got.CustomerName)
}

func TestMemoryStoreReindex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "trig-1", &Snapshot{TriggerID: "trig-1", CustomerName: "Asha Patel"}, time.Minute))
	require.NoError(t, s.Reindex(ctx, "trig-1", "CA-123"))

	t.Run("Both keys resolve", func(t *testing.T) {
		byCall, err := s.Get(ctx, "CA-123")
		require.NoError(t, err)
		assert.Equal(t, "Asha Patel", byCall.CustomerName)
		assert.Equal(t, "CA-123", byCall.CarrierCallID)

		byTrigger, err := s.Get(ctx, "trig-1")
		require.NoError(t, err)
		assert.Equal(t, "CA-123", byTrigger.CarrierCallID)
	})

	t.Run("Reindex is idempotent", func(t *testing.T) {
		require.NoError(t, s.Reindex(ctx, "trig-1", "CA-123"))
		got, err := s.Get(ctx, "CA-123")
		require.NoError(t, err)
		assert.Equal(t, "Asha Patel", got.CustomerName)
	})

	t.Run("Reindex of missing key fails", func(t *testing.T) {
		assert.ErrorIs(t, s.Reindex(ctx, "nope", "CA-999"), ErrNotFound)
	})
}

func TestMemoryStoreTTL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Put(ctx, "trig-1", &Snapshot{TriggerID: "trig-1"}, time.Minute))

	t.Run("Entry visible before expiry", func(t *testing.T) {
		_, err := s.Get(ctx, "trig-1")
		assert.NoError(t, err)
	})

	t.Run("Entry gone after expiry", func(t *testing.T) {
		now = now.Add(2 * time.Minute)
		_, err := s.Get(ctx, "trig-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Touch extends lifetime", func(t *testing.T) {
		now = time.Now()
		require.NoError(t, s.Put(ctx, "trig-2", &Snapshot{TriggerID: "trig-2"}, time.Minute))
		now = now.Add(50 * time.Second)
		require.NoError(t, s.Touch(ctx, "trig-2", time.Minute))
		now = now.Add(50 * time.Second)
		_, err := s.Get(ctx, "trig-2")
		assert.NoError(t, err)
	})

	t.Run("Sweep drops expired entries", func(t *testing.T) {
		now = now.Add(10 * time.Minute)
		s.sweep()
		assert.Equal(t, 0, s.Len())
	})
}
