// Package correlation implements the shared TTL-backed store that maps a
// short-lived trigger identifier, and later the carrier-assigned call
// identifier, to the customer snapshot captured when the outbound call was
// requested. The store is the rendezvous point between three independently
// arriving events: the trigger request, the carrier status callback, and the
// media stream connection.
package correlation

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL bounds entry lifetime to the longest call we expect to run.
const DefaultTTL = 15 * time.Minute

var (
	// ErrNotFound is returned when no entry exists for a key.
	ErrNotFound = errors.New("correlation: entry not found")
	// ErrStaleWrite is returned when a Put carries an older timestamp than
	// the stored entry. A delayed duplicate callback must not clobber data
	// written after it.
	ErrStaleWrite = errors.New("correlation: stale write rejected")
)

// Snapshot is the customer record captured at trigger time. It is written
// once during resolution and read-only afterwards; callers receive copies.
type Snapshot struct {
	TriggerID     string    `json:"trigger_id"`
	CarrierCallID string    `json:"carrier_call_id,omitempty"`
	CustomerName  string    `json:"customer_name"`
	Phone         string    `json:"phone"`
	LoanID        string    `json:"loan_id,omitempty"`
	AmountDue     string    `json:"amount_due,omitempty"`
	DueDate       string    `json:"due_date,omitempty"`
	PreferredLang string    `json:"preferred_lang"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Clone returns a copy so callers cannot mutate stored state.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// Store is the contract shared by the in-memory and Redis implementations.
// All operations are idempotent and safe for concurrent use from unrelated
// call goroutines.
type Store interface {
	// Put stores a snapshot under key with the given TTL. Writes carrying
	// an UpdatedAt older than the stored entry return ErrStaleWrite and
	// leave the entry untouched. A zero UpdatedAt is stamped with now.
	Put(ctx context.Context, key string, snap *Snapshot, ttl time.Duration) error

	// Get returns a copy of the snapshot for key, or ErrNotFound.
	Get(ctx context.Context, key string) (*Snapshot, error)

	// Reindex aliases the entry at oldKey under newKey (the carrier call
	// id, once known) and records newKey as the snapshot's carrier id.
	// Both keys remain readable afterwards. Reindexing an already
	// reindexed entry with the same newKey is a no-op.
	Reindex(ctx context.Context, oldKey, newKey string) error

	// Touch extends the entry's lifetime without modifying the snapshot.
	Touch(ctx context.Context, key string, ttl time.Duration) error

	// Close releases background resources.
	Close() error
}
