// Package ledger records the latest known lifecycle status per carrier call
// id. Status callbacks arrive over the network with no ordering guarantee,
// so the ledger only accepts transitions that move forward in the lifecycle
// partial order; stale updates are discarded and logged rather than allowed
// to regress the session view.
package ledger

import (
	"context"
	"time"
)

// Status is a call lifecycle marker.
type Status int

const (
	StatusInitiated Status = iota
	StatusRinging
	StatusInProgress
	StatusCompleted
	StatusFailed
	StatusEscalated
)

func (s Status) String() string {
	switch s {
	case StatusInitiated:
		return "INITIATED"
	case StatusRinging:
		return "RINGING"
	case StatusInProgress:
		return "IN_PROGRESS"
	case StatusCompleted:
		return "COMPLETED"
	case StatusFailed:
		return "FAILED"
	case StatusEscalated:
		return "ESCALATED"
	default:
		return "UNKNOWN"
	}
}

// ParseStatus maps a carrier callback status string to a Status. Carrier
// vocabularies vary; unknown strings map to ok=false.
func ParseStatus(raw string) (Status, bool) {
	switch raw {
	case "initiated", "queued", "INITIATED":
		return StatusInitiated, true
	case "ringing", "RINGING":
		return StatusRinging, true
	case "in-progress", "answered", "IN_PROGRESS":
		return StatusInProgress, true
	case "completed", "COMPLETED":
		return StatusCompleted, true
	case "failed", "busy", "no-answer", "canceled", "FAILED":
		return StatusFailed, true
	case "escalated", "ESCALATED":
		return StatusEscalated, true
	default:
		return StatusInitiated, false
	}
}

// rank positions a status in the forward partial order
// INITIATED < RINGING < IN_PROGRESS < {COMPLETED, FAILED, ESCALATED}.
// Terminal states share a rank: once terminal, nothing moves.
func (s Status) rank() int {
	switch s {
	case StatusInitiated:
		return 0
	case StatusRinging:
		return 1
	case StatusInProgress:
		return 2
	default:
		return 3
	}
}

// Terminal reports whether no further transition is accepted after s,
// other than an equal-rank overwrite of the same status.
func (s Status) Terminal() bool {
	return s.rank() == 3
}

// Entry is one accepted status write.
type Entry struct {
	Status     Status            `json:"status"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	RecordedAt time.Time         `json:"recorded_at"`
}

// Ledger is the contract shared by the in-memory and Redis implementations.
// Duplicate and out-of-order writes are expected traffic, not errors: Record
// reports acceptance, it never fails on a stale update.
type Ledger interface {
	// Record appends a status for callID if it moves forward in the
	// partial order. Returns true when accepted. A duplicate of the
	// current status is accepted (idempotent re-delivery) but a
	// lower-ranked status is discarded.
	Record(ctx context.Context, callID string, status Status, metadata map[string]string) (bool, error)

	// Current returns the latest accepted status for callID.
	Current(ctx context.Context, callID string) (Status, error)

	// History returns accepted entries for callID in write order.
	History(ctx context.Context, callID string) ([]Entry, error)

	// Close releases resources.
	Close() error
}
