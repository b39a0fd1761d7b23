package ledger

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// ErrNotFound is returned when no status has been recorded for a call id.
var ErrNotFound = errors.New("ledger: call not found")

type record struct {
	current Status
	history []Entry
}

// MemoryLedger is the in-process Ledger used in single-node deployments and
// in tests.
type MemoryLedger struct {
	mu      sync.RWMutex
	records map[string]*record
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{records: make(map[string]*record)}
}

func (l *MemoryLedger) Record(ctx context.Context, callID string, status Status, metadata map[string]string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.records[callID]
	if !ok {
		r = &record{current: status}
		l.records[callID] = r
		r.history = append(r.history, Entry{Status: status, Metadata: metadata, RecordedAt: time.Now()})
		return true, nil
	}

	if status.rank() < r.current.rank() || (r.current.Terminal() && status != r.current) {
		// Out-of-order callback (network jitter) or a write after the
		// call already finished. Discard, keep the newer view.
		log.Printf("[Ledger] Discarding stale status %s for call %s (current %s)",
			status, callID, r.current)
		return false, nil
	}

	if status == r.current {
		return true, nil
	}

	r.current = status
	r.history = append(r.history, Entry{Status: status, Metadata: metadata, RecordedAt: time.Now()})
	return true, nil
}

func (l *MemoryLedger) Current(ctx context.Context, callID string) (Status, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	r, ok := l.records[callID]
	if !ok {
		return StatusInitiated, ErrNotFound
	}
	return r.current, nil
}

func (l *MemoryLedger) History(ctx context.Context, callID string) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	r, ok := l.records[callID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]Entry, len(r.history))
	copy(out, r.history)
	return out, nil
}

func (l *MemoryLedger) Close() error {
	return nil
}

var _ Ledger = (*MemoryLedger)(nil)
