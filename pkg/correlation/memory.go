package correlation

import (
	"context"
	"log"
	"sync"
	"time"
)

// janitorInterval controls how often expired entries are swept.
const janitorInterval = 30 * time.Second

type entry struct {
	snap      *Snapshot
	expiresAt time.Time
}

// MemoryStore is the in-process Store used in single-node deployments and
// in tests. Aliased keys share one snapshot, so a write through either key
// is visible through both.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*entry

	cancel chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	// now is swappable for tests
	now func() time.Time
}

// NewMemoryStore creates a store and starts its eviction janitor.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*entry),
		cancel:  make(chan struct{}),
		now:     time.Now,
	}

	s.wg.Add(1)
	go s.janitor()

	return s
}

func (s *MemoryStore) Put(ctx context.Context, key string, snap *Snapshot, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	stored := snap.Clone()
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[key]; ok && s.now().Before(existing.expiresAt) {
		if stored.UpdatedAt.Before(existing.snap.UpdatedAt) {
			log.Printf("[CorrelationStore] Rejecting stale write for key %s (incoming %v < stored %v)",
				key, stored.UpdatedAt, existing.snap.UpdatedAt)
			return ErrStaleWrite
		}
	}

	s.entries[key] = &entry{snap: stored, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok || !s.now().Before(e.expiresAt) {
		return nil, ErrNotFound
	}
	return e.snap.Clone(), nil
}

func (s *MemoryStore) Reindex(ctx context.Context, oldKey, newKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[oldKey]
	if !ok || !s.now().Before(e.expiresAt) {
		return ErrNotFound
	}

	if e.snap.CarrierCallID == newKey {
		if _, aliased := s.entries[newKey]; aliased {
			return nil
		}
	}

	e.snap.CarrierCallID = newKey
	e.snap.UpdatedAt = s.now()

	// Alias: both keys point at the same entry until TTL eviction.
	s.entries[newKey] = e

	log.Printf("[CorrelationStore] Reindexed %s -> %s", oldKey, newKey)
	return nil
}

func (s *MemoryStore) Touch(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || !s.now().Before(e.expiresAt) {
		return ErrNotFound
	}
	e.expiresAt = s.now().Add(ttl)
	return nil
}

// Close stops the janitor. Pending entries are dropped.
func (s *MemoryStore) Close() error {
	s.once.Do(func() {
		close(s.cancel)
	})
	s.wg.Wait()
	return nil
}

// Len reports live (non-expired) entries, for health endpoints.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	now := s.now()
	for _, e := range s.entries {
		if now.Before(e.expiresAt) {
			n++
		}
	}
	return n
}

func (s *MemoryStore) janitor() {
	defer s.wg.Done()

	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.cancel:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, e := range s.entries {
		if now.Before(e.expiresAt) {
			continue
		}
		// An entry that expired without ever learning its carrier call id
		// is a lost call: the callback never arrived. Report, don't retry.
		if e.snap.CarrierCallID == "" && key == e.snap.TriggerID {
			log.Printf("[CorrelationStore] Lost call: trigger %s expired unresolved", key)
		}
		delete(s.entries, key)
	}
}

var _ Store = (*MemoryStore)(nil)
