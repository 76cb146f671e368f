package dedupe

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process deduper. Entries expire after the TTL; expired
// entries are swept lazily on each call to keep the map bounded.
type Memory struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

// NewMemory creates an in-memory deduper.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Memory{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Seen implements billing.Deduper. It only reads; Mark records.
func (d *Memory) Seen(_ context.Context, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.sweep()
	_, ok := d.seen[eventID]
	return ok, nil
}

// Mark implements billing.Deduper.
func (d *Memory) Mark(_ context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.sweep()
	d.seen[eventID] = d.now()
	return nil
}

// sweep drops expired entries. Callers hold d.mu.
func (d *Memory) sweep() {
	cutoff := d.now().Add(-d.ttl)
	for id, at := range d.seen {
		if at.Before(cutoff) {
			delete(d.seen, id)
		}
	}
}
