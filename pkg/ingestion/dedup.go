package ingestion

import (
	"sync"
	"time"

	"github.com/lucid-vigil/secops/pkg/types"
)

// deduplicator drops records a source already delivered within a window.
// Polling sources that return overlapping time ranges hand back the same
// record ids; only the first delivery goes downstream.
type deduplicator struct {
	seen   map[string]map[string]time.Time // source id -> record id -> first seen
	window time.Duration
	mu     sync.Mutex
}

func newDeduplicator(window time.Duration) *deduplicator {
	return &deduplicator{
		seen:   make(map[string]map[string]time.Time),
		window: window,
	}
}

// filter returns the records not seen within the window and the number
// dropped. Expired entries for the source are pruned on the way.
func (d *deduplicator) filter(sourceID string, records []types.RawRecord, now time.Time) ([]types.RawRecord, int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	seen, ok := d.seen[sourceID]
	if !ok {
		seen = make(map[string]time.Time)
		d.seen[sourceID] = seen
	}

	cutoff := now.Add(-d.window)
	for id, at := range seen {
		if !at.After(cutoff) {
			delete(seen, id)
		}
	}

	kept := records[:0:0]
	dropped := 0
	for _, r := range records {
		if _, dup := seen[r.ID]; dup {
			dropped++
			continue
		}
		seen[r.ID] = now
		kept = append(kept, r)
	}
	return kept, dropped
}

func (d *deduplicator) forget(sourceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, sourceID)
}
