package ingestion

import (
	"github.com/lucid-vigil/secops/pkg/types"
)

// DefaultBufferCapacity bounds each per-source buffer unless configured.
const DefaultBufferCapacity = 1000

// recordBuffer keeps the newest records of one source, dropping the oldest
// once capacity is exceeded. Callers hold the stage lock.
type recordBuffer struct {
	capacity int
	records  []types.RawRecord
}

func newRecordBuffer(capacity int) *recordBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &recordBuffer{capacity: capacity}
}

// append adds records and returns how many old ones were dropped.
func (b *recordBuffer) append(records []types.RawRecord) int {
	b.records = append(b.records, records...)
	over := len(b.records) - b.capacity
	if over <= 0 {
		return 0
	}
	kept := make([]types.RawRecord, b.capacity)
	copy(kept, b.records[over:])
	b.records = kept
	return over
}

func (b *recordBuffer) snapshot() []types.RawRecord {
	out := make([]types.RawRecord, len(b.records))
	copy(out, b.records)
	return out
}
