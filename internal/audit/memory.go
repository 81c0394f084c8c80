package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRecorder keeps records in memory for tests and embedded use.
type MemoryRecorder struct {
	mu      sync.Mutex
	records []Record

	// FailNext forces the next Record call to return this error, letting
	// tests exercise the audit-failure rollback path.
	FailNext error
}

// NewMemoryRecorder constructs an empty in-memory recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

// Record appends the entry.
func (r *MemoryRecorder) Record(ctx context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailNext != nil {
		err := r.FailNext
		r.FailNext = nil
		return err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	r.records = append(r.records, rec)
	return nil
}

// Records returns a copy of everything recorded so far.
func (r *MemoryRecorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.records...)
}

var _ Recorder = (*MemoryRecorder)(nil)
