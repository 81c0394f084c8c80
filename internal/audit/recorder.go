// Package audit is the engine's write-only sink: every attempted and
// completed mutation produces a structured record before the caller sees a
// response.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Outcome distinguishes completions from guardrail denials.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeDenied    Outcome = "denied"
	OutcomeFailed    Outcome = "failed"
)

// Record is a single audit entry.
type Record struct {
	ID            string
	ActorID       int64
	Operation     string
	Entity        string
	EntityID      string
	Outcome       Outcome
	Predicate     string
	Reason        string
	Meta          map[string]any
	ClientContext string
	At            time.Time
}

// Recorder durably persists audit records. A Record error is fatal for the
// mutation being audited.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// PGRecorder writes records into audit_logs.
type PGRecorder struct {
	pool *pgxpool.Pool
}

// NewPGRecorder returns a PostgreSQL-backed recorder.
func NewPGRecorder(pool *pgxpool.Pool) *PGRecorder {
	return &PGRecorder{pool: pool}
}

// Record persists the entry.
func (r *PGRecorder) Record(ctx context.Context, rec Record) error {
	if r == nil || r.pool == nil {
		return errors.New("audit recorder not initialised")
	}
	if rec.Operation == "" || rec.Entity == "" {
		return errors.New("audit record requires operation and entity")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	metaJSON, err := json.Marshal(rec.Meta)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO audit_logs (id, actor_id, operation, entity, entity_id, outcome, predicate, reason, meta, client_context, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.ActorID, rec.Operation, rec.Entity, rec.EntityID,
		rec.Outcome, rec.Predicate, rec.Reason, metaJSON, rec.ClientContext, rec.At)
	return err
}

var _ Recorder = (*PGRecorder)(nil)
