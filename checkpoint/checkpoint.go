// Package checkpoint provides durable checkpoint records for coordinated
// job termination: a Store interface with memory, file, Redis and SQLite
// backends, and the Gate that decides resume-at-start and commits the single
// triggered record per run. The state payload inside a record is opaque to
// this package; only the storage envelope is JSON.
package checkpoint

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound reports that no checkpoint record exists for the run.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStoreClosed reports an operation on a closed store.
	ErrStoreClosed = errors.New("checkpoint store is closed")

	// ErrInvalidRecord reports a record missing required fields.
	ErrInvalidRecord = errors.New("invalid checkpoint record")
)

// Record is one durable snapshot of shared job progress, sufficient for the
// next run to resume. Exactly one record per run directory is authoritative
// as "latest".
type Record struct {
	ID        string         `json:"id"`
	RunID     string         `json:"run_id"`
	Rank      int            `json:"rank"`
	Step      int64          `json:"step"`
	State     map[string]any `json:"state"`
	CreatedAt time.Time      `json:"created_at"`
}

// Store is the durable storage consumed by the Gate. Put must be
// atomic-on-success: a reader never observes a partially written record, and
// a failed write leaves the previous latest record authoritative.
type Store interface {
	// Put persists a record and makes it the latest for its run.
	Put(ctx context.Context, rec *Record) error

	// Latest returns the most recent record for the run, or ErrNotFound.
	// Side-effect-free and idempotent.
	Latest(ctx context.Context, runID string) (*Record, error)

	// Ping checks that the store is healthy.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}

func validate(rec *Record) error {
	if rec == nil || rec.RunID == "" {
		return ErrInvalidRecord
	}
	return nil
}
