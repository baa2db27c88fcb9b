package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Gate owns the two storage-facing decisions of a run: whether to resume
// from a prior record at start, and the single triggered commit at the save
// boundary. The commit guard is independent of the coordinator's trigger
// guard, so a double trigger is a no-op at both layers.
type Gate struct {
	store     Store
	runID     string
	rank      int
	committed atomic.Bool
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewGate creates a gate for one rank of one run.
func NewGate(store Store, runID string, rank int, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		store:  store,
		runID:  runID,
		rank:   rank,
		logger: logger.With(zap.String("component", "checkpoint_gate"), zap.Int("rank", rank)),
		tracer: otel.Tracer("preemptflow/checkpoint"),
	}
}

// Resume returns the latest durable record for the run, or nil for a cold
// start. Side-effect-free and idempotent: calling it twice yields the same
// record.
func (g *Gate) Resume(ctx context.Context) (*Record, error) {
	rec, err := g.store.Latest(ctx, g.runID)
	if errors.Is(err, ErrNotFound) {
		g.logger.Info("no prior checkpoint, cold start")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resume lookup: %w", err)
	}

	g.logger.Info("resuming from checkpoint",
		zap.String("checkpoint_id", rec.ID),
		zap.Int64("step", rec.Step),
	)
	return rec, nil
}

// Commit persists the triggered record, at most once per run. In group mode
// only rank 0 performs the storage write, so the group commits one canonical
// record; in degraded mode every rank writes its own copy into the same
// atomic slot, where the last rename wins. The returned record is nil when
// this rank did not write. A storage error is returned to the caller and is
// fatal there: an acknowledged preemption with no durable checkpoint means
// lost progress.
func (g *Gate) Commit(ctx context.Context, step int64, state map[string]any, degraded bool) (*Record, error) {
	if g.committed.Swap(true) {
		g.logger.Debug("checkpoint already committed, ignoring trigger", zap.Int64("step", step))
		return nil, nil
	}

	if g.rank != 0 && !degraded {
		// Rank 0 writes the canonical record for the group.
		return nil, nil
	}

	ctx, span := g.tracer.Start(ctx, "checkpoint.commit",
		trace.WithAttributes(
			attribute.String("run_id", g.runID),
			attribute.Int("rank", g.rank),
			attribute.Int64("step", step),
		),
	)
	defer span.End()

	rec := &Record{
		ID:        uuid.New().String(),
		RunID:     g.runID,
		Rank:      g.rank,
		Step:      step,
		State:     state,
		CreatedAt: time.Now().UTC(),
	}

	if err := g.store.Put(ctx, rec); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("commit checkpoint at step %d: %w", step, err)
	}

	g.logger.Info("checkpoint committed",
		zap.String("checkpoint_id", rec.ID),
		zap.Int64("step", step),
		zap.Bool("degraded", degraded),
	)
	return rec, nil
}

// Committed reports whether this rank has already consumed its one commit.
func (g *Gate) Committed() bool {
	return g.committed.Load()
}
