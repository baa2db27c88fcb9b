// Package reporter narrates coordinator transitions from the leader rank.
// It is purely observational: every method is a no-op off rank 0, and
// removing the reporter changes no correctness property of a run.
package reporter

import (
	"time"

	"go.uber.org/zap"
)

// Reporter emits human-observable status for one rank of a job.
type Reporter struct {
	rank   int
	logger *zap.Logger
}

// New creates a reporter for the given rank.
func New(rank int, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{
		rank:   rank,
		logger: logger.With(zap.String("component", "reporter"), zap.Int("rank", rank)),
	}
}

func (r *Reporter) leader() bool { return r.rank == 0 }

// RunStarted reports that the coordinator passed the start line.
func (r *Reporter) RunStarted(groupSize int, resumedStep int64) {
	if !r.leader() {
		return
	}
	if resumedStep >= 0 {
		r.logger.Info("run started from checkpoint",
			zap.Int("group_size", groupSize),
			zap.Int64("resumed_step", resumedStep),
		)
		return
	}
	r.logger.Info("run started cold", zap.Int("group_size", groupSize))
}

// InterruptSeen reports that the local latch observed a termination request.
func (r *Reporter) InterruptSeen() {
	if !r.leader() {
		return
	}
	r.logger.Warn("termination request latched")
}

// ConsensusReached reports that the group-wide reduce observed a signal.
func (r *Reporter) ConsensusReached(step int64) {
	if !r.leader() {
		return
	}
	r.logger.Info("group consensus: termination requested", zap.Int64("step", step))
}

// SaveTriggered reports the one-shot save decision.
func (r *Reporter) SaveTriggered(step int64) {
	if !r.leader() {
		return
	}
	r.logger.Info("save-and-stop triggered", zap.Int64("step", step))
}

// CheckpointWritten reports a completed checkpoint commit.
func (r *Reporter) CheckpointWritten(id string, step int64, took time.Duration) {
	if !r.leader() {
		return
	}
	r.logger.Info("checkpoint written",
		zap.String("checkpoint_id", id),
		zap.Int64("step", step),
		zap.Duration("took", took),
	)
}

// DegradedMode reports the fall back to local-only signal handling.
func (r *Reporter) DegradedMode(reason error) {
	if !r.leader() {
		return
	}
	r.logger.Warn("degraded to local-only signal handling; ranks may stop unevenly",
		zap.Error(reason))
}

// Stopped reports the final transition out of the run loop.
func (r *Reporter) Stopped(step int64) {
	if !r.leader() {
		return
	}
	r.logger.Info("run stopped", zap.Int64("step", step))
}
