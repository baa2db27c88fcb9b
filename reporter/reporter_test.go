package reporter

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedReporter(rank int) (*Reporter, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return New(rank, zap.New(core)), logs
}

func emitAll(r *Reporter) {
	r.RunStarted(4, -1)
	r.InterruptSeen()
	r.ConsensusReached(10)
	r.SaveTriggered(10)
	r.CheckpointWritten("ckpt-1", 10, time.Millisecond)
	r.DegradedMode(errors.New("partition"))
	r.Stopped(10)
}

func TestReporterLeaderNarrates(t *testing.T) {
	r, logs := newObservedReporter(0)
	emitAll(r)
	assert.Equal(t, 7, logs.Len())
}

func TestReporterNonLeaderIsSilent(t *testing.T) {
	r, logs := newObservedReporter(3)
	emitAll(r)
	assert.Zero(t, logs.Len(), "only rank 0 narrates")
}

func TestReporterResumedRun(t *testing.T) {
	r, logs := newObservedReporter(0)
	r.RunStarted(2, 42)

	entries := logs.All()
	assert.Len(t, entries, 1)
	assert.Contains(t, entries[0].Message, "from checkpoint")
}

func TestReporterNilLogger(t *testing.T) {
	r := New(0, nil)
	// Must not panic.
	emitAll(r)
}
