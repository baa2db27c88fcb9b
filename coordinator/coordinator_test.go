package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/preemptflow/checkpoint"
	"github.com/BaSui01/preemptflow/collective"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BarrierTimeout = time.Second
	cfg.ReduceTimeout = time.Second
	return cfg
}

// countingComm wraps a communicator and counts reduce calls.
type countingComm struct {
	collective.Communicator

	mu      sync.Mutex
	reduces int
}

func (c *countingComm) ReduceMax(ctx context.Context, local float64) (float64, error) {
	c.mu.Lock()
	c.reduces++
	c.mu.Unlock()
	return c.Communicator.ReduceMax(ctx, local)
}

func TestCoordinatorQuietRun(t *testing.T) {
	group := collective.NewGroup(1)
	c := New(testConfig(), group.Member(0), zap.NewNop())
	ctx := context.Background()

	c.OnRunBegin(ctx)
	assert.Equal(t, StateRunning, c.State())
	assert.False(t, c.Degraded())

	for step := int64(1); step <= 5; step++ {
		d := c.OnStepEnd(ctx, step)
		assert.False(t, d.ShouldSave)
		assert.False(t, d.ShouldStop)
	}

	c.OnRunEnd(ctx)
	assert.Equal(t, StateStopped, c.State())
	assert.False(t, c.Triggered())
}

// The headline scenario: four ranks step in lockstep, one receives a
// termination request, and every rank flips to save-and-stop at the same
// step with exactly one checkpoint written for the group.
func TestCoordinatorGroupConsensus(t *testing.T) {
	const (
		size          = 4
		interruptStep = int64(10)
		runID         = "run-consensus"
	)

	group := collective.NewGroup(size)
	store := checkpoint.NewMemoryStore()
	ctx := context.Background()

	var (
		mu           sync.Mutex
		triggerSteps = make(map[int]int64)
	)

	var eg errgroup.Group
	for rank := 0; rank < size; rank++ {
		rank := rank
		eg.Go(func() error {
			c := New(testConfig(), group.Member(rank), zap.NewNop())
			gate := checkpoint.NewGate(store, runID, rank, zap.NewNop())
			c.OnRunBegin(ctx)

			for step := int64(1); step <= 20; step++ {
				if rank == 2 && step == interruptStep {
					c.Latch().Trigger()
				}

				d := c.OnStepEnd(ctx, step)
				if !d.ShouldStop {
					continue
				}

				mu.Lock()
				triggerSteps[rank] = step
				mu.Unlock()

				started := time.Now()
				rec, err := gate.Commit(ctx, step, map[string]any{"step": step}, c.Degraded())
				if err != nil {
					return err
				}
				c.OnCheckpointWritten(rec, time.Since(started))
				break
			}

			c.OnRunEnd(ctx)
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	require.Len(t, triggerSteps, size, "every rank must flip")
	for rank, step := range triggerSteps {
		assert.Equal(t, interruptStep, step, "rank %d flipped at the wrong step", rank)
	}

	// One canonical record for the whole group.
	assert.Equal(t, 1, store.Count(runID))

	rec, err := store.Latest(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, interruptStep, rec.Step)
	assert.Equal(t, 0, rec.Rank)

	// The next run resumes from step 10, not from cold.
	resumed, err := checkpoint.NewGate(store, runID, 0, zap.NewNop()).Resume(ctx)
	require.NoError(t, err)
	require.NotNil(t, resumed)
	assert.Equal(t, interruptStep, resumed.Step)
}

func TestCoordinatorInactiveCommDegrades(t *testing.T) {
	c := New(testConfig(), collective.Inactive(), zap.NewNop())
	ctx := context.Background()

	c.OnRunBegin(ctx)
	assert.True(t, c.Degraded())

	d := c.OnStepEnd(ctx, 1)
	assert.False(t, d.ShouldStop)

	c.Latch().Trigger()
	d = c.OnStepEnd(ctx, 2)
	assert.True(t, d.ShouldSave)
	assert.True(t, d.ShouldStop)
	assert.Equal(t, StateSaveRequested, c.State())
}

func TestCoordinatorDegradesOnReduceFailure(t *testing.T) {
	// Rank 1 never arrives: the bounded reduce fails and the coordinator
	// falls back to the local flag instead of hanging or treating the
	// failure as a shutdown signal.
	group := collective.NewGroup(2)
	cfg := testConfig()
	cfg.ReduceTimeout = 50 * time.Millisecond

	c := New(cfg, group.Member(0), zap.NewNop())
	ctx := context.Background()
	c.cell = collective.NewCell()
	c.latch.Bind(c.cell)

	d := c.OnStepEnd(ctx, 1)
	assert.True(t, c.Degraded())
	assert.False(t, d.ShouldStop, "a comm failure is not a shutdown signal")

	c.Latch().Trigger()
	d = c.OnStepEnd(ctx, 2)
	assert.True(t, d.ShouldStop)
}

func TestCoordinatorDecisionSticky(t *testing.T) {
	group := collective.NewGroup(1)
	comm := &countingComm{Communicator: group.Member(0)}
	c := New(testConfig(), comm, zap.NewNop())
	ctx := context.Background()

	c.OnRunBegin(ctx)
	c.Latch().Trigger()

	d := c.OnStepEnd(ctx, 3)
	require.True(t, d.ShouldStop)

	reducesAtTrigger := comm.reduces
	for step := int64(4); step <= 6; step++ {
		d = c.OnStepEnd(ctx, step)
		assert.True(t, d.ShouldSave)
		assert.True(t, d.ShouldStop)
	}
	assert.Equal(t, reducesAtTrigger, comm.reduces,
		"no collective calls after the trigger")
	assert.Equal(t, StateSaveRequested, c.State())
}

func TestCoordinatorDoubleTriggerNoop(t *testing.T) {
	group := collective.NewGroup(1)
	c := New(testConfig(), group.Member(0), zap.NewNop())
	ctx := context.Background()

	c.OnRunBegin(ctx)
	c.Latch().Trigger()
	c.Latch().Trigger()

	d := c.OnStepEnd(ctx, 1)
	assert.True(t, d.ShouldStop)

	// A second signal after the trigger changes nothing.
	c.Latch().Trigger()
	d = c.OnStepEnd(ctx, 2)
	assert.Equal(t, StepDecision{ShouldSave: true, ShouldStop: true}, d)
	assert.Equal(t, StateSaveRequested, c.State())
}

func TestCoordinatorRunEndIdempotent(t *testing.T) {
	group := collective.NewGroup(1)
	c := New(testConfig(), group.Member(0), zap.NewNop())
	ctx := context.Background()

	c.OnRunBegin(ctx)
	c.OnRunEnd(ctx)
	c.OnRunEnd(ctx)
	assert.Equal(t, StateStopped, c.State())
}

func TestCoordinatorStateNeverRegresses(t *testing.T) {
	group := collective.NewGroup(1)
	c := New(testConfig(), group.Member(0), zap.NewNop())
	ctx := context.Background()

	c.OnRunBegin(ctx)
	c.OnRunEnd(ctx)
	require.Equal(t, StateStopped, c.State())

	// A late trigger must not move the machine backwards.
	c.Latch().Trigger()
	c.trigger(99)
	assert.Equal(t, StateStopped, c.State())
}

func TestCoordinatorReportsCheckpoint(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	group := collective.NewGroup(1)
	c := New(testConfig(), group.Member(0), zap.New(core))

	c.OnCheckpointWritten(nil, time.Millisecond)

	rec := &checkpoint.Record{ID: "ckpt-1", Step: 7}
	c.OnCheckpointWritten(rec, time.Millisecond)

	var saw bool
	for _, e := range logs.All() {
		if e.Message == "checkpoint written" {
			saw = true
		}
	}
	assert.True(t, saw)
}
