// Package coordinator drives the group-consistent termination of one rank
// of a parallel job. It hooks into the owning execution loop at the step
// boundary, turns independently delivered per-rank interrupts into a single
// group-wide save-and-stop decision through a max-reduce of the consensus
// cell, and guarantees the decision fires exactly once per run.
package coordinator

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/preemptflow/checkpoint"
	"github.com/BaSui01/preemptflow/collective"
	"github.com/BaSui01/preemptflow/internal/metrics"
	"github.com/BaSui01/preemptflow/interrupt"
	"github.com/BaSui01/preemptflow/reporter"
)

// State is the coordinator lifecycle state. Transitions are monotonic:
// running → save_requested → stopped, never backwards.
type State string

const (
	StateRunning       State = "running"
	StateSaveRequested State = "save_requested"
	StateStopped       State = "stopped"
)

// order maps states to their position in the lifecycle for the
// monotonicity guard.
func (s State) order() int {
	switch s {
	case StateSaveRequested:
		return 1
	case StateStopped:
		return 2
	default:
		return 0
	}
}

// StepDecision is returned to the execution loop at every step boundary.
// Both fields flip to true together at the triggering step and stay true
// for the remainder of the run.
type StepDecision struct {
	ShouldSave bool
	ShouldStop bool
}

// Config holds coordinator tuning.
type Config struct {
	// BarrierTimeout bounds the start-line barrier. On expiry the run
	// proceeds in degraded (local-only) mode instead of hanging.
	BarrierTimeout time.Duration `json:"barrier_timeout" yaml:"barrier_timeout" env:"BARRIER_TIMEOUT"`

	// ReduceTimeout bounds each per-step consensus reduce.
	ReduceTimeout time.Duration `json:"reduce_timeout" yaml:"reduce_timeout" env:"REDUCE_TIMEOUT"`

	// MetricsNamespace enables the Prometheus collector when non-empty.
	MetricsNamespace string `json:"metrics_namespace" yaml:"metrics_namespace" env:"METRICS_NAMESPACE"`

	// Signals are the termination-request signals to latch. Defaults to
	// interrupt.DefaultSignals.
	Signals []os.Signal `json:"-" yaml:"-"`
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		BarrierTimeout: 30 * time.Second,
		ReduceTimeout:  10 * time.Second,
	}
}

// Coordinator owns the per-rank termination state machine. The coordination
// logic itself is single-threaded (called from the owning loop); the only
// concurrent writer is the interrupt latch, which touches nothing but
// atomics.
type Coordinator struct {
	cfg     Config
	comm    collective.Communicator
	latch   *interrupt.Latch
	cell    *collective.Cell
	rep     *reporter.Reporter
	metrics *metrics.Collector
	logger  *zap.Logger

	triggered atomic.Bool
	degraded  atomic.Bool

	degradeOnce   sync.Once
	interruptOnce sync.Once

	mu       sync.Mutex
	state    State
	decision StepDecision
	lastStep int64
}

// New creates a coordinator for one rank. The communicator decides group
// membership; an inactive communicator yields a local-only coordinator.
func New(cfg Config, comm collective.Communicator, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BarrierTimeout <= 0 {
		cfg.BarrierTimeout = DefaultConfig().BarrierTimeout
	}
	if cfg.ReduceTimeout <= 0 {
		cfg.ReduceTimeout = DefaultConfig().ReduceTimeout
	}

	logger = logger.With(
		zap.String("component", "coordinator"),
		zap.Int("rank", comm.Rank()),
	)

	c := &Coordinator{
		cfg:    cfg,
		comm:   comm,
		latch:  interrupt.New(logger),
		rep:    reporter.New(comm.Rank(), logger),
		logger: logger,
		state:  StateRunning,
	}
	if cfg.MetricsNamespace != "" {
		c.metrics = metrics.NewCollector(cfg.MetricsNamespace, logger)
	}
	return c
}

// OnRunBegin brings this rank to the start line. In order: group barrier
// (bounded, degrading instead of hanging), consensus cell allocation, latch
// install. The barrier puts the handler install at a well-defined point
// relative to every other rank's execution.
func (c *Coordinator) OnRunBegin(ctx context.Context) {
	if !c.comm.Active() {
		c.degrade(collective.ErrUnavailable)
	} else {
		bctx, cancel := context.WithTimeout(ctx, c.cfg.BarrierTimeout)
		err := c.comm.Barrier(bctx)
		cancel()
		if err != nil {
			c.recordBarrier("error")
			c.degrade(err)
		} else {
			c.recordBarrier("ok")
		}
	}

	c.cell = collective.NewCell()
	c.latch.Bind(c.cell)
	c.latch.Install(c.cfg.Signals...)
}

// OnStepEnd is called by the execution loop at every step boundary and
// returns the sticky save/stop decision. In group mode it performs exactly
// one reduce per call on every rank; the loop must call it the same number
// of times in the same order everywhere, or the group deadlocks. Once
// triggered, no further collective calls are made and the decision is
// returned unchanged.
func (c *Coordinator) OnStepEnd(ctx context.Context, step int64) StepDecision {
	c.mu.Lock()
	c.lastStep = step
	c.mu.Unlock()

	if c.triggered.Load() {
		return c.Decision()
	}

	if c.latch.Triggered() {
		c.interruptOnce.Do(func() {
			c.rep.InterruptSeen()
			if c.metrics != nil {
				c.metrics.RecordInterrupt()
			}
		})
	}

	signaled := false
	if c.degraded.Load() {
		signaled = c.latch.Triggered()
	} else {
		rctx, cancel := context.WithTimeout(ctx, c.cfg.ReduceTimeout)
		start := time.Now()
		combined, err := c.comm.ReduceMax(rctx, c.cell.Value())
		cancel()
		if err != nil {
			c.recordReduce("error", time.Since(start))
			c.degrade(err)
			// Local-only fallback: a communication failure must not look
			// identical to a group-wide shutdown signal.
			signaled = c.latch.Triggered()
		} else {
			c.recordReduce("ok", time.Since(start))
			signaled = combined >= 1
			if signaled {
				c.rep.ConsensusReached(step)
			}
		}
	}

	if signaled {
		c.trigger(step)
	}
	return c.Decision()
}

// trigger flips the one-shot guard and the state machine to save_requested.
// A second interrupt or a second true reduce is a no-op.
func (c *Coordinator) trigger(step int64) {
	if c.triggered.Swap(true) {
		return
	}

	c.mu.Lock()
	c.decision = StepDecision{ShouldSave: true, ShouldStop: true}
	c.mu.Unlock()

	c.setState(StateSaveRequested)
	c.rep.SaveTriggered(step)
}

// OnCheckpointWritten is called by the execution loop after the triggered
// checkpoint commit. Purely observational. rec is nil on ranks that did not
// perform the storage write.
func (c *Coordinator) OnCheckpointWritten(rec *checkpoint.Record, took time.Duration) {
	if c.metrics != nil {
		c.metrics.RecordCheckpointWrite("ok", took)
	}
	if rec != nil {
		c.rep.CheckpointWritten(rec.ID, rec.Step, took)
	}
}

// OnRunEnd finishes the run: the state machine reaches stopped and the
// latch is released. Idempotent.
func (c *Coordinator) OnRunEnd(ctx context.Context) {
	c.setState(StateStopped)
	c.mu.Lock()
	step := c.lastStep
	c.mu.Unlock()
	c.rep.Stopped(step)
	c.latch.Stop()
}

// degrade switches permanently to local-only signal handling. Logged and
// reported once.
func (c *Coordinator) degrade(reason error) {
	c.degradeOnce.Do(func() {
		c.degraded.Store(true)
		c.logger.Warn("collective coordination unavailable, honoring local interrupt flag only",
			zap.Error(reason))
		c.rep.DegradedMode(reason)
		if c.metrics != nil {
			c.metrics.SetDegraded(true)
		}
	})
}

// setState advances the state machine, never backwards.
func (c *Coordinator) setState(to State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if to.order() <= c.state.order() {
		return
	}
	from := c.state
	c.state = to
	if c.metrics != nil {
		c.metrics.RecordStateTransition(string(from), string(to))
	}
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Decision returns the current sticky step decision.
func (c *Coordinator) Decision() StepDecision {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.decision
}

// Degraded reports whether this rank fell back to local-only handling.
func (c *Coordinator) Degraded() bool {
	return c.degraded.Load()
}

// Triggered reports whether the one-shot save guard has fired.
func (c *Coordinator) Triggered() bool {
	return c.triggered.Load()
}

// Latch exposes the local interrupt latch, e.g. for manual triggering.
func (c *Coordinator) Latch() *interrupt.Latch {
	return c.latch
}

// Reporter exposes the rank-0 status reporter so the run loop can narrate
// events the coordinator does not see, such as resume.
func (c *Coordinator) Reporter() *reporter.Reporter {
	return c.rep
}

// Rank returns this coordinator's rank within the group.
func (c *Coordinator) Rank() int {
	return c.comm.Rank()
}

func (c *Coordinator) recordBarrier(status string) {
	if c.metrics != nil {
		c.metrics.RecordBarrier(status)
	}
}

func (c *Coordinator) recordReduce(status string, took time.Duration) {
	if c.metrics != nil {
		c.metrics.RecordReduce(status, took)
	}
}
