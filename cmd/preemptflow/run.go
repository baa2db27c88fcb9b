package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/preemptflow/checkpoint"
	"github.com/BaSui01/preemptflow/collective"
	"github.com/BaSui01/preemptflow/config"
	"github.com/BaSui01/preemptflow/coordinator"
	"github.com/BaSui01/preemptflow/internal/telemetry"
	"github.com/BaSui01/preemptflow/interrupt"
)

// runRun launches the simulated multi-rank job: every rank steps in
// lockstep through the in-process group, and a SIGTERM (or trigger file)
// lands as one coordinated save-and-stop.
func runRun(args []string) int {
	cfg, err := loadConfig("run", args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting preemptflow",
		zap.String("version", Version),
		zap.String("run_id", cfg.Run.RunID),
		zap.Int("group_size", cfg.Run.GroupSize),
		zap.Int64("steps", cfg.Run.Steps),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelProviders.Shutdown(ctx)
	}()

	store, err := openStore(cfg.Store, logger)
	if err != nil {
		logger.Error("failed to open checkpoint store", zap.Error(err))
		return 1
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Ping(ctx); err != nil {
		logger.Error("checkpoint store unreachable", zap.Error(err))
		return 1
	}

	signals, err := cfg.Coordinator.ParseSignals()
	if err != nil {
		logger.Error("invalid signal configuration", zap.Error(err))
		return 1
	}

	group := collective.NewGroup(cfg.Run.GroupSize)

	var eg errgroup.Group
	for rank := 0; rank < cfg.Run.GroupSize; rank++ {
		rank := rank
		eg.Go(func() error {
			coordCfg := coordinator.Config{
				BarrierTimeout: cfg.Coordinator.BarrierTimeout,
				ReduceTimeout:  cfg.Coordinator.ReduceTimeout,
				Signals:        signals,
			}
			// One Prometheus registration per process.
			if rank == 0 {
				coordCfg.MetricsNamespace = cfg.Coordinator.MetricsNamespace
			}
			return runRank(ctx, cfg, coordCfg, group.Member(rank), store, logger)
		})
	}

	if err := eg.Wait(); err != nil {
		logger.Error("run failed", zap.Error(err))
		return 1
	}

	logger.Info("preemptflow stopped")
	return 0
}

// runRank drives one rank's step loop from resume to stop.
func runRank(
	ctx context.Context,
	cfg *config.Config,
	coordCfg coordinator.Config,
	comm collective.Communicator,
	store checkpoint.Store,
	logger *zap.Logger,
) error {
	rank := comm.Rank()

	c := coordinator.New(coordCfg, comm, logger)
	gate := checkpoint.NewGate(store, cfg.Run.RunID, rank, logger)

	rec, err := gate.Resume(ctx)
	if err != nil {
		return fmt.Errorf("rank %d: %w", rank, err)
	}
	startStep, resumedStep := int64(1), int64(-1)
	if rec != nil {
		startStep = rec.Step + 1
		resumedStep = rec.Step
	}

	c.OnRunBegin(ctx)
	defer c.OnRunEnd(ctx)

	// One latch picking up the marker is enough; consensus spreads it to
	// the rest of the group at the next step boundary.
	if rank == 0 && cfg.Run.TriggerFile != "" {
		watcher, err := interrupt.NewFileWatcher(cfg.Run.TriggerFile, c.Latch(), logger)
		if err != nil {
			return fmt.Errorf("rank %d: %w", rank, err)
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("rank %d: %w", rank, err)
		}
		defer watcher.Stop()
	}

	c.Reporter().RunStarted(comm.Size(), resumedStep)

	for step := startStep; step <= cfg.Run.Steps; step++ {
		workStep(cfg.Run.StepDuration)

		d := c.OnStepEnd(ctx, step)
		if !d.ShouldSave {
			continue
		}

		started := time.Now()
		rec, err := gate.Commit(ctx, step, map[string]any{
			"step": step,
			"rank": rank,
		}, c.Degraded())
		if err != nil {
			// An acknowledged preemption with no durable checkpoint is
			// lost progress; surface it as a run failure.
			return fmt.Errorf("rank %d: %w", rank, err)
		}
		c.OnCheckpointWritten(rec, time.Since(started))

		if d.ShouldStop {
			break
		}
	}

	return nil
}

// workStep stands in for one step of real computation.
func workStep(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}
