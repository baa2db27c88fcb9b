package config

import "time"

// DefaultConfig returns the built-in defaults for every section.
func DefaultConfig() *Config {
	return &Config{
		Run:         DefaultRunConfig(),
		Coordinator: DefaultCoordinatorConfig(),
		Store:       DefaultStoreConfig(),
		Log:         DefaultLogConfig(),
		Telemetry:   DefaultTelemetryConfig(),
	}
}

// DefaultRunConfig returns the default run shape: a single rank stepping
// quickly so a bare invocation finishes in seconds.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		RunID:        "default",
		GroupSize:    1,
		Steps:        100,
		StepDuration: 10 * time.Millisecond,
	}
}

// DefaultCoordinatorConfig returns the default coordinator tuning.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		BarrierTimeout: 30 * time.Second,
		ReduceTimeout:  10 * time.Second,
		Signals:        []string{"SIGTERM"},
	}
}

// DefaultStoreConfig returns the default checkpoint backend: local files
// under ./checkpoints.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type: "file",
		Dir:  "checkpoints",
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			DB:        0,
			PoolSize:  10,
			KeyPrefix: "preemptflow:",
		},
		SQLitePath: "checkpoints.db",
	}
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: true,
	}
}

// DefaultTelemetryConfig returns the default telemetry configuration.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "preemptflow",
		SampleRate:   0.1,
	}
}
