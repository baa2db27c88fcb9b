package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full process configuration.
type Config struct {
	// Run identifies this job run.
	Run RunConfig `yaml:"run" env:"RUN"`

	// Coordinator tunes the termination coordinator.
	Coordinator CoordinatorConfig `yaml:"coordinator" env:"COORDINATOR"`

	// Store selects and tunes the checkpoint backend.
	Store StoreConfig `yaml:"store" env:"STORE"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry configures OTLP export.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// RunConfig identifies the run and its simulated shape.
type RunConfig struct {
	// RunID names the run; checkpoint records are scoped to it.
	RunID string `yaml:"run_id" env:"RUN_ID"`
	// GroupSize is the number of ranks launched in-process.
	GroupSize int `yaml:"group_size" env:"GROUP_SIZE"`
	// Steps bounds the run when no termination request arrives.
	Steps int64 `yaml:"steps" env:"STEPS"`
	// StepDuration is the simulated work per step.
	StepDuration time.Duration `yaml:"step_duration" env:"STEP_DURATION"`
	// TriggerFile, when set, latches a termination request as soon as the
	// file appears. Some schedulers announce preemption this way instead
	// of (or before) sending a signal.
	TriggerFile string `yaml:"trigger_file" env:"TRIGGER_FILE"`
}

// CoordinatorConfig tunes the per-rank coordinator.
type CoordinatorConfig struct {
	// BarrierTimeout bounds the start-line barrier.
	BarrierTimeout time.Duration `yaml:"barrier_timeout" env:"BARRIER_TIMEOUT"`
	// ReduceTimeout bounds each per-step consensus reduce.
	ReduceTimeout time.Duration `yaml:"reduce_timeout" env:"REDUCE_TIMEOUT"`
	// Signals names the termination signals to latch, e.g. SIGTERM.
	Signals []string `yaml:"signals" env:"SIGNALS"`
	// MetricsNamespace enables Prometheus collection when non-empty.
	MetricsNamespace string `yaml:"metrics_namespace" env:"METRICS_NAMESPACE"`
}

// ParseSignals maps the configured signal names to os signals. Unknown
// names are an error so a typo does not silently disable latching.
func (c *CoordinatorConfig) ParseSignals() ([]os.Signal, error) {
	signals := make([]os.Signal, 0, len(c.Signals))
	for _, name := range c.Signals {
		switch strings.ToUpper(strings.TrimSpace(name)) {
		case "SIGTERM", "TERM":
			signals = append(signals, syscall.SIGTERM)
		case "SIGINT", "INT":
			signals = append(signals, syscall.SIGINT)
		case "SIGUSR1", "USR1":
			signals = append(signals, syscall.SIGUSR1)
		case "SIGUSR2", "USR2":
			signals = append(signals, syscall.SIGUSR2)
		default:
			return nil, fmt.Errorf("unknown signal name %q", name)
		}
	}
	return signals, nil
}

// StoreConfig selects the checkpoint backend.
type StoreConfig struct {
	// Type is one of memory, file, redis, sqlite.
	Type string `yaml:"type" env:"TYPE"`
	// Dir is the base directory for the file backend.
	Dir string `yaml:"dir" env:"DIR"`
	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string `yaml:"sqlite_path" env:"SQLITE_PATH"`
	// Redis tunes the redis backend.
	Redis RedisConfig `yaml:"redis" env:"REDIS"`
}

// RedisConfig holds redis connection settings.
type RedisConfig struct {
	Addr      string `yaml:"addr" env:"ADDR"`
	Password  string `yaml:"password" env:"PASSWORD"`
	DB        int    `yaml:"db" env:"DB"`
	PoolSize  int    `yaml:"pool_size" env:"POOL_SIZE"`
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is json or console.
	Format string `yaml:"format" env:"FORMAT"`
	// OutputPaths are zap output sinks.
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// EnableCaller annotates entries with the call site.
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
}

// TelemetryConfig configures OTLP trace and metric export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Loader assembles a Config with builder-style options.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the PREEMPTFLOW env prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "PREEMPTFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file to load. A missing file is not an
// error; defaults and environment still apply.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator appends a validation hook run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration: defaults, then file, then environment,
// then validators.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// setFieldsFromEnv walks the struct and overrides fields whose env key
// (prefix + "_" + tag, nested structs joined the same way) is set.
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// Comma-separated string slices only.
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads from path and panics on failure. For main() wiring only.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	var errs []string

	if c.Run.RunID == "" {
		errs = append(errs, "run_id must not be empty")
	}
	if c.Run.GroupSize < 1 {
		errs = append(errs, "group_size must be at least 1")
	}
	if c.Run.Steps < 1 {
		errs = append(errs, "steps must be at least 1")
	}

	switch c.Store.Type {
	case "memory", "redis":
	case "file":
		if c.Store.Dir == "" {
			errs = append(errs, "store.dir required for the file backend")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, "store.sqlite_path required for the sqlite backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown store type %q", c.Store.Type))
	}

	if _, err := c.Coordinator.ParseSignals(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
