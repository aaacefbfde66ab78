package dispatch

import (
	"fmt"
	"time"
)

// Config bounds one dispatch run.
type Config struct {
	// Concurrency is the ceiling on simultaneously running workers.
	Concurrency int

	// PerTaskTimeout bounds each worker's execution. Zero disables the
	// deadline, which leaves a hung target holding a slot forever.
	PerTaskTimeout time.Duration
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:    8,
		PerTaskTimeout: 5 * time.Minute,
	}
}

func (c Config) validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.PerTaskTimeout < 0 {
		return fmt.Errorf("per-task timeout must be >= 0, got %s", c.PerTaskTimeout)
	}
	return nil
}

// ProgressFunc receives aggregate progress after every reaped worker.
type ProgressFunc func(completed, total, failed int)

// Option customizes a Dispatcher at construction time.
type Option func(*Dispatcher)

// WithClassifier replaces the default result classifier.
func WithClassifier(fn ClassifyFunc) Option {
	return func(d *Dispatcher) { d.classify = fn }
}

// WithProgress installs a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(d *Dispatcher) { d.onProgress = fn }
}

// WithMetrics installs Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}
