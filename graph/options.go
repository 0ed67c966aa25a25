package graph

import (
	"time"

	"github.com/loomgraph/loom/log"
)

// DefaultMaxSteps is the per-invocation step cap applied when WithMaxSteps is
// not given. Generous enough for real workloads, small enough to stop a
// runaway conditional cycle.
const DefaultMaxSteps = 1000

// Option configures a compiled Runnable.
type Option func(*Runnable)

// WithMaxSteps overrides the per-invocation step cap. Values below one are
// ignored.
func WithMaxSteps(n int) Option {
	return func(r *Runnable) {
		if n > 0 {
			r.maxSteps = n
		}
	}
}

// WithLogger sets the logger used by the engine.
func WithLogger(logger log.Logger) Option {
	return func(r *Runnable) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics attaches a metrics collector. Without it execution is not
// instrumented.
func WithMetrics(m Metrics) Option {
	return func(r *Runnable) {
		r.metrics = m
	}
}

// WithClock overrides the time source used for snapshot timestamps. Tests use
// it to get deterministic CreatedAt values.
func WithClock(now func() time.Time) Option {
	return func(r *Runnable) {
		if now != nil {
			r.now = now
		}
	}
}

// WithIDGenerator overrides the snapshot ID source. Tests use it to get
// predictable identifiers.
func WithIDGenerator(gen func() string) Option {
	return func(r *Runnable) {
		if gen != nil {
			r.newID = gen
		}
	}
}
