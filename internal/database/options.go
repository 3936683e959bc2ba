package database

import (
	"time"

	"dbgate/internal/retry"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultDegradedThreshold is the ping latency from which a healthy
// backend is reported as degraded
const DefaultDegradedThreshold = 5 * time.Second

const tracerName = "dbgate/internal/database"

// Options defines client options
type Options struct {
	Logger            *zap.Logger
	Now               func() time.Time
	Sleep             retry.SleepFunc
	Observer          Observer
	Tracer            trace.Tracer
	DegradedThreshold time.Duration
	SlowQueryTime     time.Duration
}

// Option configures a Client
type Option func(*Options)

// WithLogger sets the client logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithClock replaces time.Now, for latency measurement and timestamps
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		o.Now = now
	}
}

// WithSleep replaces the backoff sleeper
func WithSleep(sleep retry.SleepFunc) Option {
	return func(o *Options) {
		o.Sleep = sleep
	}
}

// WithObserver registers an Observer for query outcomes and pool stats
func WithObserver(observer Observer) Option {
	return func(o *Options) {
		o.Observer = observer
	}
}

// WithTracer sets the OpenTelemetry tracer
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Options) {
		o.Tracer = tracer
	}
}

// WithDegradedThreshold sets the ping latency reported as degraded
func WithDegradedThreshold(d time.Duration) Option {
	return func(o *Options) {
		o.DegradedThreshold = d
	}
}

// WithSlowQueryTime sets the duration above which a query is logged as slow
func WithSlowQueryTime(d time.Duration) Option {
	return func(o *Options) {
		o.SlowQueryTime = d
	}
}

func buildOptions(opts []Option) Options {
	o := Options{}
	for _, opt := range opts {
		opt(&o)
	}

	// Set default options
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Sleep == nil {
		o.Sleep = retry.Sleep
	}
	if o.Tracer == nil {
		o.Tracer = otel.Tracer(tracerName)
	}
	if o.DegradedThreshold <= 0 {
		o.DegradedThreshold = DefaultDegradedThreshold
	}
	if o.SlowQueryTime <= 0 {
		o.SlowQueryTime = time.Second
	}
	return o
}
