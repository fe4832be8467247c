package sqlqueue

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultMaxConcurrentReceives is the default number of receives allowed in flight per transport.
	DefaultMaxConcurrentReceives = 20

	tracerName = "github.com/velmie/sqlqueue"
)

// Config defines Transport behavior.
type Config struct {
	Clock                 Clock
	Logger                Logger
	Metrics               Metrics
	Codec                 HeaderCodec
	Tracer                trace.Tracer
	Throttle              *Throttle
	MaxConcurrentReceives int
}

func (c Config) withDefaults() Config {
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}
	if c.Codec == nil {
		c.Codec = MsgpackCodec{}
	}
	if c.Tracer == nil {
		c.Tracer = otel.Tracer(tracerName)
	}
	if c.MaxConcurrentReceives <= 0 {
		c.MaxConcurrentReceives = DefaultMaxConcurrentReceives
	}
	if c.Throttle == nil {
		c.Throttle = NewThrottle(c.MaxConcurrentReceives)
	}

	return c
}

// Option configures a Transport.
type Option func(*Config)

// WithClock sets the time source used for visibility and expiration.
func WithClock(clock Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithLogger sets the transport logger.
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics Metrics) Option {
	return func(c *Config) {
		c.Metrics = metrics
	}
}

// WithCodec sets the header codec. The default is MsgpackCodec.
func WithCodec(codec HeaderCodec) Option {
	return func(c *Config) {
		c.Codec = codec
	}
}

// WithTracer sets the OpenTelemetry tracer. The default comes from the global provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Config) {
		c.Tracer = tracer
	}
}

// WithMaxConcurrency sets how many receives may be in flight at once.
// It is ignored when WithThrottle is used.
func WithMaxConcurrency(limit int) Option {
	return func(c *Config) {
		c.MaxConcurrentReceives = limit
	}
}

// WithThrottle shares an existing throttle between transports.
func WithThrottle(throttle *Throttle) Option {
	return func(c *Config) {
		c.Throttle = throttle
	}
}
