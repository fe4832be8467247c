package sqlite

import (
	"time"

	"github.com/velmie/sqlqueue"
)

const (
	defaultTable       = "messages"
	defaultBusyTimeout = 5 * time.Second
)

// Config defines SQLite transport behavior.
type Config struct {
	Table       string
	BusyTimeout time.Duration
	Transport   []sqlqueue.Option
}

func (c Config) withDefaults() Config {
	if c.Table == "" {
		c.Table = defaultTable
	}
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = defaultBusyTimeout
	}

	return c
}

// Option configures the SQLite transport.
type Option func(*Config)

// WithTable sets the message table name.
func WithTable(name string) Option {
	return func(c *Config) {
		c.Table = name
	}
}

// WithBusyTimeout sets how long Open waits on a locked database.
func WithBusyTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.BusyTimeout = timeout
	}
}

// WithTransportOptions passes options through to sqlqueue.NewTransport.
func WithTransportOptions(opts ...sqlqueue.Option) Option {
	return func(c *Config) {
		c.Transport = append(c.Transport, opts...)
	}
}
