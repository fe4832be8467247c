package postgres

import (
	"database/sql"

	"github.com/velmie/sqlqueue"
)

const defaultTable = "messages"

// Config defines PostgreSQL transport behavior.
type Config struct {
	Table     string
	Isolation sql.IsolationLevel
	Transport []sqlqueue.Option
}

func (c Config) withDefaults() Config {
	if c.Table == "" {
		c.Table = defaultTable
	}
	if c.Isolation == sql.LevelDefault {
		c.Isolation = sql.LevelReadCommitted
	}

	return c
}

// Option configures the PostgreSQL transport.
type Option func(*Config)

// WithTable sets the message table name. Use schema.table for a non-default schema.
func WithTable(name string) Option {
	return func(c *Config) {
		c.Table = name
	}
}

// WithIsolation overrides the READ COMMITTED isolation used for provider transactions.
func WithIsolation(level sql.IsolationLevel) Option {
	return func(c *Config) {
		c.Isolation = level
	}
}

// WithTransportOptions passes options through to sqlqueue.NewTransport.
func WithTransportOptions(opts ...sqlqueue.Option) Option {
	return func(c *Config) {
		c.Transport = append(c.Transport, opts...)
	}
}
