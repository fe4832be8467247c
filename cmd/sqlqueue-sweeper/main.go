// Command sqlqueue-sweeper deletes expired messages from a queue table.
//
// It runs the sqlqueue expiration sweeper for one recipient outside the
// application process, for deployments where receivers should not issue
// DELETE statements for expired rows themselves. With -listen it also serves
// /healthz and Prometheus /metrics.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/velmie/sqlqueue"
	"github.com/velmie/sqlqueue/mysql"
	"github.com/velmie/sqlqueue/postgres"
	"github.com/velmie/sqlqueue/prom"
	"github.com/velmie/sqlqueue/sqlite"
)

const exitUsage = 2

const (
	driverMySQL    = "mysql"
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
)

type options struct {
	driver       string
	dsn          string
	table        string
	recipient    string
	interval     time.Duration
	batch        int
	once         bool
	ensureSchema bool
	listen       string
	logLevel     slog.Level
	otlpEndpoint string
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(exitUsage)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: opts.logLevel}))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, logger); err != nil {
		logger.Error("sweeper failed", "err", err)
		stop()
		os.Exit(1)
	}
}

func parseFlags(args []string, output io.Writer) (options, error) {
	var (
		opts     options
		logLevel string
	)

	fs := flag.NewFlagSet("sqlqueue-sweeper", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&opts.driver, "driver", driverMySQL, "Database driver: mysql, postgres or sqlite")
	fs.StringVar(&opts.dsn, "dsn", "", "Database DSN, or the database file path for sqlite")
	fs.StringVar(&opts.table, "table", "messages", "Queue table name")
	fs.StringVar(&opts.recipient, "recipient", "", "Queue address whose expired messages are deleted")
	fs.DurationVar(&opts.interval, "interval", sqlqueue.DefaultSweepInterval, "How often to sweep")
	fs.IntVar(&opts.batch, "batch", sqlqueue.DefaultSweepBatchSize, "Rows deleted per transaction")
	fs.BoolVar(&opts.once, "once", false, "Sweep once and exit")
	fs.BoolVar(&opts.ensureSchema, "ensure-schema", false, "Create the queue table if it does not exist")
	fs.StringVar(&opts.listen, "listen", "", "Address for /healthz and /metrics, e.g. :9090 (disabled when empty)")
	fs.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	fs.StringVar(&opts.otlpEndpoint, "otlp-endpoint", "", "OTLP/HTTP traces endpoint URL (tracing disabled when empty)")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	level, err := parseLogLevel(logLevel)
	if err != nil {
		return usageError(fs, output, err)
	}
	opts.logLevel = level

	switch {
	case opts.dsn == "":
		return usageError(fs, output, errors.New("dsn is required"))
	case opts.recipient == "":
		return usageError(fs, output, errors.New("recipient is required"))
	case opts.batch <= 0:
		return usageError(fs, output, errors.New("batch must be positive"))
	case opts.interval <= 0:
		return usageError(fs, output, errors.New("interval must be positive"))
	}
	switch opts.driver {
	case driverMySQL, driverPostgres, driverSQLite:
	default:
		return usageError(fs, output, fmt.Errorf("unsupported driver %q", opts.driver))
	}

	return opts, nil
}

func usageError(fs *flag.FlagSet, output io.Writer, err error) (options, error) {
	fmt.Fprintln(output, err)
	fs.Usage()

	return options{}, err
}

func parseLogLevel(value string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", value)
	}

	return level, nil
}

func run(ctx context.Context, opts options, logger *slog.Logger) error {
	if opts.otlpEndpoint != "" {
		shutdown, err := initTracing(ctx, opts.otlpEndpoint, logger)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("tracing shutdown failed", "err", err)
			}
		}()
	}

	db, err := openDB(ctx, opts)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	registry := prometheus.NewRegistry()
	transport, err := newTransport(db, opts,
		sqlqueue.WithLogger(logger),
		sqlqueue.WithMetrics(prom.New(registry, "sqlqueue")),
	)
	if err != nil {
		return fmt.Errorf("init transport: %w", err)
	}

	if opts.ensureSchema {
		if err := transport.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	sweeper, err := sqlqueue.NewSweeper(transport,
		sqlqueue.WithSweepInterval(opts.interval),
		sqlqueue.WithSweepBatchSize(opts.batch),
	)
	if err != nil {
		return fmt.Errorf("init sweeper: %w", err)
	}

	if opts.once {
		removed, err := sweeper.SweepOnce(ctx)
		if err != nil {
			return fmt.Errorf("sweep: %w", err)
		}
		logger.Info("sweep done", "recipient", opts.recipient, "removed", removed)

		return nil
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("run sweeper: %w", err)
		}

		return nil
	})
	if opts.listen != "" {
		server := newServer(opts.listen, db, transport, registry, opts.otlpEndpoint != "")
		group.Go(func() error {
			logger.Info("serving", "addr", opts.listen)

			return serve(ctx, server)
		})
	}

	return group.Wait()
}

func openDB(ctx context.Context, opts options) (*sql.DB, error) {
	switch opts.driver {
	case driverSQLite:
		return sqlite.Open(ctx, opts.dsn)
	case driverPostgres:
		return sql.Open("pgx", opts.dsn)
	default:
		return sql.Open("mysql", opts.dsn)
	}
}

func newTransport(db *sql.DB, opts options, transportOpts ...sqlqueue.Option) (*sqlqueue.Transport, error) {
	switch opts.driver {
	case driverSQLite:
		return sqlite.New(db, opts.recipient, sqlite.WithTable(opts.table), sqlite.WithTransportOptions(transportOpts...))
	case driverPostgres:
		return postgres.New(db, opts.recipient, postgres.WithTable(opts.table), postgres.WithTransportOptions(transportOpts...))
	default:
		return mysql.New(db, opts.recipient, mysql.WithTable(opts.table), mysql.WithTransportOptions(transportOpts...))
	}
}
