package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/velmie/sqlqueue"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

type health struct {
	Status    string `json:"status"`
	Recipient string `json:"recipient"`
	Pending   int    `json:"pending"`
	Error     string `json:"error,omitempty"`
}

func newRouter(db *sql.DB, transport *sqlqueue.Transport, registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		resp := health{Status: "ok", Recipient: transport.Address()}
		status := http.StatusOK

		pending, err := checkHealth(req.Context(), db, transport)
		if err != nil {
			resp.Status = "unavailable"
			resp.Error = err.Error()
			status = http.StatusServiceUnavailable
		}
		resp.Pending = pending

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	})
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	return r
}

func checkHealth(ctx context.Context, db *sql.DB, transport *sqlqueue.Transport) (int, error) {
	if err := db.PingContext(ctx); err != nil {
		return 0, err
	}

	return transport.PendingCount(ctx)
}

func newServer(addr string, db *sql.DB, transport *sqlqueue.Transport, registry *prometheus.Registry, traced bool) *http.Server {
	handler := newRouter(db, transport, registry)
	if traced {
		handler = otelhttp.NewHandler(handler, "sqlqueue-sweeper")
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// serve runs server until ctx is done and then shuts it down gracefully.
func serve(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
