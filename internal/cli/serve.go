package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/bamzi/jobrunner"
	"github.com/spf13/cobra"

	"github.com/apruden/wapplibre-server/internal/engine"
	"github.com/apruden/wapplibre-server/internal/pipeline"
	"github.com/apruden/wapplibre-server/internal/rpc"
)

// shutdownTimeout bounds the HTTP drain on shutdown.
const shutdownTimeout = 10 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the JSON-RPC server and the propagation worker",
		Long: `Run the JSON-RPC endpoint (POST /api) and the propagation worker.

On startup every schema file in --schema-dir is stored. Events are logged
and, when --webhook-url is set, POSTed to the webhook. SIGINT or SIGTERM
stop the server; the worker finishes the event in hand first.

Examples:
  wapplibre serve
  wapplibre serve --listen :8000 --data-dir /var/lib/wapplibre
  wapplibre serve --webhook-url http://localhost:9000/events --propagate-writes
  wapplibre serve --reconcile-schedule "@every 1h"`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), rootOpts.Config, nil)
		},
	}

	flags := cmd.Flags()
	flags.String(keyListen, "localhost:8000", "address to listen on")
	flags.StringSlice(keyCORSOrigins, []string{"http://localhost:5173"}, "origins allowed by CORS")
	flags.String(keyBodyLimit, "4M", "maximum request body size")
	flags.Bool(keyWatchSchemas, false, "reload schema files when they change")
	flags.Bool(keyPropagateWrites, false, "publish an entity.saved event for every saved entity")
	flags.String(keyWebhookURL, "", "POST every event to this URL")
	flags.Duration(keyWebhookTimeout, 10*time.Second, "webhook request timeout")
	flags.Int(keyWebhookRetries, 3, "webhook retries on transport errors and 5xx")
	flags.Int(keyBatchSize, engine.DefaultBatchSize, "events fetched per batch")
	flags.Duration(keyIdleTimeout, engine.DefaultIdleTimeout, "idle worker re-check interval")
	flags.Duration(keyErrorPause, engine.DefaultErrorPause, "pause after a failed batch")
	flags.String(keyReconcileSchedule, "", `cron expression for search reconciliation, e.g. "@every 1h"`)
	flags.Int(keyReconcileBatch, pipeline.DefaultReconcileBatch, "entities scanned per reconciliation page")

	return cmd
}

// newSink builds the propagation sink for cfg.
func newSink(cfg Config) engine.Sink {
	sinks := engine.MultiSink{engine.LogSink{}}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, engine.NewWebhookSink(cfg.WebhookURL, cfg.WebhookTimeout, cfg.WebhookRetries))
	}
	return sinks
}

// runServe runs the server until ctx is cancelled. ready, when set, is
// called with the listening address once requests are accepted.
func runServe(ctx context.Context, cfg Config, ready func(addr string)) error {
	a, err := openApp(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open stores", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("close failed", "error", err)
		}
	}()

	if _, err := a.registry.LoadDir(ctx, cfg.SchemaDir); err != nil {
		return WrapExitError(ExitCommandError, "failed to load schemas", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.WatchSchemas {
		if err := a.registry.Watch(ctx, cfg.SchemaDir); err != nil {
			slog.Warn("schema watch disabled", "dir", cfg.SchemaDir, "error", err)
		}
	}

	worker := engine.NewWorker(a.store, newSink(cfg), a.signal,
		engine.WithBatchSize(cfg.BatchSize),
		engine.WithIdleTimeout(cfg.IdleTimeout),
		engine.WithErrorPause(cfg.ErrorPause),
	)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := worker.Run(ctx); err != nil {
			slog.Error("propagation worker failed", "error", err)
		}
	}()

	if cfg.ReconcileSchedule != "" {
		jobrunner.Start()
		if err := jobrunner.Schedule(cfg.ReconcileSchedule, pipeline.NewReconcileJob(ctx, a.service, cfg.ReconcileBatch)); err != nil {
			jobrunner.Stop()
			cancel()
			<-workerDone
			return WrapExitError(ExitCommandError, fmt.Sprintf("invalid reconcile schedule %q", cfg.ReconcileSchedule), err)
		}
		defer jobrunner.Stop()
		slog.Info("reconciliation scheduled", "schedule", cfg.ReconcileSchedule)
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		cancel()
		<-workerDone
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}

	e := rpc.NewEcho(a.service, rpc.Config{
		AllowOrigins: cfg.CORSOrigins,
		BodyLimit:    cfg.BodyLimit,
	})
	e.Listener = ln

	serveErr := make(chan error, 1)
	go func() {
		if err := e.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	addr := ln.Addr().String()
	slog.Info("listening", "addr", addr)
	if ready != nil {
		ready(addr)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			runErr = WrapExitError(ExitCommandError, "server failed", err)
		}
	}

	slog.Info("shutting down")
	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer stop()
	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown failed", "error", err)
	}

	cancel()
	<-workerDone
	return runErr
}
