package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mirkobrombin/go-lockstep/v1/config"
)

const shutdownTimeout = 5 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(runCtx, cfg, logger, cmd.OutOrStdout())
		},
	}
}

// setupTracing installs a stdout span exporter and returns its shutdown.
func setupTracing(w io.Writer) (func(context.Context) error, error) {
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, traceOut io.Writer) error {
	if cfg.Tracing.Stdout {
		shutdown, err := setupTracing(traceOut)
		if err != nil {
			return err
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	d, err := newDaemon(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := d.close(); err != nil {
			logger.Warn("lockstep: shutdown", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:              cfg.HTTP.Bind,
		Handler:           d.handler(),
		ReadHeaderTimeout: 5 * time.Second,
		// Watch streams end when the daemon stops.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("lockstep: listening", "addr", cfg.HTTP.Bind, "relay", cfg.Relay.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
