package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	slogcontext "github.com/veqryn/slog-context"
	"golang.org/x/sync/errgroup"

	v1 "ocm.software/open-component-model/pluginhub/configuration/v1"
	"ocm.software/open-component-model/pluginhub/internal/bundle"
	"ocm.software/open-component-model/pluginhub/internal/fetch"
	"ocm.software/open-component-model/pluginhub/internal/plugin"
	"ocm.software/open-component-model/pluginhub/internal/retry"
	"ocm.software/open-component-model/pluginhub/internal/server"
	"ocm.software/open-component-model/pluginhub/internal/staging"
	"ocm.software/open-component-model/pluginhub/internal/store"
	"ocm.software/open-component-model/pluginhub/internal/workerpool"
	"ocm.software/open-component-model/pluginhub/runtime/local"
)

const addressFlag = "address"

// NewServeCommand returns the command that runs the HTTP service.
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the plugin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := v1.GetConfigForCommand(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed(addressFlag) {
				cfg.Server.Address, _ = cmd.Flags().GetString(addressFlag)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return Serve(slogcontext.NewCtx(ctx, slog.Default()), cfg, nil)
		},
	}
	cmd.Flags().String(addressFlag, "", "listen address, overrides server.address")
	return cmd
}

// Serve runs the service until ctx is done. If ready is not nil it receives the bound
// listen address once the server accepts connections.
func Serve(ctx context.Context, cfg *v1.Config, ready chan<- string) error {
	logger := slogcontext.FromCtx(ctx)

	records, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()
	client := store.NewClient(records)

	pool := workerpool.NewWorkerPool(workerpool.PoolOptions{
		WorkerCount: cfg.IOPool.Workers,
		QueueSize:   cfg.IOPool.QueueSize,
		Logger:      logr.FromSlogHandler(logger.Handler()),
	})

	cache := bundle.New(bundle.Options{
		Directory:        staging.NewDirectory(cfg.Bundle.Directory, "pluginhub-bundle-*"),
		Executor:         pool,
		RetainSuperseded: cfg.Bundle.RetainSuperseded,
	})
	defer func() {
		if err := cache.Close(); err != nil {
			logger.WarnContext(ctx, "failed to remove bundle directory", "error", err)
		}
	}()

	runtime, err := local.New(local.Options{
		Client:            client,
		PluginsDirectory:  cfg.Runtime.PluginsDirectory,
		PresetsDirectory:  cfg.Runtime.PresetsDirectory,
		ReconcileInterval: cfg.Runtime.ReconcileInterval.Value(),
		Policy:            policy(cfg.Retry.StateToggle),
		Executor:          pool,
	})
	if err != nil {
		return err
	}

	svc := plugin.New(plugin.Options{
		Client:  client,
		Runtime: runtime,
		Fetcher: fetch.New(fetch.Options{Timeout: cfg.Fetch.Timeout.Value()}),
		Bundles: cache,
		Staging: staging.Options{
			Dir:      cfg.Staging.Directory,
			Pattern:  cfg.Staging.Pattern,
			Executor: pool,
		},
		Policies: plugin.Policies{
			Convergence:  policy(cfg.Convergence),
			StateToggle:  policy(cfg.Retry.StateToggle),
			ConfigUpdate: policy(cfg.Retry.ConfigUpdate),
			ConfigReset:  policy(cfg.Retry.ConfigReset),
		},
	})

	listener, err := net.Listen("tcp", cfg.Server.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Address, err)
	}
	httpServer := &http.Server{
		Handler:           server.New(server.Options{Service: svc, Logger: logger}),
		ReadHeaderTimeout: 10 * time.Second,
		// requests keep running after ctx is cancelled; Shutdown drains them
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	// the pool outlives the HTTP server so that in-flight requests can finish their I/O
	poolCtx, stopPool := context.WithCancel(context.WithoutCancel(ctx))
	defer stopPool()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pool.Start(poolCtx)
	})
	g.Go(func() error {
		return runtime.Run(gctx)
	})
	g.Go(func() error {
		logger.InfoContext(ctx, "serving plugin API", "address", listener.Addr().String())
		if ready != nil {
			ready <- listener.Addr().String()
		}
		if err := httpServer.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		defer stopPool()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout.Value())
		defer cancel()
		logger.InfoContext(ctx, "shutting down")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg v1.Store) (store.Store, func(), error) {
	switch cfg.Driver {
	case v1.DriverPostgres:
		pg, err := store.Connect(ctx, store.PostgresOptions{DSN: cfg.DSN, MaxConns: cfg.MaxConns})
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	default:
		return store.NewMemory(), func() {}, nil
	}
}

func policy(r v1.Retry) retry.Policy {
	return retry.Policy{Attempts: r.Attempts, Delay: r.Delay.Value(), Multiplier: r.Multiplier}
}
