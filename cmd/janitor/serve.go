package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pingsantohq/janitor/internal/config"
	"github.com/pingsantohq/janitor/internal/engine"
	"github.com/pingsantohq/janitor/internal/logging"
	"github.com/pingsantohq/janitor/internal/metrics"
	"github.com/pingsantohq/janitor/internal/probe"
	"github.com/pingsantohq/janitor/internal/server"
)

const defaultShutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var (
		configPath string
		addr       string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the monitoring engine and its HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFromEnv(cmd.Context(), configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return serve(cmd.Context(), cfg, logging.New("serve"))
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to configuration file (default "+config.DefaultConfigPath+")")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, logger *log.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := metrics.NewStore()
	eng := engine.New(engineOptions(cfg, store)...)
	if err := eng.Start(runCtx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	srv := server.New(serverConfig(cfg), server.Dependencies{
		Logger:  logging.New("http"),
		Engine:  eng,
		Metrics: store,
	})

	grp, groupCtx := errgroup.WithContext(runCtx)
	grp.Go(func() error {
		logger.Printf("janitor listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	grp.Go(func() error {
		<-groupCtx.Done()
		logger.Println("shutdown signal received")
		timeout := cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Printf("graceful shutdown failed: %v", err)
		}

		eng.Stop()
		waitCtx, cancelWait := context.WithTimeout(context.Background(), timeout)
		defer cancelWait()
		if err := eng.Wait(waitCtx); err != nil {
			return fmt.Errorf("wait for monitors: %w", err)
		}
		return nil
	})

	if err := grp.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Println("janitor stopped")
	return nil
}

func engineOptions(cfg config.Config, store *metrics.Store) []engine.Option {
	proberOpts := []probe.Option{probe.WithTimeout(cfg.Engine.PingTimeout)}
	if rg := cfg.Engine.RateGovernance; rg.Enabled {
		proberOpts = append(proberOpts, probe.WithRate(rg.PingsPerSec, rg.Burst))
	}
	return []engine.Option{
		engine.WithOperatorSecret(cfg.Engine.OperatorSecret),
		engine.WithPingInterval(cfg.Engine.PingInterval),
		engine.WithPingTimeout(cfg.Engine.PingTimeout),
		engine.WithProber(probe.NewHTTPProber(proberOpts...)),
		engine.WithMetrics(store.EngineRecorder()),
	}
}

func serverConfig(cfg config.Config) server.Config {
	return server.Config{
		Addr:           cfg.Server.Addr,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		SinkBuffer:     cfg.Events.SinkBuffer,
		KeepAlive:      cfg.Events.KeepAlive,
		WSPingInterval: cfg.Events.WSPingInterval,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}
}
