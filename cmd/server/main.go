package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gyaneshwarpardhi/actionkit/internal/api"
	"github.com/gyaneshwarpardhi/actionkit/internal/config"
	"github.com/gyaneshwarpardhi/actionkit/internal/destination"
	"github.com/gyaneshwarpardhi/actionkit/internal/destination/webhook"
	"github.com/gyaneshwarpardhi/actionkit/internal/engine"
	"github.com/gyaneshwarpardhi/actionkit/internal/fql"
	"github.com/gyaneshwarpardhi/actionkit/internal/routing"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd wires flags and ACTIONKIT_* environment overrides through viper.
func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("ACTIONKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "actionkit",
		Short:         "Route analytics events to partner destinations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setupLogging(v.GetString("log-level"))
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(v.GetString("addr"), v.GetString("config"))
		},
	}
	root.PersistentFlags().String("config", "configs/actionkit.yaml", "Path to destinations YAML config")
	root.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	root.Flags().String("addr", ":8080", "HTTP listen address")
	_ = v.BindPFlags(root.PersistentFlags())
	_ = v.BindPFlags(root.Flags())

	root.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load the config and build every destination without serving",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return validate(cmd, v.GetString("config"))
		},
	})
	return root
}

func setupLogging(level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
	return nil
}

func newRegistry() *destination.Registry {
	reg := destination.NewRegistry()
	reg.Register(webhook.New())
	return reg
}

func retryBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	return b
}

func validate(cmd *cobra.Command, path string) error {
	loader, err := config.NewLoader(path, nil)
	if err != nil {
		return err
	}
	t, err := routing.Build(loader.Config(), newRegistry(), routing.BuildOptions{})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "config %s ok: %d destinations, %d subscriptions\n",
		path, len(t.Routes()), t.SubscriptionCount())
	return nil
}

func serve(addr, cfgPath string) error {
	// ── Load config ──────────────────────────────────────────────────────────
	loader, err := config.NewLoader(cfgPath, slog.Default())
	if err != nil {
		return err
	}
	cfg := loader.Config()

	// ── Build initial routing table ───────────────────────────────────────────
	queries, err := fql.NewCache(cfg.Engine.FQLCacheSize)
	if err != nil {
		return fmt.Errorf("fql cache: %w", err)
	}
	reg := newRegistry()
	opts := routing.BuildOptions{Logger: slog.Default(), Backoff: retryBackoff, Queries: queries}

	t, err := routing.Build(cfg, reg, opts)
	if err != nil {
		return fmt.Errorf("build routing table: %w", err)
	}
	slog.Info("routing table built", "destinations", len(t.Routes()), "subscriptions", t.SubscriptionCount())

	// ── Engine ────────────────────────────────────────────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng := engine.New(ctx, t, cfg.Engine, slog.Default())

	// ── Hot-reload ────────────────────────────────────────────────────────────
	loader.OnChange(func(next *config.Config) error {
		nt, err := routing.Build(next, reg, opts)
		if err != nil {
			return err
		}
		eng.SwapTable(nt)
		slog.Info("routing table hot-reloaded", "destinations", len(nt.Routes()), "subscriptions", nt.SubscriptionCount())
		return nil
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.New(eng, loader, queries, slog.Default()),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errC := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errC <- err
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errC:
		return fmt.Errorf("server: %w", err)
	}
	slog.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	eng.Shutdown()
	cancel()
	slog.Info("goodbye")
	return nil
}
