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

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/analytics/internal/handler"
	appI18n "github.com/pavelanni/analytics/internal/i18n"
	"github.com/pavelanni/analytics/internal/metrics"
	"github.com/pavelanni/analytics/internal/observability"
	"github.com/pavelanni/analytics/internal/source"
)

func main() {
	_ = godotenv.Load()
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "analytics",
		Short:        "Learning-analytics metrics service",
		SilenceUsage: true,
	}

	serve := serveCmd()
	root.AddCommand(serve, recomputeCmd(), exportCmd(), contractCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `analytics --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the analytics HTTP server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8000", "HTTP listen address")
	f.Duration("shutdown-timeout", 10*time.Second, "Grace period for in-flight requests on shutdown")
	addStoreFlags(cmd)
	addSourceFlags(cmd)
	addCommonFlags(cmd)
	return cmd
}

func addStoreFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("store", "sqlite", "Metrics store backend (sqlite, redis)")
	f.String("db", "analytics.db", "SQLite database path")
	f.String("redis-addr", "localhost:6379", "Redis address for --store=redis")
	f.String("redis-prefix", "analytics", "Key prefix for --store=redis")
}

func addSourceFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("source-url", "http://localhost:5000/api/v1", "Activity component API base URL")
	f.Duration("source-timeout", source.DefaultTimeout, "Timeout for each activity component request")
	f.Int("concurrency", metrics.DefaultConcurrency, "Parallel computations for instance-wide requests")
}

func addCommonFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("lang", "l", "en", "Default message language (en, pt)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("ANALYTICS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("analytics")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/analytics")
	v.AddConfigPath("/etc/analytics")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func newEngine(v *viper.Viper, st backend, obs *observability.Metrics) *metrics.Engine {
	src := source.NewClient(v.GetString("source-url"), v.GetDuration("source-timeout"), obs)
	return metrics.NewEngine(src, st, metrics.Config{
		Concurrency: v.GetInt("concurrency"),
		Metrics:     obs,
	})
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	st, err := openStore(v)
	if err != nil {
		return err
	}
	defer st.Close()

	obs := observability.New()
	engine := newEngine(v, st, obs)
	h := handler.New(engine, metrics.NewContracts(st), st, obs)

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Three sequential upstream fetches plus fan-out for instance requests.
		WriteTimeout: 3*v.GetDuration("source-timeout") + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", addr,
			"store", v.GetString("store"),
			"source_url", v.GetString("source-url"),
			"source_timeout", v.GetDuration("source-timeout"),
			"concurrency", v.GetInt("concurrency"),
			"lang", lang,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), v.GetDuration("shutdown-timeout"))
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
