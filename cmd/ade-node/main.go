// ade-node is the decision engine server binary. With no arguments it
// serves the HTTP API; subcommands operate against a running node.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/arbiterlabs/ade/pkg/api"
	"github.com/arbiterlabs/ade/pkg/audit"
	"github.com/arbiterlabs/ade/pkg/config"
	"github.com/arbiterlabs/ade/pkg/engine"
	"github.com/arbiterlabs/ade/pkg/learner"
	"github.com/arbiterlabs/ade/pkg/memory"
	"github.com/arbiterlabs/ade/pkg/observability"
	"github.com/arbiterlabs/ade/pkg/scenario"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run dispatches subcommands; it exists so tests can drive the binary.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServer(stderr)
	}
	switch args[1] {
	case "server", "serve":
		return runServer(stderr)
	case "replay":
		return runReplayCmd(args[2:], stdout, stderr)
	case "health":
		return runHealthCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if strings.HasPrefix(args[1], "-") {
			return runServer(stderr)
		}
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "ade-node - adaptive decision engine")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  ade-node [server]              start the HTTP server (default)")
	fmt.Fprintln(w, "  ade-node replay <ref>          fetch a decision trace by id or replay token")
	fmt.Fprintln(w, "  ade-node replay -verify <ref>  re-run the decision and report determinism")
	fmt.Fprintln(w, "  ade-node health                check a running node")
	fmt.Fprintln(w, "  ade-node help                  show this help")
}

func runServer(stderr io.Writer) int {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "ade",
		ServiceVersion: engine.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.OTelEnabled,
		Insecure:       true,
	})
	if err != nil {
		fmt.Fprintf(stderr, "observability init failed: %v\n", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	auditStore, err := buildAuditStore(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "audit store init failed: %v\n", err)
		return 1
	}
	memoryStore, err := buildMemoryStore(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "memory store init failed: %v\n", err)
		return 1
	}

	eng, err := engine.New(engine.Config{
		AuditStore:       auditStore,
		MemoryStore:      memoryStore,
		Logger:           logger,
		Observability:    obs,
		RegisterBuiltins: true,
	})
	if err != nil {
		fmt.Fprintf(stderr, "engine init failed: %v\n", err)
		return 1
	}
	eng.Learners().Register(learner.SelectionHistoryLearner{})

	if cfg.ScenarioDir != "" {
		loaded, err := scenario.LoadDir(cfg.ScenarioDir)
		if err != nil {
			fmt.Fprintf(stderr, "scenario dir load failed: %v\n", err)
			return 1
		}
		for _, s := range loaded {
			if _, err := eng.Scenarios().Register(s); err != nil {
				fmt.Fprintf(stderr, "scenario register failed: %v\n", err)
				return 1
			}
			logger.Info("scenario registered", "scenario_id", s.ID, "version", s.Version)
		}
	}

	svc := api.NewService(eng, logger)
	limiter := api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           limiter.Middleware(svc.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "port", cfg.Port, "version", engine.Version)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		fmt.Fprintf(stderr, "server failed: %v\n", err)
		return 1
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(stderr, "shutdown failed: %v\n", err)
		return 1
	}
	eng.Close()
	return 0
}

func buildAuditStore(cfg *config.Config) (audit.Store, error) {
	switch cfg.AuditBackend {
	case "redis":
		return audit.NewRedisStore(cfg.RedisAddr, "", 0, 0), nil
	case "memory", "":
		return audit.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown audit backend %q", cfg.AuditBackend)
	}
}

func buildMemoryStore(cfg *config.Config) (memory.Store, error) {
	switch cfg.MemoryBackend {
	case "sqlite":
		return memory.NewSQLiteStore(cfg.SQLitePath)
	case "memory", "":
		return memory.NewInMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown memory backend %q", cfg.MemoryBackend)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
