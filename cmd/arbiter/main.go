// Package main is the entry point for the arbiter binary: a policy decision
// server and a one-shot evaluation CLI.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/arbiterhq/arbiter/pkg/config"
	"github.com/arbiterhq/arbiter/pkg/domain"
	"github.com/arbiterhq/arbiter/pkg/engine"
	"github.com/arbiterhq/arbiter/pkg/engine/memo"
	"github.com/arbiterhq/arbiter/pkg/host"
	"github.com/arbiterhq/arbiter/pkg/logging"
	"github.com/arbiterhq/arbiter/pkg/server"
	"github.com/arbiterhq/arbiter/pkg/storage"
	"github.com/arbiterhq/arbiter/pkg/telemetry"
	"github.com/arbiterhq/arbiter/pkg/value"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "arbiter",
		Short: "Deterministic policy decision engine",
		Long: `Arbiter evaluates declarative policies over caller-supplied facts and
returns explainable three-valued decisions.

The serve command runs the HTTP decision server over a watched directory of
policy packs; the eval command evaluates a single pack once and prints the
decisions.`,
	}
	rootCmd.AddCommand(newServeCmd(), newEvalCmd())
	return rootCmd
}

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the decision server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Default()
			if configPath != "" {
				var err error
				cfg, err = config.LoadFile(configPath)
				if err != nil {
					return err
				}
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (YAML)")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config) error {
	logging.Setup(cfg.Logging)
	logger := logging.NewLogger(cfg.Logging)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTracing, err := telemetry.SetupProvider(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown", "error", err)
		}
	}()

	metrics := telemetry.NewMetrics()

	cache := memo.NewTTLCache(
		memo.WithDefaultTTL(time.Duration(cfg.Cache.DefaultTTLSeconds)*time.Second),
		memo.WithObserver(metrics.RecordCacheLookup),
	)
	go sweepCache(ctx, cache, cfg.Cache.SweepInterval)

	provider, err := config.NewPackProvider(cfg.Packs.Dir)
	if err != nil {
		return fmt.Errorf("packs: %w", err)
	}
	defer provider.Close()

	store := storage.NewMemoryStore(cfg.Packs.MaxRevisions)
	defer store.Close()
	srv := server.New(server.Options{
		Store:   store,
		Cache:   cache,
		Binder:  host.NewRegistry(),
		Logger:  logger,
		Metrics: metrics,
	})

	snapshots := provider.Subscribe()
	// The initial snapshot must load; later failures keep the old revision.
	first := <-snapshots
	if err := activateSnapshot(ctx, srv, first); err != nil {
		return fmt.Errorf("initial pack load: %w", err)
	}
	metrics.RecordReload(true)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-snapshots:
				if err := activateSnapshot(ctx, srv, snap); err != nil {
					metrics.RecordReload(false)
					logger.Error("pack reload rejected", "revision", snap.Revision, "error", err)
					continue
				}
				metrics.RecordReload(true)
			}
		}
	}()

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("decision server listening", "addr", cfg.Server.Addr, "pack_dir", cfg.Packs.Dir)
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
			return err
		}
	case <-ctx.Done():
		_ = httpServer.Close()
	}

	logger.Info("decision server stopped")
	return nil
}

// activateSnapshot analyzes a snapshot into a program and swaps it in.
func activateSnapshot(ctx context.Context, srv *server.Server, snap config.Snapshot) error {
	prog, err := engine.Load(snap.Namespaces)
	if err != nil {
		return err
	}
	return srv.SwapRevision(ctx, &storage.Revision{
		ID:       snap.Revision,
		Program:  prog,
		Source:   strings.Join(snap.Sources, ","),
		LoadedAt: snap.LoadedAt,
	})
}

func sweepCache(ctx context.Context, cache *memo.TTLCache, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cache.Expire()
		}
	}
}

func newEvalCmd() *cobra.Command {
	var (
		packPath  string
		namespace string
		policy    string
		rule      string
		factsJSON string
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate one pack once and print the decisions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEval(cmd.Context(), packPath, namespace, policy, rule, factsJSON)
		},
	}

	cmd.Flags().StringVarP(&packPath, "pack", "f", "", "Path to the policy pack (JSON)")
	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "Namespace path")
	cmd.Flags().StringVarP(&policy, "policy", "p", "", "Policy name")
	cmd.Flags().StringVarP(&rule, "rule", "r", "", "Rule to evaluate (all exported rules when empty)")
	cmd.Flags().StringVar(&factsJSON, "facts", "{}", "Facts as a JSON object, or @file")
	_ = cmd.MarkFlagRequired("pack")
	_ = cmd.MarkFlagRequired("namespace")
	_ = cmd.MarkFlagRequired("policy")
	return cmd
}

func runEval(ctx context.Context, packPath, namespace, policy, rule, factsJSON string) error {
	data, err := os.ReadFile(packPath) // #nosec G304 -- operator-supplied path
	if err != nil {
		return fmt.Errorf("read pack: %w", err)
	}
	namespaces, err := config.ParsePack(data)
	if err != nil {
		return err
	}
	prog, err := engine.Load(namespaces)
	if err != nil {
		return err
	}

	if strings.HasPrefix(factsJSON, "@") {
		raw, err := os.ReadFile(factsJSON[1:]) // #nosec G304 -- operator-supplied path
		if err != nil {
			return fmt.Errorf("read facts: %w", err)
		}
		factsJSON = string(raw)
	}
	var rawFacts map[string]any
	if err := json.Unmarshal([]byte(factsJSON), &rawFacts); err != nil {
		return fmt.Errorf("parse facts: %w", err)
	}
	facts := make(map[string]value.Value, len(rawFacts))
	for k, v := range rawFacts {
		facts[k] = value.FromJSON(v)
	}

	eng := engine.New(prog, engine.Options{Cache: memo.NewTTLCache(), Binder: host.NewRegistry()})
	report, err := eng.Evaluate(ctx, namespace, policy, rule, facts)
	if err != nil {
		return err
	}

	out := struct {
		Decisions []domain.Decision `json:"decisions"`
		Error     string            `json:"error,omitempty"`
	}{Decisions: report.Decisions, Error: report.Err()}
	if out.Decisions == nil {
		out.Decisions = []domain.Decision{}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
