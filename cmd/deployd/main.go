package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Jackwwg83/coderunner2-sub003/pkg/auth"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/autoscaler"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/config"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/gateway"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/health"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/log"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/loghub"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/metrics"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/optimizer"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/orchestrator"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/sandbox"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/storage"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/types"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "deployd",
	Short: "deployd - code deployment control plane",
	Long: `deployd runs user code in isolated sandboxes and manages the
full deployment lifecycle: provisioning, builds, log streaming,
autoscaling, cost tracking, and health supervision, delivered as a
single binary backed by an embedded datastore.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"deployd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("listen-addr", "", "HTTP listen address (overrides LISTEN_ADDR)")
	serveCmd.Flags().String("data-dir", "", "Data directory for persistent state (overrides DATA_DIR)")
	serveCmd.Flags().Bool("dev", false, "Development mode: fake sandbox provider, mocked external probes")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control plane",
	Long: `Start the deployment control plane: the orchestrator, the
autoscaler, the resource optimizer, the log hub, the WebSocket
gateway, and the health supervisor, plus the HTTP endpoints for
metrics and health.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if addr, _ := cmd.Flags().GetString("listen-addr"); addr != "" {
			cfg.ListenAddr = addr
		}
		if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
			cfg.DataDir = dir
		}
		if dev, _ := cmd.Flags().GetBool("dev"); dev {
			cfg.DevMode = true
		}
		return serve(cfg)
	},
}

func serve(cfg *config.Config) error {
	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})
	logger := log.WithComponent("main")
	logger.Info().
		Str("version", Version).
		Str("data_dir", cfg.DataDir).
		Bool("dev_mode", cfg.DevMode).
		Msg("Starting deployd")

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open datastore: %w", err)
	}
	defer store.Close()

	provider, err := newProvider(cfg)
	if err != nil {
		return err
	}

	facade := metrics.NewSystemFacade()

	hub := loghub.New(cfg.LogHub, func(entries []*types.LogEntry) {
		if err := store.AppendLogEntries(entries); err != nil {
			logger.Warn().Err(err).Msg("Failed to persist evicted log entries")
		}
	})

	authn := auth.NewHMACAuthenticator(cfg.AuthSecret)
	gw := gateway.New(cfg.Gateway, authn, store, hub)

	scaler := autoscaler.New(cfg.Autoscaler, store, facade, provider)
	opt := optimizer.New(cfg.Optimizer, store, facade, gw)

	orch := orchestrator.New(cfg.Orchestrator, store, provider, hub, facade, gw)
	orch.OnDestroy = func(deploymentID string) {
		scaler.Forget(deploymentID)
		opt.Drop(deploymentID)
		hub.Drop(deploymentID)
		facade.DropDeployment(deploymentID)
	}

	sup := health.NewSupervisor(cfg.Health, cfg.DevMode)
	registerProbes(sup, cfg, store, facade, gw)

	// Start order follows dependency order; shutdown reverses it.
	hub.Start()
	gw.Start()
	scaler.Start()
	opt.Start()
	sup.Start()
	orch.Start()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", sup.Handler())
	mux.HandleFunc("/readyz", sup.ReadyHandler())
	mux.HandleFunc("/livez", sup.LiveHandler())
	mux.Handle("/ws", gw)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("HTTP server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP server shutdown incomplete")
	}

	orch.Stop()
	sup.Stop()
	opt.Stop()
	scaler.Stop()
	gw.Stop()
	hub.Stop()

	logger.Info().Msg("Shutdown complete")
	return nil
}

// newProvider selects the sandbox backend. Development mode runs
// against the in-memory fake; production requires a sandbox API.
func newProvider(cfg *config.Config) (sandbox.Provider, error) {
	if cfg.SandboxAPIURL != "" {
		return sandbox.NewHTTPProvider(cfg.SandboxAPIURL, cfg.SandboxAPIKey), nil
	}
	if cfg.DevMode {
		return sandbox.NewFakeProvider(), nil
	}
	return nil, fmt.Errorf("SANDBOX_API_URL is required outside dev mode")
}

// registerProbes wires the health supervisor. External probes are
// mocked in development mode so a laptop run reports healthy without
// network access.
func registerProbes(sup *health.Supervisor, cfg *config.Config, store storage.Store, facade metrics.Facade, gw *gateway.Gateway) {
	sup.Register("database", true, health.DatabaseProbe(store))
	sup.Register("metrics", true, health.MetricsProbe(facade))
	sup.Register("gateway", true, health.GatewayProbe(gw, cfg.Gateway.MaxConnections))
	sup.Register("system", true, health.SystemProbe(facade))

	if cfg.DevMode {
		sup.Register("network", true, health.MockProbe())
		sup.Register("dependencies", true, health.MockProbe())
		return
	}
	sup.Register("network", true, health.NetworkProbe(nil, "https://registry.npmjs.org", "registry.npmjs.org"))

	var deps []string
	if cfg.SandboxAPIURL != "" {
		deps = append(deps, cfg.SandboxAPIURL)
	}
	sup.Register("dependencies", len(deps) > 0, health.DependenciesProbe(nil, deps))
}
