package cmd

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/bioindex/internal/config"
	"github.com/3leaps/bioindex/internal/observability"
	"github.com/3leaps/bioindex/internal/server"
	"github.com/3leaps/bioindex/internal/server/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the BioIndex HTTP API",
	Long: `Serve the /api/bio REST façade over the configured catalog and blob store.

Example:
  bioindex serve --port 8080`,
	RunE: runServe,
}

var servePort int

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default: server.port from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.GetConfig()
	port := cfg.Server.Port
	if servePort != 0 {
		port = servePort
	}

	handlers.InitHealthManager(versionInfo.Version)
	hm := handlers.GetHealthManager()
	hm.RegisterChecker("signal", signalHealthChecker{})
	hm.RegisterChecker("telemetry", telemetryHealthChecker{})
	id := GetAppIdentity()
	if id != nil {
		hm.RegisterChecker("identity", identityHealthChecker{
			binaryName: id.BinaryName,
			envPrefix:  id.EnvPrefix,
			configName: id.ConfigName,
		})
	}

	if cfg.Metrics.Enabled {
		observability.InitTelemetry(fmt.Sprintf(":%d", cfg.Metrics.Port))
	}

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return exitError("serve", err)
	}
	defer a.close()

	srv := server.New(cfg.Server.Host, port)
	srv.Attach(a.cat, a.planner, cfg.Bio.ResponseLimit)
	observability.CLILogger.Info("starting HTTP server",
		zap.String("host", cfg.Server.Host), zap.Int("port", port))

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, port),
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return exitError("serve", err)
	}
	return nil
}

// signalHealthChecker always reports healthy; it exists so the process
// signal handler's presence is visible in /health like any other
// dependency, rather than leaving signal handling entirely implicit.
type signalHealthChecker struct{}

func (signalHealthChecker) CheckHealth(ctx context.Context) error {
	return nil
}

// telemetryHealthChecker reports unhealthy until InitTelemetry has run.
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil {
		return fmt.Errorf("telemetry system not initialized")
	}
	return nil
}

// identityHealthChecker reports unhealthy if the running process was
// never given a complete Identity, which would otherwise silently break
// config and env-var discovery.
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(ctx context.Context) error {
	if c.binaryName == "" {
		return fmt.Errorf("identity check: missing binary name")
	}
	if c.envPrefix == "" {
		return fmt.Errorf("identity check: missing env prefix")
	}
	if c.configName == "" {
		return fmt.Errorf("identity check: missing config name")
	}
	return nil
}
