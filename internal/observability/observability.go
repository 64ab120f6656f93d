// Package observability provides process-wide logging and telemetry
// handles shared by the CLI and HTTP façade.
package observability

import (
	"sync"

	"go.uber.org/zap"
)

// TelemetrySystem, when non-nil, indicates metrics collection has been
// initialized for this process. Package-level so health checkers across
// internal/cmd and internal/server can probe it without a constructor
// dependency.
var TelemetrySystem *Telemetry

// PrometheusExporter, when non-nil, indicates the Prometheus metrics
// endpoint has been wired to TelemetrySystem.
var PrometheusExporter *PrometheusHandle

// Telemetry is the process-wide metrics registry handle.
type Telemetry struct {
	mu      sync.Mutex
	started bool
}

// PrometheusHandle exposes the Prometheus scrape endpoint's bound address.
type PrometheusHandle struct {
	Addr string
}

// InitTelemetry initializes TelemetrySystem and, if metricsAddr is
// non-empty, a PrometheusExporter bound to it. Safe to call once at
// process startup; a second call replaces the handles.
func InitTelemetry(metricsAddr string) {
	t := &Telemetry{started: true}
	TelemetrySystem = t
	if metricsAddr != "" {
		PrometheusExporter = &PrometheusHandle{Addr: metricsAddr}
	}
}

var loggerMu sync.Mutex

// CLILogger is the process-wide logger used by every CLI command. It
// starts as a no-op logger so commands are safe to invoke (e.g. in
// tests) before InitCLILogger has run, and is replaced in place by
// InitCLILogger so earlier-captured references keep working.
var CLILogger = zap.NewNop()

// InitCLILogger configures CLILogger for the given profile
// ("STRUCTURED" for JSON production logging, anything else for a
// human-readable console encoder) and level.
func InitCLILogger(profile, level string) {
	loggerMu.Lock()
	defer loggerMu.Unlock()

	zapLevel := zap.NewAtomicLevel()
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel.SetLevel(zap.InfoLevel)
	}

	var cfg zap.Config
	if profile == "STRUCTURED" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zapLevel
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	*CLILogger = *logger
}

// ResetForTest clears cached handles. Test-only.
func ResetForTest() {
	loggerMu.Lock()
	*CLILogger = *zap.NewNop()
	loggerMu.Unlock()
	TelemetrySystem = nil
	PrometheusExporter = nil
}
