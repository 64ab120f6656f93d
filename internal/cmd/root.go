// Package cmd implements the bioindex CLI: catalog management, index
// builds, and the query/count/match/all read verbs, wired through
// cobra and viper the same way the rest of the Workhorse Standard
// tooling is.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/3leaps/bioindex/internal/config"
	"github.com/3leaps/bioindex/internal/observability"
)

// versionInfo carries build-time version metadata, set by SetVersionInfo
// from main.go's linker-injected variables.
var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{Version: "dev", Commit: "HEAD", BuildDate: "unknown"}

// SetVersionInfo installs build-time version metadata. Called once from
// main before Execute.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// appIdentity names this binary for config and env-var discovery.
// GetAppIdentity returns nil until rootCmd's PersistentPreRunE installs
// it.
var appIdentity *config.Identity

// GetAppIdentity returns the installed Identity, or nil before the root
// command has initialized.
func GetAppIdentity() *config.Identity {
	return appIdentity
}

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "bioindex",
	Short:         "Secondary-index layer over sorted NDJSON genomic records",
	Long:          `bioindex builds and queries key/locus indexes over sorted NDJSON shards stored in an S3-compatible blob store.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		id := config.DefaultIdentity
		appIdentity = &id
		config.SetIdentity(id)

		setDefaults()
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
			config.SetConfigFile(cfgFile)
		}

		if _, err := config.Load(cmd.Context()); err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}

		cfg := config.GetConfig()
		observability.InitCLILogger(cfg.Logging.Profile, cfg.Logging.Level)
		return nil
	},
}

// Execute runs the root command, returning any error for main to report
// and translate into a process exit code.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a config file (default: discovered from the project root)")
}

// setDefaults binds the Workhorse Standard defaults onto the package
// (global) viper instance. internal/config.Load uses its own isolated
// viper instance for the resolved Config; this copy exists so
// cobra/viper flag-binding code that reads the global instance (e.g.
// shared with other Workhorse Standard tooling) sees the same keys. The
// values match except logging.profile, which is "structured" here and
// "STRUCTURED" in internal/config.
func setDefaults() {
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.shutdown_timeout", "10s")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.profile", "structured")

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9090)

	viper.SetDefault("health.enabled", true)

	viper.SetDefault("workers", 4)

	viper.SetDefault("debug.enabled", false)
	viper.SetDefault("debug.pprof_enabled", false)
}

// exitError logs err at Error level and returns it so cobra's RunE
// propagates a non-zero exit without cobra's own usage/error banner
// (rootCmd silences both).
func exitError(op string, err error) error {
	observability.CLILogger.Error(op, zap.Error(err))
	return fmt.Errorf("%s: %w", op, err)
}
