// Package config loads BioIndex's process configuration the
// "Workhorse Standard" way: compiled-in defaults, an optional config
// file discovered relative to the project root, environment variables
// under the BIOINDEX_ prefix, and finally explicit runtime overrides,
// in ascending precedence.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig controls the HTTP façade's listener.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig controls the zap logger built by internal/observability.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// MetricsConfig controls the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HealthConfig toggles the /health* route group.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig toggles developer-only instrumentation.
type DebugConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}

// CatalogConfig names the relational backend holding Index Specs and
// Index Tables. A libsql/Turso URL takes precedence over Path when both
// are set; Path is the local SQLite fallback used by `bioindex serve`/
// `bioindex index` without a managed database.
type CatalogConfig struct {
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// BioConfig carries the BioIndex domain settings (bucket, catalog
// backend, schema name, query limits, gene-resolver source) that the
// ambient Workhorse sections above don't cover.
type BioConfig struct {
	Bucket        string        `mapstructure:"bucket"`
	DB            CatalogConfig `mapstructure:"db"`
	SchemaName    string        `mapstructure:"schema_name"`
	ResponseLimit int64         `mapstructure:"response_limit"`
	MatchLimit    int           `mapstructure:"match_limit"`
	GenesURI      string        `mapstructure:"genes_uri"`
	GraphQLSchema string        `mapstructure:"graphql_schema"`
}

// Config is the fully resolved process configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`
	Debug   DebugConfig   `mapstructure:"debug"`
	Workers int           `mapstructure:"workers"`
	Bio     BioConfig     `mapstructure:"bio"`
}

// Identity names the running binary for config-file and env-var
// discovery purposes.
type Identity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

// DefaultIdentity is used whenever no other identity has been
// installed, which covers every normal `bioindex` invocation.
var DefaultIdentity = Identity{BinaryName: "bioindex", EnvPrefix: "BIOINDEX", ConfigName: "bioindex"}

var (
	configMu    sync.Mutex
	appIdentity *Identity
	appConfig   *Config
	configFile  string
)

// SetConfigFile pins Load to an explicit config file, bypassing
// project-root and user-directory discovery. An empty path restores
// discovery. Wired to the CLI's --config flag.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = path
}

// SetIdentity installs the Identity used by subsequent Load calls. Must
// be called, if at all, before the first Load.
func SetIdentity(id Identity) {
	configMu.Lock()
	defer configMu.Unlock()
	appIdentity = &id
}

// envSpec maps one environment variable onto a dot path within Config.
type envSpec struct {
	Name string
	Path string
}

// envSpecTable is the Path suffix (after the identity's EnvPrefix) for
// every environment-overridable setting.
var envSpecTable = []struct {
	suffix string
	path   string
}{
	{"HOST", "server.host"},
	{"PORT", "server.port"},
	{"READ_TIMEOUT", "server.read_timeout"},
	{"WRITE_TIMEOUT", "server.write_timeout"},
	{"IDLE_TIMEOUT", "server.idle_timeout"},
	{"SHUTDOWN_TIMEOUT", "server.shutdown_timeout"},
	{"LOG_LEVEL", "logging.level"},
	{"LOG_PROFILE", "logging.profile"},
	{"METRICS_ENABLED", "metrics.enabled"},
	{"METRICS_PORT", "metrics.port"},
	{"HEALTH_ENABLED", "health.enabled"},
	{"DEBUG_ENABLED", "debug.enabled"},
	{"DEBUG_PPROF_ENABLED", "debug.pprof_enabled"},
	{"WORKERS", "workers"},

	{"S3_BUCKET", "bio.bucket"},
	{"RDS_PATH", "bio.db.path"},
	{"RDS_URL", "bio.db.url"},
	{"RDS_AUTH_TOKEN", "bio.db.auth_token"},
	{"BIO_SCHEMA", "bio.schema_name"},
	{"RESPONSE_LIMIT", "bio.response_limit"},
	{"MATCH_LIMIT", "bio.match_limit"},
	{"GENES_URI", "bio.genes_uri"},
	{"GRAPHQL_SCHEMA", "bio.graphql_schema"},
}

// getEnvSpecs returns the env var to config-path mappings for the
// installed identity, or nil if no identity has been loaded yet.
func getEnvSpecs() []envSpec {
	configMu.Lock()
	id := appIdentity
	configMu.Unlock()
	if id == nil {
		return nil
	}
	specs := make([]envSpec, 0, len(envSpecTable))
	for _, e := range envSpecTable {
		specs = append(specs, envSpec{Name: id.EnvPrefix + "_" + e.suffix, Path: e.path})
	}
	return specs
}

// getUserConfigPaths returns additional directories to search for a
// config file, beyond the project root, or nil if no identity has been
// loaded yet.
func getUserConfigPaths() []string {
	configMu.Lock()
	id := appIdentity
	configMu.Unlock()
	if id == nil {
		return nil
	}

	var paths []string
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		paths = append(paths, filepath.Join(dir, id.ConfigName))
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		paths = append(paths, filepath.Join(home, "."+id.ConfigName))
	}
	return paths
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "STRUCTURED")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("health.enabled", true)

	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.pprof_enabled", false)

	v.SetDefault("workers", 4)

	v.SetDefault("bio.schema_name", "bio")
	v.SetDefault("bio.response_limit", int64(2<<20)) // 2MiB
	v.SetDefault("bio.match_limit", 100)
}

// isAncestorOrSelf reports whether parent is dir itself or a filesystem
// ancestor of it.
func isAncestorOrSelf(parent, dir string) bool {
	parent = filepath.Clean(parent)
	dir = filepath.Clean(dir)
	if parent == dir {
		return true
	}
	rel, err := filepath.Rel(parent, dir)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// findGoModUpward walks from start towards ceiling (inclusive),
// returning the first directory containing a go.mod.
func findGoModUpward(start, ceiling string) (string, error) {
	dir := filepath.Clean(start)
	ceiling = filepath.Clean(ceiling)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		if dir == ceiling {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("config: no go.mod found between %s and %s", start, ceiling)
}

// ciBoundaryEnvVars are checked, in order, for a CI-provided workspace
// root when CI or GITHUB_ACTIONS indicates a container checkout that
// may live outside $HOME.
var ciBoundaryEnvVars = []string{"FULMEN_WORKSPACE_ROOT", "GITHUB_WORKSPACE", "CI_PROJECT_DIR", "WORKSPACE"}

// findProjectRoot locates the repository root containing go.mod,
// starting from the working directory. Outside of CI, discovery is
// bounded by $HOME: a checkout living outside the home directory is
// refused unless a CI boundary hint names an explicit workspace root
// that does contain the working directory.
func findProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("config: determine working directory: %w", err)
	}

	inCI := os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true"
	if inCI {
		for _, name := range ciBoundaryEnvVars {
			boundary := os.Getenv(name)
			if boundary == "" || !filepath.IsAbs(boundary) {
				continue
			}
			if info, err := os.Stat(boundary); err != nil || !info.IsDir() {
				continue
			}
			if !isAncestorOrSelf(boundary, cwd) {
				continue
			}
			if root, err := findGoModUpward(cwd, boundary); err == nil {
				return root, nil
			}
		}
		// No usable boundary hint: CI already signals it is safe to
		// search the full filesystem path up from cwd.
		return findGoModUpward(cwd, string(filepath.Separator))
	}

	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return findGoModUpward(cwd, string(filepath.Separator))
	}
	if !isAncestorOrSelf(home, cwd) {
		return "", fmt.Errorf("config: working directory %s is outside $HOME (%s); set CI=true with a workspace root hint", cwd, home)
	}
	return findGoModUpward(cwd, home)
}

// Load resolves Config from defaults, an optional config file, BIOINDEX_
// environment variables, and any overrides (applied last, highest
// precedence, merged in the order given). The resolved Config becomes
// the value returned by GetConfig.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	_ = ctx

	configMu.Lock()
	if appIdentity == nil {
		id := DefaultIdentity
		appIdentity = &id
	}
	identity := *appIdentity
	pinnedFile := configFile
	configMu.Unlock()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(identity.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("config: bind env %s: %w", spec.Name, err)
		}
	}

	if pinnedFile != "" {
		v.SetConfigFile(pinnedFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	} else {
		v.SetConfigName(identity.ConfigName)
		v.SetConfigType("yaml")
		if root, err := findProjectRoot(); err == nil {
			v.AddConfigPath(root)
		}
		for _, p := range getUserConfigPaths() {
			v.AddConfigPath(p)
		}
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return nil, fmt.Errorf("config: read config file: %w", err)
			}
		}
	}

	// Overrides go through v.Set so they outrank env vars and the config
	// file; MergeConfigMap would only reach viper's config-file layer.
	var applyOverrides func(prefix string, m map[string]any)
	applyOverrides = func(prefix string, m map[string]any) {
		for k, val := range m {
			if sub, ok := val.(map[string]any); ok {
				applyOverrides(prefix+k+".", sub)
				continue
			}
			v.Set(prefix+k, val)
		}
	}
	for _, o := range overrides {
		applyOverrides("", o)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()

	return &cfg, nil
}

// GetConfig returns the most recently Loaded Config, or nil if Load has
// never been called.
func GetConfig() *Config {
	configMu.Lock()
	defer configMu.Unlock()
	return appConfig
}
