// Package config loads the runtime configuration from YAML, with a
// documented file discovery order and environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	xerrors "quackcore/internal/errors"
	"quackcore/pkg/logger"
)

// EnvPrefix is the prefix for environment overrides. A variable named
// QUACK_CREDENTIALS__DRIVER overrides credentials.driver.
const EnvPrefix = "QUACK_"

// EnvConfigPath names the config file when no explicit path is given.
const EnvConfigPath = "QUACK_CONFIG"

// DefaultFileName is the file looked up in the working directory and the
// project root during discovery.
const DefaultFileName = "quack_config.yaml"

// Config is the root of the runtime configuration.
type Config struct {
	Server       ServerConfig                 `yaml:"server"`
	Logging      logger.Config                `yaml:"logging"`
	Credentials  CredentialsConfig            `yaml:"credentials"`
	Metrics      MetricsConfig                `yaml:"metrics"`
	Plugins      map[string]map[string]any    `yaml:"plugins"`
	Integrations map[string]IntegrationConfig `yaml:"integrations"`

	// Path is the file the config was loaded from, empty when built from
	// defaults only.
	Path string `yaml:"-"`
}

// Duration is a time.Duration that also unmarshals from Go duration
// strings like "30s" or "1m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err == nil {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var nanos int64
	if err := value.Decode(&nanos); err != nil {
		return err
	}
	*d = Duration(nanos)
	return nil
}

// Std converts to the standard library type.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ServerConfig controls the REST API listener.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// CredentialsConfig selects and configures the credential store backend.
type CredentialsConfig struct {
	// Driver is one of memory, redis or mysql.
	Driver string      `yaml:"driver"`
	Redis  RedisConfig `yaml:"redis"`
	MySQL  MySQLConfig `yaml:"mysql"`
}

// RedisConfig holds the connection parameters of the redis-backed store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// TTL bounds how long a persisted credential outlives its expiry.
	TTL Duration `yaml:"ttl"`
}

// MySQLConfig holds the DSN of the mysql-backed store.
type MySQLConfig struct {
	DSN string `yaml:"dsn"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// IntegrationConfig carries the per-integration session policy.
type IntegrationConfig struct {
	Rate  RatePolicy  `yaml:"rate"`
	Retry RetryPolicy `yaml:"retry"`
}

// RatePolicy bounds calls per window. Zero MaxCalls disables limiting.
type RatePolicy struct {
	Window   Duration `yaml:"window"`
	MaxCalls int      `yaml:"max_calls"`
}

// RetryPolicy bounds the automatic retry envelope.
type RetryPolicy struct {
	MaxAttempts     int      `yaml:"max_attempts"`
	InitialInterval Duration `yaml:"initial_interval"`
	MaxInterval     Duration `yaml:"max_interval"`
	Multiplier      float64  `yaml:"multiplier"`
	Jitter          float64  `yaml:"jitter"`
}

/// Load resolves and parses the configuration. The discovery order is:
// the explicit path argument, then $QUACK_CONFIG, then quack_config.yaml
// in the working directory or under ./config, then the same file at the
// project root (nearest ancestor containing go.mod, .git or
// quack_config.yaml).
// Environment overrides are applied last. A missing file is not an error;
// defaults plus environment apply.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if resolved != "" {
		content, err := os.ReadFile(resolved)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err,
				fmt.Sprintf("reading config file %s failed", resolved))
		}
		if err := yaml.Unmarshal(content, cfg); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err,
				fmt.Sprintf("parsing config file %s failed", resolved))
		}
		cfg.Path = resolved
	}

	cfg.applyEnv(os.Environ())
	cfg.applyDefaults()
	return cfg, nil
}

func resolvePath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", xerrors.Wrap(xerrors.CodeNotFound, err,
				fmt.Sprintf("config file %s not found", explicit))
		}
		return explicit, nil
	}
	if fromEnv := os.Getenv(EnvConfigPath); fromEnv != "" {
		if _, err := os.Stat(fromEnv); err != nil {
			return "", xerrors.Wrap(xerrors.CodeNotFound, err,
				fmt.Sprintf("config file %s from %s not found", fromEnv, EnvConfigPath))
		}
		return fromEnv, nil
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", nil
	}
	for _, candidate := range []string{
		filepath.Join(wd, DefaultFileName),
		filepath.Join(wd, "config", DefaultFileName),
	} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	if root, ok := ProjectRoot(wd); ok {
		candidate := filepath.Join(root, DefaultFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", nil
}

// ProjectRoot walks upward from dir looking for a marker file and returns
// the nearest directory containing one.
func ProjectRoot(dir string) (string, bool) {
	markers := []string{"go.mod", ".git", DefaultFileName, "pyproject.toml"}
	current := dir
	for {
		for _, marker := range markers {
			if _, err := os.Stat(filepath.Join(current, marker)); err == nil {
				return current, true
			}
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", false
		}
		current = parent
	}
}

// applyEnv overlays QUACK_SECTION__KEY variables onto the parsed file.
// Only scalar leaves are overridable; sections map to the YAML structure
// with a double underscore as the separator.
func (c *Config) applyEnv(environ []string) {
	for _, kv := range environ {
		key, value, found := strings.Cut(kv, "=")
		if !found || !strings.HasPrefix(key, EnvPrefix) || key == EnvConfigPath {
			continue
		}
		parts := strings.Split(strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), "__")
		if len(parts) < 2 {
			continue
		}
		c.applyOverride(parts, value)
	}
}

func (c *Config) applyOverride(parts []string, value string) {
	switch parts[0] {
	case "server":
		if len(parts) == 2 && parts[1] == "address" {
			c.Server.Address = value
		}
	case "logging":
		if len(parts) != 2 {
			return
		}
		switch parts[1] {
		case "level":
			c.Logging.Level = value
		case "format":
			c.Logging.Format = value
		}
	case "credentials":
		c.applyCredentialOverride(parts[1:], value)
	case "metrics":
		if len(parts) != 2 {
			return
		}
		switch parts[1] {
		case "enabled":
			c.Metrics.Enabled = parseBool(value)
		case "address":
			c.Metrics.Address = value
		}
	case "plugins":
		// QUACK_PLUGINS__NAME__KEY=value
		if len(parts) != 3 {
			return
		}
		if c.Plugins == nil {
			c.Plugins = make(map[string]map[string]any)
		}
		if c.Plugins[parts[1]] == nil {
			c.Plugins[parts[1]] = make(map[string]any)
		}
		c.Plugins[parts[1]][parts[2]] = coerce(value)
	}
}

func (c *Config) applyCredentialOverride(parts []string, value string) {
	switch {
	case len(parts) == 1 && parts[0] == "driver":
		c.Credentials.Driver = value
	case len(parts) == 2 && parts[0] == "redis":
		switch parts[1] {
		case "addr":
			c.Credentials.Redis.Addr = value
		case "password":
			c.Credentials.Redis.Password = value
		case "db":
			if n, err := strconv.Atoi(value); err == nil {
				c.Credentials.Redis.DB = n
			}
		}
	case len(parts) == 2 && parts[0] == "mysql" && parts[1] == "dsn":
		c.Credentials.MySQL.DSN = value
	}
}

// coerce converts an override string to the most specific scalar type.
func coerce(value string) any {
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return int(n)
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return value
}

func parseBool(value string) bool {
	b, err := strconv.ParseBool(value)
	return err == nil && b
}

func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if len(c.Logging.OutputPaths) == 0 {
		c.Logging.OutputPaths = []string{"stdout"}
	}
	if c.Credentials.Driver == "" {
		c.Credentials.Driver = "memory"
	}
	if c.Credentials.Redis.Addr == "" {
		c.Credentials.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Credentials.Redis.TTL <= 0 {
		c.Credentials.Redis.TTL = Duration(30 * 24 * time.Hour)
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9464"
	}
	if c.Plugins == nil {
		c.Plugins = make(map[string]map[string]any)
	}
	if c.Integrations == nil {
		c.Integrations = make(map[string]IntegrationConfig)
	}
}

// PluginConfig returns the raw settings block for one plugin, satisfying
// the registry's config source.
func (c *Config) PluginConfig(name string) map[string]any {
	return c.Plugins[name]
}
