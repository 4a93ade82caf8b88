// Package config loads and holds the Conduit service configuration.
// Configuration comes from ~/.conduit/config.yaml (or an explicit path),
// overridable by CONDUIT_* environment variables. Provider credentials are
// additionally resolved from the conventional *_API_KEY variables on every
// lookup, so keys rotated at runtime take effect without a restart.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration for the Conduit service.
type Config struct {
	Server      ServerConfig              `mapstructure:"server" yaml:"server"`
	Providers   map[string]ProviderConfig `mapstructure:"providers" yaml:"providers"`
	Catalog     CatalogConfig             `mapstructure:"catalog" yaml:"catalog"`
	Persistence PersistenceConfig         `mapstructure:"persistence" yaml:"persistence"`
	Logging     LoggingConfig             `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig configures the HTTP/WebSocket listener.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `mapstructure:"addr" yaml:"addr"`

	// ReadHeaderTimeout bounds slow-client header reads.
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`

	// ShutdownTimeout bounds graceful shutdown on SIGTERM.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// ProviderConfig contains configuration for a specific LLM provider.
type ProviderConfig struct {
	// Endpoint is the API base URL (primarily used for local providers).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`

	// APIKey is the authentication key. The *_API_KEY environment variable
	// takes precedence; see Credential.
	APIKey string `mapstructure:"api_key" yaml:"api_key,omitempty"`
}

// CatalogConfig points at an optional YAML model catalog overriding the
// built-in one.
type CatalogConfig struct {
	Path string `mapstructure:"path" yaml:"path,omitempty"`
}

// PersistenceConfig configures the SQLite chat store.
type PersistenceConfig struct {
	// DataDir holds the database file. Defaults to ~/.conduit.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`

	// Debounce is the idle period before streaming mutations are flushed to
	// the store. Terminal states always flush immediately.
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	Level    string `mapstructure:"level" yaml:"level"`
	FilePath string `mapstructure:"file_path" yaml:"file_path,omitempty"`
}

// Load reads configuration from the given path, or from the default search
// locations when path is empty. A missing config file is not an error; the
// defaults describe a working local-only setup.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CONDUIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".conduit"))
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if path != "" {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Persistence.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		cfg.Persistence.DataDir = filepath.Join(home, ".conduit")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("persistence.debounce", 750*time.Millisecond)
	v.SetDefault("logging.level", "info")
	v.SetDefault("providers.ollama.endpoint", "http://127.0.0.1:11434")
	v.SetDefault("providers.openai.endpoint", "https://api.openai.com/v1")
	v.SetDefault("providers.anthropic.endpoint", "https://api.anthropic.com")
}

// Endpoint returns the configured endpoint for a provider, empty if the
// provider is unknown.
func (c *Config) Endpoint(provider string) string {
	return c.Providers[provider].Endpoint
}

// Credential returns the secret for a provider, or empty when none is
// configured. The environment is consulted on every call (OPENAI_API_KEY,
// ANTHROPIC_API_KEY, ...) so runtime key changes are honored; results must
// not be cached beyond a single routing decision.
func (c *Config) Credential(provider string) string {
	envKey := strings.ToUpper(provider) + "_API_KEY"
	if key := os.Getenv(envKey); key != "" {
		return key
	}
	return c.Providers[provider].APIKey
}
