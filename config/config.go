// Package config loads gateway configuration from an optional YAML file with
// environment variable overrides. Environment always wins, so deployments can
// keep secrets out of the file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full gateway configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Storage     StorageConfig     `yaml:"storage"`
	Cache       CacheConfig       `yaml:"cache"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Registry    RegistryConfig    `yaml:"registry"`
	Image       ImageConfig       `yaml:"image"`
	Providers   ProvidersConfig   `yaml:"providers"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port string `yaml:"port"`
	// MasterKey gates every API route when set. Strongly recommended for
	// anything reachable from a network.
	MasterKey    string        `yaml:"master_key"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LogConfig selects logger verbosity and format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Backend is "sqlite" or "postgres".
	Backend     string `yaml:"backend"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
	// AttachmentsDir is where the upload collaborator commits attachment
	// bytes, one file per attachment id.
	AttachmentsDir string `yaml:"attachments_dir"`
}

// CacheConfig selects the catalog snapshot backend.
type CacheConfig struct {
	// Backend is "local", "redis", or "none".
	Backend  string `yaml:"backend"`
	Path     string `yaml:"path"`
	RedisURL string `yaml:"redis_url"`
}

// CredentialsConfig holds key encryption and cache settings.
type CredentialsConfig struct {
	// EncryptionSecret derives the per-user key encryption keys. Required.
	EncryptionSecret string        `yaml:"encryption_secret"`
	CacheTTL         time.Duration `yaml:"cache_ttl"`
}

// RegistryConfig holds model discovery settings.
type RegistryConfig struct {
	CatalogTTL time.Duration `yaml:"catalog_ttl"`
	// MetadataURL points at the external model metadata registry used to
	// enrich catalogs with context windows and pricing. Empty disables it.
	MetadataURL string `yaml:"metadata_url"`
}

// ImageConfig holds image generation settings.
type ImageConfig struct {
	// PendingTimeout bounds how long a generation may run with no
	// terminal event before it is failed.
	PendingTimeout time.Duration `yaml:"pending_timeout"`
	PartialImages  int           `yaml:"partial_images"`
}

// ProviderConfig holds one upstream provider's settings. APIKey is the
// account-wide fallback key; user keys stored through the API take
// precedence.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// ProvidersConfig holds per-provider settings keyed by provider name.
type ProvidersConfig map[string]ProviderConfig

// Load reads the YAML file at path (skipped when path is empty or the file
// does not exist), applies environment overrides, and validates.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	cfg.applyEnv()

	if cfg.Credentials.EncryptionSecret == "" {
		return nil, fmt.Errorf("encryption secret is required: set credentials.encryption_secret or MODELGATE_ENCRYPTION_SECRET")
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Storage: StorageConfig{
			Backend:        "sqlite",
			SQLitePath:     "modelgate.db",
			AttachmentsDir: ".cache/attachments",
		},
		Cache: CacheConfig{
			Backend: "local",
			Path:    "catalogs.json",
		},
		Credentials: CredentialsConfig{CacheTTL: 5 * time.Minute},
		Registry:    RegistryConfig{CatalogTTL: time.Hour},
		Image: ImageConfig{
			PendingTimeout: 5 * time.Minute,
			PartialImages:  2,
		},
		Providers: ProvidersConfig{},
	}
}

// applyEnv overlays environment variables onto the config. Provider keys use
// the upstream-conventional names so existing deployments keep working.
func (c *Config) applyEnv() {
	setString(&c.Server.Port, "PORT", "MODELGATE_PORT")
	setString(&c.Server.MasterKey, "MODELGATE_MASTER_KEY")
	setString(&c.Log.Level, "MODELGATE_LOG_LEVEL")
	setString(&c.Log.Format, "MODELGATE_LOG_FORMAT")

	setString(&c.Storage.Backend, "MODELGATE_STORAGE_BACKEND")
	setString(&c.Storage.SQLitePath, "MODELGATE_SQLITE_PATH")
	setString(&c.Storage.PostgresDSN, "DATABASE_URL", "MODELGATE_POSTGRES_DSN")

	setString(&c.Cache.Backend, "MODELGATE_CACHE_BACKEND")
	setString(&c.Cache.Path, "MODELGATE_CACHE_PATH")
	setString(&c.Cache.RedisURL, "REDIS_URL")

	setString(&c.Credentials.EncryptionSecret, "MODELGATE_ENCRYPTION_SECRET")
	setString(&c.Registry.MetadataURL, "MODELGATE_METADATA_URL")

	for provider, env := range map[string]string{
		"openai":     "OPENAI_API_KEY",
		"anthropic":  "ANTHROPIC_API_KEY",
		"gemini":     "GEMINI_API_KEY",
		"openrouter": "OPENROUTER_API_KEY",
		"xai":        "XAI_API_KEY",
		"groq":       "GROQ_API_KEY",
	} {
		if v := os.Getenv(env); v != "" {
			pc := c.Providers[provider]
			pc.APIKey = v
			c.Providers[provider] = pc
		}
	}
}

// AccountKeys flattens the provider configs into the account-wide key map
// consumed by the credential resolver.
func (c *Config) AccountKeys() map[string]string {
	keys := make(map[string]string)
	for name, pc := range c.Providers {
		if pc.APIKey != "" {
			keys[name] = pc.APIKey
		}
	}
	return keys
}

func setString(dst *string, envs ...string) {
	for _, env := range envs {
		if v := os.Getenv(env); v != "" {
			*dst = v
			return
		}
	}
}
