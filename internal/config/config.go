package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

const (
	DefaultServerURL = "http://localhost:8080"
	DefaultScope     = "openid profile email"
	DefaultLogLevel  = "warn"
	DefaultProfile   = "default"
)

// Credential backends.
const (
	BackendFile   = "file"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// CredentialsConfig selects where the signed-in credential is kept.
type CredentialsConfig struct {
	Backend  string `toml:"backend"`   // file (default), memory or redis
	Path     string `toml:"path"`      // file backend; empty means the default location
	Profile  string `toml:"profile"`   // redis key suffix
	RedisURL string `toml:"redis_url"` // redis://[:password@]host:port/db
}

// LogConfig controls the diagnostic logger. User prompts are not affected.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // console or json
}

// Config holds all veda CLI configuration.
type Config struct {
	ServerURL   string            `toml:"server_url"`
	ClientID    string            `toml:"client_id"`
	Scope       string            `toml:"scope"`
	Provider    string            `toml:"provider"` // endpoint preset; empty detects it from ServerURL
	NoBrowser   bool              `toml:"no_browser"`
	Credentials CredentialsConfig `toml:"credentials"`
	Log         LogConfig         `toml:"log"`
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{
		ServerURL: DefaultServerURL,
		Scope:     DefaultScope,
		Credentials: CredentialsConfig{
			Backend: BackendFile,
			Profile: DefaultProfile,
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: "console",
		},
	}
}

// envOverrides are read with the VEDA_ prefix, e.g. VEDA_SERVER_URL.
type envOverrides struct {
	ServerURL          string `split_words:"true"`
	ClientID           string `split_words:"true"`
	Scope              string
	Provider           string
	NoBrowser          *bool  `split_words:"true"`
	CredentialsBackend string `split_words:"true"`
	CredentialsPath    string `split_words:"true"`
	RedisURL           string `split_words:"true"`
	LogLevel           string `split_words:"true"`
}

// legacyEnv is the unprefixed client id variable the server side shares with the CLI.
type legacyEnv struct {
	GitHubClientID string `envconfig:"GITHUB_CLIENT_ID"`
}

// LoadFrom reads configuration from the given TOML file path on top of Default().
// If the file does not exist, the defaults are used without error.
// Environment variables always take precedence over file values:
//   - VEDA_SERVER_URL          overrides server_url
//   - VEDA_CLIENT_ID           overrides client_id (GITHUB_CLIENT_ID is used when neither is set)
//   - VEDA_SCOPE               overrides scope
//   - VEDA_PROVIDER            overrides provider
//   - VEDA_NO_BROWSER          overrides no_browser
//   - VEDA_CREDENTIALS_BACKEND overrides credentials.backend
//   - VEDA_CREDENTIALS_PATH    overrides credentials.path
//   - VEDA_REDIS_URL           overrides credentials.redis_url
//   - VEDA_LOG_LEVEL           overrides log.level
func LoadFrom(path string) (Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultConfigPath returns the default path for the veda config file.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "veda", "config.toml")
}

func applyEnvOverrides(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process("veda", &env); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}
	setIf(&cfg.ServerURL, env.ServerURL)
	setIf(&cfg.ClientID, env.ClientID)
	setIf(&cfg.Scope, env.Scope)
	setIf(&cfg.Provider, env.Provider)
	setIf(&cfg.Credentials.Backend, env.CredentialsBackend)
	setIf(&cfg.Credentials.Path, env.CredentialsPath)
	setIf(&cfg.Credentials.RedisURL, env.RedisURL)
	setIf(&cfg.Log.Level, env.LogLevel)
	if env.NoBrowser != nil {
		cfg.NoBrowser = *env.NoBrowser
	}

	if cfg.ClientID == "" {
		var legacy legacyEnv
		if err := envconfig.Process("", &legacy); err != nil {
			return fmt.Errorf("reading environment: %w", err)
		}
		cfg.ClientID = legacy.GitHubClientID
	}
	return nil
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Validate reports settings the CLI cannot work with.
func (c Config) Validate() error {
	switch c.Credentials.Backend {
	case BackendFile, BackendMemory:
	case BackendRedis:
		if c.Credentials.RedisURL == "" {
			return fmt.Errorf("credentials backend %q needs credentials.redis_url (or VEDA_REDIS_URL)", c.Credentials.Backend)
		}
	default:
		return fmt.Errorf("unknown credentials backend %q (want %s, %s or %s)", c.Credentials.Backend, BackendFile, BackendMemory, BackendRedis)
	}
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	return nil
}

// Save writes cfg to the given TOML file path, creating parent directories as needed.
// Existing file contents are overwritten. Permissions on the written file are 0600.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("opening config file: %w", err)
	}
	if encErr := toml.NewEncoder(f).Encode(cfg); encErr != nil {
		f.Close()
		return encErr
	}
	return f.Close()
}
