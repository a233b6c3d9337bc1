package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/pkg/browser"
	"go.uber.org/zap"

	"github.com/soumadip-dev/VedaCLI/internal/auth"
	"github.com/soumadip-dev/VedaCLI/internal/config"
	"github.com/soumadip-dev/VedaCLI/internal/credentials"
	"github.com/soumadip-dev/VedaCLI/internal/logging"
)

// app carries everything a command needs. Tests replace the I/O and timing fields.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	configPath string
	verbose    bool

	cfg    config.Config
	logger *zap.Logger

	now         func() time.Time
	sleep       auth.Sleeper // nil waits on real timers
	openBrowser func(url string) error
	interactive func() bool
	httpClient  *http.Client
	presets     *auth.Presets
}

func newApp() *app {
	return &app{
		stdin:       os.Stdin,
		stdout:      os.Stdout,
		stderr:      os.Stderr,
		now:         time.Now,
		openBrowser: browser.OpenURL,
		interactive: func() bool {
			return isatty.IsTerminal(os.Stderr.Fd()) && isatty.IsTerminal(os.Stdin.Fd())
		},
		presets: auth.DefaultPresets(),
		logger:  zap.NewNop(),
	}
}

// load reads the configuration and builds the logger. It runs before every command.
func (a *app) load() error {
	path := a.configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.LoadFrom(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if a.verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", path, err)
	}
	a.cfg = cfg
	a.logger = logging.New(a.stderr, cfg.Log.Level, cfg.Log.Format)
	a.logger.Debug("configuration loaded",
		zap.String("path", path),
		zap.String("server_url", cfg.ServerURL),
		zap.String("credentials_backend", cfg.Credentials.Backend),
	)
	return nil
}

// openStore returns the configured credential store and a function releasing it.
func (a *app) openStore(ctx context.Context) (credentials.Store, func(), error) {
	c := a.cfg.Credentials
	switch c.Backend {
	case config.BackendMemory:
		return credentials.NewMemoryStore(a.now), func() {}, nil
	case config.BackendRedis:
		client, err := credentials.NewRedisClient(ctx, c.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to credential store: %w", err)
		}
		release := func() {
			if err := client.Close(); err != nil {
				a.logger.Debug("closing redis client", zap.Error(err))
			}
		}
		return credentials.NewRedisStore(client, c.Profile, a.now), release, nil
	default:
		path := c.Path
		if path == "" {
			path = credentials.DefaultPath()
		}
		return credentials.NewFileStore(path, a.now), func() {}, nil
	}
}

// storeLocation describes where store keeps the credential, for user-facing messages.
func storeLocation(store credentials.Store) string {
	switch s := store.(type) {
	case *credentials.FileStore:
		return s.Path()
	case *credentials.RedisStore:
		return fmt.Sprintf("redis profile %q", s.Profile())
	case *credentials.MemoryStore:
		return "memory (this process only)"
	default:
		return fmt.Sprintf("%T", store)
	}
}

// transport resolves the endpoints for serverURL and provider ("" detects it).
func (a *app) transport(serverURL, provider string) (*auth.HTTPTransport, error) {
	eps, err := a.presets.Resolve(serverURL, provider)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("endpoints resolved",
		zap.String("device_auth_url", eps.DeviceAuthURL),
		zap.String("token_url", eps.TokenURL),
		zap.String("profile_url", eps.ProfileURL),
	)
	return auth.NewHTTPTransport(eps, a.httpClient), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
