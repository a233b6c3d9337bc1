package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/soumadip-dev/VedaCLI/internal/auth"
	"github.com/soumadip-dev/VedaCLI/internal/config"
	"github.com/soumadip-dev/VedaCLI/internal/tui"
)

type loginOptions struct {
	serverURL string
	clientID  string
	scope     string
	provider  string
	noBrowser  bool
	yes        bool
	saveConfig bool
}

func newLoginCmd(a *app) *cobra.Command {
	var opts loginOptions
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with the device authorization flow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runLogin(cmd.Context(), opts)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&opts.serverURL, "server-url", "", "authorization server URL (default from config, then http://localhost:8080)")
	fs.StringVar(&opts.clientID, "client-id", "", "OAuth client identifier")
	fs.StringVar(&opts.scope, "scope", "", "space-delimited scopes to request")
	fs.StringVar(&opts.provider, "provider", "", "endpoint layout: better-auth|github|gitlab (default: detect from server URL)")
	fs.BoolVar(&opts.noBrowser, "no-browser", false, "do not open the verification page automatically")
	fs.BoolVarP(&opts.yes, "yes", "y", false, "re-authenticate without asking when a session is active")
	fs.BoolVar(&opts.saveConfig, "save-config", false, "write the server URL, client id, scope and provider used to the config file after a successful login")
	return cmd
}

func (a *app) runLogin(ctx context.Context, opts loginOptions) error {
	serverURL := firstNonEmpty(opts.serverURL, a.cfg.ServerURL)
	clientID := firstNonEmpty(opts.clientID, a.cfg.ClientID)
	scope := firstNonEmpty(opts.scope, a.cfg.Scope)
	provider := firstNonEmpty(opts.provider, a.cfg.Provider)
	if clientID == "" {
		return fmt.Errorf("no client id: pass --client-id, set VEDA_CLIENT_ID, or add client_id to %s", a.configPathOrDefault())
	}

	store, release, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer release()

	if rec, ok := store.Load(ctx); ok && !rec.Expired(a.now()) && !opts.yes {
		again, err := confirm(a.stdin, a.stderr, "Active session detected. Re-authenticate?", false)
		if err != nil {
			return err
		}
		if !again {
			fmt.Fprintln(a.stderr, "Login cancelled.")
			return nil
		}
	}

	transport, err := a.transport(serverURL, provider)
	if err != nil {
		return err
	}

	clientOpts := []auth.Option{
		auth.WithLogger(a.logger),
		auth.WithStore(store),
		auth.WithClock(a.now),
		auth.WithSleeper(a.sleep),
	}
	if !opts.noBrowser && !a.cfg.NoBrowser {
		clientOpts = append(clientOpts, auth.WithBrowser(a.openBrowser))
	}

	var res auth.LoginResult
	if a.interactive() {
		res, err = tui.RunLogin(ctx, serverURL, func(ctx context.Context, n auth.Notifier) (auth.LoginResult, error) {
			return auth.NewClient(transport, append(clientOpts, auth.WithNotifier(n))...).Login(ctx, clientID, scope)
		})
	} else {
		fmt.Fprintf(a.stderr, "Starting device authorization with %s...\n", serverURL)
		client := auth.NewClient(transport, append(clientOpts, auth.WithNotifier(auth.NewWriterNotifier(a.stderr)))...)
		res, err = client.Login(ctx, clientID, scope)
	}
	if err != nil {
		a.logger.Debug("login failed", zap.String("state", auth.StateOf(err).String()), zap.Error(err))
		if errors.Is(err, context.Canceled) {
			return errors.New("login cancelled")
		}
		return fmt.Errorf("login failed: %w", err)
	}

	if opts.saveConfig {
		a.rememberSettings(serverURL, clientID, scope, provider)
	}

	if res.SaveErr != nil {
		fmt.Fprintf(a.stderr, "warning: could not save credentials: %v (you will need to log in again next run)\n", res.SaveErr)
		return nil
	}
	fmt.Fprintf(a.stderr, "Authenticated. Credentials saved to %s\n", storeLocation(store))
	if !res.Record.ExpiresAt.IsZero() {
		fmt.Fprintf(a.stderr, "Session expires in %d minutes.\n", int(res.Record.Remaining(a.now()).Minutes()))
	}
	return nil
}

// rememberSettings writes the settings a login used to the config file.
// A failure is reported but does not undo the login.
func (a *app) rememberSettings(serverURL, clientID, scope, provider string) {
	cfg := a.cfg
	cfg.ServerURL = serverURL
	cfg.ClientID = clientID
	cfg.Scope = scope
	cfg.Provider = provider

	path := firstNonEmpty(a.configPath, config.DefaultConfigPath())
	if err := config.Save(path, cfg); err != nil {
		fmt.Fprintf(a.stderr, "warning: could not save settings: %v\n", err)
		return
	}
	fmt.Fprintf(a.stderr, "Settings saved to %s\n", path)
}

func (a *app) configPathOrDefault() string {
	return firstNonEmpty(a.configPath, "~/.config/veda/config.toml")
}
