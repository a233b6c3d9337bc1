package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/soumadip-dev/VedaCLI/internal/auth"
)

type refreshOptions struct {
	serverURL string
	provider  string
}

func newRefreshCmd(a *app) *cobra.Command {
	var opts refreshOptions
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Renew the stored access token with its refresh token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runRefresh(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.serverURL, "server-url", "", "authorization server URL")
	cmd.Flags().StringVar(&opts.provider, "provider", "", "endpoint layout: better-auth|github|gitlab")
	return cmd
}

func (a *app) runRefresh(ctx context.Context, opts refreshOptions) error {
	store, release, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer release()

	transport, err := a.transport(firstNonEmpty(opts.serverURL, a.cfg.ServerURL), firstNonEmpty(opts.provider, a.cfg.Provider))
	if err != nil {
		return err
	}

	rec, err := auth.NewSession(store, transport, a.cfg.ClientID, a.now).Refresh(ctx)
	var saveErr *auth.SaveError
	switch {
	case errors.As(err, &saveErr):
		fmt.Fprintf(a.stderr, "warning: %v\n", saveErr)
	case errors.Is(err, auth.ErrNotAuthenticated):
		return errors.New("not authenticated: please run 'veda login' first")
	case errors.Is(err, auth.ErrSessionExpired):
		return fmt.Errorf("%w (run 'veda login' again)", err)
	case err != nil:
		return fmt.Errorf("refresh failed: %w", err)
	default:
		fmt.Fprintf(a.stderr, "Session refreshed. Credentials saved to %s\n", storeLocation(store))
	}
	if !rec.ExpiresAt.IsZero() {
		fmt.Fprintf(a.stderr, "Session expires in %d minutes.\n", int(rec.Remaining(a.now()).Minutes()))
	}
	return nil
}
