package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/soumadip-dev/VedaCLI/internal/auth"
)

type whoamiOptions struct {
	serverURL string
	provider  string
}

func newWhoamiCmd(a *app) *cobra.Command {
	var opts whoamiOptions
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWhoami(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.serverURL, "server-url", "", "authorization server URL")
	cmd.Flags().StringVar(&opts.provider, "provider", "", "endpoint layout: better-auth|github|gitlab")
	return cmd
}

func (a *app) runWhoami(ctx context.Context, opts whoamiOptions) error {
	store, release, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer release()

	transport, err := a.transport(firstNonEmpty(opts.serverURL, a.cfg.ServerURL), firstNonEmpty(opts.provider, a.cfg.Provider))
	if err != nil {
		return err
	}

	rec, err := auth.NewSession(store, transport, a.cfg.ClientID, a.now).Require(ctx)
	var saveErr *auth.SaveError
	switch {
	case errors.As(err, &saveErr):
		fmt.Fprintf(a.stderr, "warning: %v\n", saveErr)
	case errors.Is(err, auth.ErrNotAuthenticated):
		return errors.New("not authenticated: please run 'veda login' first")
	case err != nil:
		return err
	}

	profile, err := transport.FetchProfile(ctx, rec.AccessToken)
	if err != nil {
		if errors.Is(err, auth.ErrNotAuthenticated) {
			return errors.New("user not found: please run 'veda login' again")
		}
		return fmt.Errorf("fetching profile: %w", err)
	}

	fmt.Fprintln(a.stdout, "User Profile")
	fmt.Fprintln(a.stdout, "────────────────────")
	if profile.Name != "" {
		fmt.Fprintf(a.stdout, "  Name:  %s\n", profile.Name)
	}
	if profile.Login != "" {
		fmt.Fprintf(a.stdout, "  Login: %s\n", profile.Login)
	}
	if profile.Email != "" {
		fmt.Fprintf(a.stdout, "  Email: %s\n", profile.Email)
	}
	fmt.Fprintf(a.stdout, "  ID:    %s\n", profile.ID)
	return nil
}
