package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newLogoutCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runLogout(cmd.Context(), yes)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func (a *app) runLogout(ctx context.Context, yes bool) error {
	store, release, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer release()

	if _, ok := store.Load(ctx); !ok {
		fmt.Fprintln(a.stdout, "You're not logged in.")
		return nil
	}

	if !yes {
		ok, err := confirm(a.stdin, a.stderr, "Are you sure you want to log out?", false)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(a.stderr, "Logout cancelled.")
			return nil
		}
	}

	if err := store.Clear(ctx); err != nil {
		return fmt.Errorf("clearing credentials: %w", err)
	}
	fmt.Fprintln(a.stdout, "Successfully logged out.")
	return nil
}
