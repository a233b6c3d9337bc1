package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored session without contacting the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runStatus(cmd.Context())
		},
	}
}

func (a *app) runStatus(ctx context.Context) error {
	store, release, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer release()

	rec, ok := store.Load(ctx)
	if !ok {
		fmt.Fprintln(a.stdout, "Not logged in.")
		return nil
	}

	now := a.now()
	fmt.Fprintf(a.stdout, "Credentials: %s\n", storeLocation(store))
	fmt.Fprintf(a.stdout, "Token type:  %s\n", rec.TokenType)
	if rec.Scope != "" {
		fmt.Fprintf(a.stdout, "Scope:       %s\n", rec.Scope)
	}
	fmt.Fprintf(a.stdout, "Signed in:   %s\n", rec.CreatedAt.Local().Format(time.RFC1123))
	if rec.ExpiresAt.IsZero() {
		fmt.Fprintln(a.stdout, "Expires:     unknown")
	} else {
		fmt.Fprintf(a.stdout, "Expires:     %s (in %s)\n", rec.ExpiresAt.Local().Format(time.RFC1123), rec.Remaining(now).Round(time.Minute))
	}
	fmt.Fprintf(a.stdout, "Refreshable: %t\n", rec.RefreshToken != "")
	if rec.Expired(now) {
		fmt.Fprintln(a.stdout, "Status:      expired (run 'veda login' again)")
	} else {
		fmt.Fprintln(a.stdout, "Status:      active")
	}
	return nil
}
