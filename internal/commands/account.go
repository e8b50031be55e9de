package commands

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/admin-auth-service/internal/auth"
	"github.com/otherjamesbrown/admin-auth-service/internal/bootstrap"
)

func (a *app) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status ACCOUNT",
		Short: "Show an account's security status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID := args[0]
			return a.withRuntime(cmd, func(ctx context.Context, rt *bootstrap.Runtime) error {
				status, err := rt.Auth.GetSecurityStatus(ctx, accountID)
				if err != nil {
					return operationFailed("load security status", accountID, err)
				}
				return a.render(a.out(cmd), status,
					[]string{"ACCOUNT", "FACTORS", "TOTP", "FAILURES", "LOCKED UNTIL"},
					func() [][]string { return [][]string{statusRow(status)} })
			})
		},
	}
}

func statusRow(s auth.SecurityStatus) []string {
	locked := "-"
	if s.LockedUntil != nil {
		locked = s.LockedUntil.UTC().Format(time.RFC3339)
	}
	return []string{
		s.AccountID,
		joinFactors(s.RequiredFactors),
		string(s.TOTPState),
		strconv.Itoa(s.ConsecutiveFailures),
		locked,
	}
}

func (a *app) unlockCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock ACCOUNT",
		Short: "Clear an account's failure counter and lockout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID := args[0]
			return a.withRuntime(cmd, func(ctx context.Context, rt *bootstrap.Runtime) error {
				if err := rt.Auth.Unlock(ctx, accountID); err != nil {
					return operationFailed("unlock account", accountID, err)
				}
				rt.Logger.Warn().Str("account_id", accountID).Str("via", "authctl").Msg("account unlocked")
				fmt.Fprintf(a.out(cmd), "unlocked %s\n", accountID)
				return nil
			})
		},
	}
}

func (a *app) sessionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage administrator sessions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "revoke ACCOUNT",
		Short: "Revoke every session of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID := args[0]
			return a.withRuntime(cmd, func(ctx context.Context, rt *bootstrap.Runtime) error {
				n, err := rt.Auth.RevokeSessions(ctx, accountID)
				if err != nil {
					return operationFailed("revoke sessions", accountID, err)
				}
				fmt.Fprintf(a.out(cmd), "revoked %d session(s) for %s\n", n, accountID)
				return nil
			})
		},
	})
	return cmd
}
