package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/admin-auth-service/internal/bootstrap"
	"github.com/otherjamesbrown/admin-auth-service/internal/security"
)

const minPasswordLength = 12

func (a *app) totpCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "totp",
		Short: "Manage TOTP factors",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "reset ACCOUNT",
		Short: "Remove an account's TOTP factor and revoke its sessions",
		Long: `Remove an account's TOTP factor and revoke its sessions. If the account's
policy requires totp, its next login fails with enrollment_required until the
account enrolls again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID := args[0]
			return a.withRuntime(cmd, func(ctx context.Context, rt *bootstrap.Runtime) error {
				n, err := rt.Auth.ResetTOTP(ctx, accountID)
				if err != nil {
					return operationFailed("reset totp", accountID, err)
				}
				fmt.Fprintf(a.out(cmd), "totp reset for %s, revoked %d session(s)\n", accountID, n)
				return nil
			})
		},
	})
	return cmd
}

func (a *app) passwordCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Manage administrator passwords",
	}
	cmd.AddCommand(&cobra.Command{
		Use:     "set ACCOUNT",
		Short:   "Set an account's password, read from the first line of stdin",
		Example: "  printf '%s\\n' \"$NEW_PASSWORD\" | authctl password set alice",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID := args[0]
			password, err := readPassword(cmd.InOrStdin())
			if err != nil {
				return err
			}
			hash, err := security.HashPassword(password)
			if err != nil {
				return NewOperationError("failed to hash password", err, "")
			}
			return a.withRuntime(cmd, func(ctx context.Context, rt *bootstrap.Runtime) error {
				if rt.Postgres == nil {
					return NewOperationError("password storage is not configured", nil, "Set DATABASE_URL.")
				}
				if err := rt.Postgres.SetPasswordHash(ctx, accountID, hash); err != nil {
					return operationFailed("store password", accountID, err)
				}
				rt.Logger.Warn().Str("account_id", accountID).Str("via", "authctl").Msg("password set")
				fmt.Fprintf(a.out(cmd), "password set for %s\n", accountID)
				return nil
			})
		},
	})
	return cmd
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", NewOperationError("failed to read password", err, "")
	}
	password := strings.TrimRight(line, "\r\n")
	if len(password) < minPasswordLength {
		return "", NewUsageError(
			fmt.Sprintf("password must be at least %d characters", minPasswordLength),
			"Pipe the password on stdin.",
		)
	}
	return password, nil
}
