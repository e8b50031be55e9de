package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/admin-auth-service/internal/auth"
	"github.com/otherjamesbrown/admin-auth-service/internal/bootstrap"
	"github.com/otherjamesbrown/admin-auth-service/internal/device"
)

func (a *app) deviceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Manage trusted devices",
	}
	cmd.AddCommand(a.deviceListCommand(), a.deviceTrustCommand(), a.deviceRevokeCommand())
	return cmd
}

func (a *app) deviceListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list ACCOUNT",
		Short: "List an account's trusted devices",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID := args[0]
			return a.withRuntime(cmd, func(ctx context.Context, rt *bootstrap.Runtime) error {
				devices, err := rt.Auth.ListDevices(ctx, accountID)
				if err != nil {
					return operationFailed("list devices", accountID, err)
				}
				if devices == nil {
					devices = []device.TrustedDevice{}
				}
				return a.render(a.out(cmd), devices,
					[]string{"FINGERPRINT SHA256", "LABEL", "CREATED"},
					func() [][]string {
						rows := make([][]string, 0, len(devices))
						for _, d := range devices {
							rows = append(rows, []string{d.FingerprintHash, orDash(d.Label), d.CreatedAt.UTC().Format(time.RFC3339)})
						}
						return rows
					})
			})
		},
	}
}

func (a *app) deviceTrustCommand() *cobra.Command {
	var label string
	cmd := &cobra.Command{
		Use:   "trust ACCOUNT FINGERPRINT",
		Short: "Trust a device fingerprint for an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID := args[0]
			return a.withRuntime(cmd, func(ctx context.Context, rt *bootstrap.Runtime) error {
				d, err := rt.Auth.TrustDevice(ctx, accountID, args[1], label)
				if errors.Is(err, auth.ErrFingerprintRequired) {
					return NewUsageError("fingerprint must not be blank", "")
				}
				if err != nil {
					return operationFailed("trust device", accountID, err)
				}
				fmt.Fprintf(a.out(cmd), "trusted %s for %s\n", d.FingerprintHash, accountID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "Human-readable device label")
	return cmd
}

func (a *app) deviceRevokeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke ACCOUNT FINGERPRINT_SHA256",
		Short: "Revoke a trusted device by fingerprint hash",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID, hash := args[0], args[1]
			return a.withRuntime(cmd, func(ctx context.Context, rt *bootstrap.Runtime) error {
				err := rt.Auth.RevokeDevice(ctx, accountID, hash)
				if errors.Is(err, device.ErrNotFound) {
					return NewUsageError(fmt.Sprintf("no trusted device %s for %q", hash, accountID), "Run 'authctl device list' to see fingerprint hashes.")
				}
				if err != nil {
					return operationFailed("revoke device", accountID, err)
				}
				fmt.Fprintf(a.out(cmd), "revoked %s for %s\n", hash, accountID)
				return nil
			})
		},
	}
}
