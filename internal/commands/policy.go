package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/admin-auth-service/internal/bootstrap"
	"github.com/otherjamesbrown/admin-auth-service/internal/policy"
)

func (a *app) policyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Manage per-account security policies",
	}
	cmd.AddCommand(a.policyGetCommand(), a.policySetCommand(), a.policyResetCommand())
	return cmd
}

func (a *app) policyGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get ACCOUNT",
		Short: "Show the effective policy of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID := args[0]
			return a.withRuntime(cmd, func(ctx context.Context, rt *bootstrap.Runtime) error {
				p, err := rt.Auth.GetPolicy(ctx, accountID)
				if err != nil {
					return operationFailed("load policy", accountID, err)
				}
				return a.writePolicy(cmd, accountID, p)
			})
		},
	}
}

type policyFlags struct {
	factors        []string
	maxAttempts    int
	lockout        time.Duration
	sessionTimeout time.Duration
}

func (a *app) policySetCommand() *cobra.Command {
	var f policyFlags
	cmd := &cobra.Command{
		Use:   "set ACCOUNT",
		Short: "Change an account's policy",
		Long: `Change an account's policy. Only the flags given are changed; the rest
are taken from the account's current effective policy.`,
		Example: "  authctl policy set alice --factors password,totp --max-attempts 3 --lockout 15m",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID := args[0]
			return a.withRuntime(cmd, func(ctx context.Context, rt *bootstrap.Runtime) error {
				current, err := rt.Auth.GetPolicy(ctx, accountID)
				if err != nil {
					return operationFailed("load policy", accountID, err)
				}
				next, err := applyPolicyFlags(cmd, current, f)
				if err != nil {
					return err
				}
				stored, err := rt.Auth.SetPolicy(ctx, accountID, next)
				if errors.Is(err, policy.ErrInvalidPolicy) {
					return NewUsageError(err.Error(), "The password factor is always required and counts must be positive.")
				}
				if err != nil {
					return operationFailed("store policy", accountID, err)
				}
				rt.Logger.Warn().Str("account_id", accountID).Str("via", "authctl").Msg("policy updated")
				return a.writePolicy(cmd, accountID, stored)
			})
		},
	}
	cmd.Flags().StringSliceVar(&f.factors, "factors", nil, "Required factors: password, totp, device_trust")
	cmd.Flags().IntVar(&f.maxAttempts, "max-attempts", 0, "Consecutive failures before lockout")
	cmd.Flags().DurationVar(&f.lockout, "lockout", 0, "Lockout duration (0 disables lockout)")
	cmd.Flags().DurationVar(&f.sessionTimeout, "session-timeout", 0, "Session lifetime")
	return cmd
}

// applyPolicyFlags overlays the flags the user set onto p.
func applyPolicyFlags(cmd *cobra.Command, p policy.Policy, f policyFlags) (policy.Policy, error) {
	flags := cmd.Flags()
	if flags.Changed("factors") {
		names := make([]string, 0, len(f.factors))
		for _, n := range f.factors {
			names = append(names, strings.TrimSpace(n))
		}
		factors, err := policy.ParseFactors(names)
		if err != nil {
			return p, NewUsageError(err.Error(), "Valid factors are password, totp and device_trust.")
		}
		p.RequiredFactors = factors
	}
	if flags.Changed("max-attempts") {
		p.MaxAttempts = f.maxAttempts
	}
	if flags.Changed("lockout") {
		p.LockoutDurationSeconds = int(f.lockout / time.Second)
	}
	if flags.Changed("session-timeout") {
		p.SessionTimeoutSeconds = int(f.sessionTimeout / time.Second)
	}
	return p, nil
}

func (a *app) policyResetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reset ACCOUNT",
		Short: "Revert an account to the default policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID := args[0]
			return a.withRuntime(cmd, func(ctx context.Context, rt *bootstrap.Runtime) error {
				if err := rt.Auth.ResetPolicy(ctx, accountID); err != nil {
					return operationFailed("reset policy", accountID, err)
				}
				rt.Logger.Warn().Str("account_id", accountID).Str("via", "authctl").Msg("policy reset to default")
				fmt.Fprintf(a.out(cmd), "policy for %s reset to default\n", accountID)
				return nil
			})
		},
	}
}

func (a *app) writePolicy(cmd *cobra.Command, accountID string, p policy.Policy) error {
	return a.render(a.out(cmd), p,
		[]string{"ACCOUNT", "FACTORS", "MAX ATTEMPTS", "LOCKOUT", "SESSION TIMEOUT"},
		func() [][]string {
			return [][]string{{
				accountID,
				joinFactors(p.RequiredFactors),
				strconv.Itoa(p.MaxAttempts),
				p.LockoutDuration().String(),
				p.SessionTimeout().String(),
			}}
		})
}

func joinFactors(fs []policy.Factor) string {
	names := make([]string, len(fs))
	for i, f := range fs {
		names[i] = string(f)
	}
	return strings.Join(names, ",")
}
