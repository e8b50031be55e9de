// Package commands provides the authctl operator commands.
//
// Purpose:
//
//	authctl talks to the same Postgres, Redis and Kafka backends as the API
//	server and drives auth.Service directly. It is the break-glass path for
//	operators when no TOTP-satisfied session is available, e.g. to set the
//	first administrator password or clear a lockout.
//
// Key Responsibilities:
//   - status, unlock and session revocation for one account
//   - policy get|set|reset
//   - totp reset
//   - password set (reads the password from stdin)
//   - device list|trust|revoke
//   - audit list
//
// Error Handling:
//   - Usage mistakes return a CLIError with exit code 2
//   - Backend failures return a CLIError with exit code 1
package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/admin-auth-service/internal/bootstrap"
	"github.com/otherjamesbrown/admin-auth-service/internal/config"
)

// Loader builds the runtime a command operates on.
type Loader func(ctx context.Context) (*bootstrap.Runtime, error)

// DefaultLoader loads configuration from the environment and bootstraps
// every configured backend. Logs below warn level are suppressed unless
// verbose is set.
func DefaultLoader(verbose bool) Loader {
	return func(ctx context.Context) (*bootstrap.Runtime, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		if !verbose {
			cfg.LogLevel = "warn"
		}
		return bootstrap.Initialize(ctx, cfg)
	}
}

type app struct {
	load   Loader
	format string
}

// NewRootCommand builds the authctl command tree. A nil loader selects
// DefaultLoader.
func NewRootCommand(load Loader, version string) *cobra.Command {
	a := &app{load: load}
	var verbose bool

	root := &cobra.Command{
		Use:           "authctl",
		Short:         "Operate administrator authentication",
		Long:          "authctl manages administrator policies, TOTP factors, lockouts, trusted devices and passwords.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if a.load == nil {
				a.load = DefaultLoader(verbose)
			}
			if a.format != "table" && a.format != "json" {
				return NewUsageError(fmt.Sprintf("unknown format %q", a.format), "Use --format table or --format json.")
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.format, "format", "table", "Output format: table, json")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "Show service logs")

	root.AddCommand(
		a.statusCommand(),
		a.unlockCommand(),
		a.sessionsCommand(),
		a.policyCommand(),
		a.totpCommand(),
		a.passwordCommand(),
		a.deviceCommand(),
		a.auditCommand(),
	)
	return root
}

// withRuntime loads the runtime, runs fn and always closes the runtime.
func (a *app) withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *bootstrap.Runtime) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := a.load(ctx)
	if err != nil {
		return NewOperationError("failed to initialize runtime", err, "Check DATABASE_URL, TOTP_ENCRYPTION_KEY and backend connectivity.")
	}
	defer func() { _ = rt.Close(context.WithoutCancel(ctx)) }()
	return fn(ctx, rt)
}

func (a *app) out(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}
