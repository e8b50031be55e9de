package commands

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/admin-auth-service/internal/auth"
	"github.com/otherjamesbrown/admin-auth-service/internal/bootstrap"
)

func (a *app) auditCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the authentication audit trail",
	}
	var limit int
	list := &cobra.Command{
		Use:   "list ACCOUNT",
		Short: "List an account's newest audit entries",
		Long: `List an account's newest audit entries. The HASH OK column reports whether
the stored content hash still matches the entry.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID := args[0]
			return a.withRuntime(cmd, func(ctx context.Context, rt *bootstrap.Runtime) error {
				entries, err := rt.Auth.ListAudit(ctx, accountID, limit)
				if errors.Is(err, auth.ErrAuditListingUnavailable) {
					return NewOperationError("audit listing is not available", err, "Configure DATABASE_URL.")
				}
				if err != nil {
					return operationFailed("list audit entries", accountID, err)
				}
				return a.render(a.out(cmd), entries,
					[]string{"TIME", "OUTCOME", "REASON", "FACTORS", "HASH OK"},
					func() [][]string {
						rows := make([][]string, 0, len(entries))
						for _, e := range entries {
							ok := "yes"
							if !e.VerifyHash() {
								ok = "NO"
							}
							rows = append(rows, []string{
								e.Timestamp.UTC().Format(time.RFC3339),
								string(e.Outcome),
								orDash(string(e.FailureReason)),
								orDash(strings.Join(e.FactorsUsed, ",")),
								ok,
							})
						}
						return rows
					})
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "Maximum entries to show (1-500)")
	cmd.AddCommand(list)
	return cmd
}
