// Command authctl is the operator CLI for administrator authentication.
//
// It shares configuration with admin-auth-api (DATABASE_URL,
// TOTP_ENCRYPTION_KEY, REDIS_ADDR, KAFKA_BROKERS) and acts on the same
// backends directly.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/otherjamesbrown/admin-auth-service/internal/commands"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := commands.NewRootCommand(nil, version)
	if err := root.ExecuteContext(ctx); err != nil {
		var cliErr *commands.CLIError
		if errors.As(err, &cliErr) {
			fmt.Fprintf(os.Stderr, "%v\n", cliErr)
			stop()
			os.Exit(cliErr.ExitCode)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(commands.ExitUsage)
	}
}
