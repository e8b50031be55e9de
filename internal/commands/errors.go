package commands

import "fmt"

// Exit codes returned by authctl.
const (
	ExitOperation = 1
	ExitUsage     = 2
)

// CLIError is a failure with an exit code and an optional recovery hint.
type CLIError struct {
	Message    string
	Cause      error
	Suggestion string
	ExitCode   int
}

func (e *CLIError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if e.Suggestion != "" {
		msg += "\n\nSuggestion: " + e.Suggestion
	}
	return msg
}

func (e *CLIError) Unwrap() error { return e.Cause }

// NewUsageError reports incorrect command usage.
func NewUsageError(message, suggestion string) *CLIError {
	return &CLIError{Message: message, Suggestion: suggestion, ExitCode: ExitUsage}
}

// NewOperationError reports a failed backend operation.
func NewOperationError(message string, cause error, suggestion string) *CLIError {
	return &CLIError{Message: message, Cause: cause, Suggestion: suggestion, ExitCode: ExitOperation}
}

func operationFailed(action, accountID string, err error) error {
	return NewOperationError(fmt.Sprintf("failed to %s for %q", action, accountID), err, "")
}
