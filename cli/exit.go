package cli

import (
	"fmt"

	"github.com/petal-labs/finagent/tool"
)

// Process exit codes.
const (
	exitSuccess    = 0
	exitGeneric    = 1
	exitValidation = 2
	exitAssembly   = 3
)

// ExitError is an error that carries a specific process exit code.
// Cobra's RunE returns this to signal the desired exit code to main.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

// exitError creates a new ExitError with the given code and formatted message.
func exitError(code int, format string, args ...any) *ExitError {
	return &ExitError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// exitCodeFor maps a failure kind onto a process exit code.
func exitCodeFor(kind tool.Kind) int {
	switch kind {
	case "":
		return exitSuccess
	case tool.KindValidation, tool.KindInvalidRange:
		return exitValidation
	case tool.KindAssembly:
		return exitAssembly
	default:
		return exitGeneric
	}
}

// exitFor wraps err with the exit code of its failure kind.
func exitFor(err error) error {
	if err == nil {
		return nil
	}
	code := exitCodeFor(tool.KindOf(err))
	if code == exitSuccess {
		code = exitGeneric
	}
	return exitError(code, "%v", err)
}
