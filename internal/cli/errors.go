package cli

import "fmt"

const (
	// ExitRuntimeError is returned for configuration and runtime failures.
	ExitRuntimeError = 1
	// ExitThresholdsFailed is returned when the run completed but at least
	// one threshold failed.
	ExitThresholdsFailed = 99
)

// ExitError carries a process exit code alongside the error.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func exitErrorf(code int, format string, args ...any) *ExitError {
	return &ExitError{Code: code, Err: fmt.Errorf(format, args...)}
}
