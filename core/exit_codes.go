package core

// Exit codes for the application.
// These follow Unix conventions where signal-based exits are 128 + signal number.
const (
	// ExitCodeSuccess indicates a written thumbnail or clean shutdown (exit code 0)
	ExitCodeSuccess = 0

	// ExitCodeError indicates a usage, configuration or I/O error (exit code 1)
	ExitCodeError = 1

	// ExitCodeUnsupported indicates no generator accepted the input (exit code 2)
	ExitCodeUnsupported = 2

	// ExitCodeGenerationFailed indicates the selected generator failed,
	// panicked or produced a malformed buffer (exit code 3)
	ExitCodeGenerationFailed = 3

	// ExitCodeTimedOut indicates generation exceeded the wall-clock limit (exit code 4)
	ExitCodeTimedOut = 4

	// ExitCodeTooLarge indicates the input exceeded the size ceiling (exit code 5)
	ExitCodeTooLarge = 5

	// ExitCodeSIGINT indicates termination due to SIGINT (Ctrl+C)
	// Convention: 128 + 2 (SIGINT) = 130
	ExitCodeSIGINT = 130

	// ExitCodeSIGTERM indicates termination due to SIGTERM
	// Convention: 128 + 15 (SIGTERM) = 143
	ExitCodeSIGTERM = 143
)

// ExitCodeName returns a human-readable name for an exit code.
func ExitCodeName(code int) string {
	switch code {
	case ExitCodeSuccess:
		return "success"
	case ExitCodeError:
		return "error"
	case ExitCodeUnsupported:
		return "unsupported format"
	case ExitCodeGenerationFailed:
		return "generation failed"
	case ExitCodeTimedOut:
		return "timed out"
	case ExitCodeTooLarge:
		return "input too large"
	case ExitCodeSIGINT:
		return "interrupted (SIGINT)"
	case ExitCodeSIGTERM:
		return "terminated (SIGTERM)"
	default:
		return "unknown"
	}
}

// IsSignalExit returns true if the exit code indicates a signal-based termination.
func IsSignalExit(code int) bool {
	return code == ExitCodeSIGINT || code == ExitCodeSIGTERM
}
