package core

import (
	"errors"
	"fmt"
)

// ConfigError represents a configuration-related error with actionable instructions.
type ConfigError struct {
	Code    string // Error code for programmatic handling
	Message string // Human-readable error message
	Action  string // Actionable instruction for resolution
}

func (e *ConfigError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("%s. %s", e.Message, e.Action)
	}
	return e.Message
}

// Error codes for configuration errors
const (
	ErrCodeInvalidValue     = "INVALID_VALUE"
	ErrCodeStateDirMissing  = "STATE_DIR_MISSING"
	ErrCodeConvertersFile   = "CONVERTERS_FILE"
	ErrCodeInvalidConverter = "INVALID_CONVERTER"
)

// ErrInvalidValue returns an error for an environment value outside its allowed range.
func ErrInvalidValue(varName, value, want string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidValue,
		Message: fmt.Sprintf("Invalid %s value %q", varName, value),
		Action:  fmt.Sprintf("Set %s to %s", varName, want),
	}
}

// ErrStateDirMissing returns an error when no per-user state directory can be resolved.
func ErrStateDirMissing(reason string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeStateDirMissing,
		Message: fmt.Sprintf("Cannot resolve the per-user state directory: %s", reason),
		Action:  "Set SPACETHUMBS_CACHE_DIR explicitly, or define LOCALAPPDATA (Windows) / XDG_STATE_HOME or HOME (elsewhere)",
	}
}

// ErrConvertersFile returns an error for an unreadable or malformed converters file.
func ErrConvertersFile(path string, err error) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeConvertersFile,
		Message: fmt.Sprintf("Cannot load converters file %s: %v", path, err),
		Action:  "Fix the YAML syntax or point SPACETHUMBS_CONVERTERS at a valid file",
	}
}

// ErrInvalidConverter returns an error for a converter entry lacking required fields.
func ErrInvalidConverter(ext, reason string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidConverter,
		Message: fmt.Sprintf("Invalid converter for %q: %s", ext, reason),
		Action:  "Every converter needs a command and an output extension (obj, stl, ply, glb or gltf)",
	}
}

// IsConfigError checks if an error is a ConfigError and returns it if so
func IsConfigError(err error) (*ConfigError, bool) {
	var configErr *ConfigError
	if errors.As(err, &configErr) {
		return configErr, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from an error if it's a ConfigError
func GetErrorCode(err error) string {
	if configErr, ok := IsConfigError(err); ok {
		return configErr.Code
	}
	return ""
}
