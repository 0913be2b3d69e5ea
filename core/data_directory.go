package core

import (
	"os"
	"path/filepath"
	"runtime"
)

// AppName is the product directory name under the per-user state root.
const AppName = "spacethumbs"

// GetStateDirectory returns the per-user local-state directory for the product.
//
// Paths by platform:
//   - Windows: %LOCALAPPDATA%\spacethumbs (no fallback; LOCALAPPDATA must be set)
//   - Others: $XDG_STATE_HOME/spacethumbs, else ~/.local/state/spacethumbs
//
// Does NOT create the directory.
func GetStateDirectory() (string, error) {
	return stateDirectory(runtime.GOOS, os.Getenv, os.UserHomeDir)
}

// stateDirectory is GetStateDirectory with its inputs injected for tests.
func stateDirectory(goos string, getenv func(string) string, home func() (string, error)) (string, error) {
	if goos == "windows" {
		local := getenv("LOCALAPPDATA")
		if local == "" {
			return "", ErrStateDirMissing("LOCALAPPDATA is not set")
		}
		return filepath.Join(local, AppName), nil
	}

	if xdg := getenv("XDG_STATE_HOME"); xdg != "" && filepath.IsAbs(xdg) {
		return filepath.Join(xdg, AppName), nil
	}
	h, err := home()
	if err != nil || h == "" {
		return "", ErrStateDirMissing("no home directory")
	}
	return filepath.Join(h, ".local", "state", AppName), nil
}

// GetStateFilePath returns the full path for a file within the state directory.
// Example: GetStateFilePath("ledger.db") -> "/home/user/.local/state/spacethumbs/ledger.db"
func GetStateFilePath(elem ...string) (string, error) {
	dir, err := GetStateDirectory()
	if err != nil {
		return "", err
	}
	return filepath.Join(append([]string{dir}, elem...)...), nil
}

// EnsureDirectory creates dir (and parents) with owner-only permissions.
func EnsureDirectory(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}
