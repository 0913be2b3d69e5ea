// Command spacethumbs generates and caches file thumbnails for shell hosts.
//
// It runs as a one-shot CLI (generate, thumbnail, lookup), as the detached
// background job lookups spawn (regenerate), and as a housekeeping service
// that prunes the cache and prewarms watched directories.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"spacethumbs/core"
	"spacethumbs/thumbnail"
)

func main() {
	// A .env file is optional; its absence is the normal case.
	_ = godotenv.Load()
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the command line and returns the process exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if ctx.Err() != nil && err != nil {
		fmt.Fprintln(stderr, "Interrupted")
		return core.ExitCodeSIGINT
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return exitCodeFor(err)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           core.AppName,
		Short:         "Thumbnail generation and caching for shell hosts",
		Version:       core.VersionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newGenerateCmd(),
		newThumbnailCmd(),
		newLookupCmd(),
		newRegenerateCmd(),
		newBatchCmd(),
		newPruneCmd(),
		newStatsCmd(),
		newServiceCmd(),
	)
	return root
}

// exitError carries an explicit exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

// exitCodeFor maps a command error to the process exit code.
func exitCodeFor(err error) int {
	var ee *exitError
	switch {
	case err == nil:
		return core.ExitCodeSuccess
	case errors.As(err, &ee):
		return ee.code
	case errors.Is(err, thumbnail.ErrUnsupported):
		return core.ExitCodeUnsupported
	case errors.Is(err, thumbnail.ErrTooLarge):
		return core.ExitCodeTooLarge
	case errors.Is(err, thumbnail.ErrTimedOut):
		return core.ExitCodeTimedOut
	case errors.Is(err, thumbnail.ErrGeneration):
		return core.ExitCodeGenerationFailed
	default:
		return core.ExitCodeError
	}
}
