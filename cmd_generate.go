package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"spacethumbs/core"
	"spacethumbs/generator"
	"spacethumbs/imaging"
	"spacethumbs/thumbnail"
)

// Output formats of the thumbnail and lookup commands.
const (
	formatPNG  = "png"
	formatBGRA = "bgra"
)

func newGenerateCmd() *cobra.Command {
	var (
		input         string
		width, height int
	)
	cmd := &cobra.Command{
		Use:   "generate <output>",
		Short: "Generate a PNG thumbnail, failing with a distinct exit code",
		Long: `Generate runs the bounded pipeline once and writes the result as PNG.

Exit codes: 2 unsupported format, 3 generation failed, 4 timed out,
5 input too large.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{})
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.orch.Generate(cmd.Context(), generator.Request{Path: input, Width: width, Height: height})
			if err != nil {
				return err
			}
			data, err := imaging.EncodePNG(res.Image)
			if err != nil {
				return err
			}
			if err := writeOutput(args[0], data); err != nil {
				return err
			}
			a.logger.Info("thumbnail written",
				zap.String("input", input),
				zap.String("output", args[0]),
				zap.String("generator", res.Generator),
				zap.Duration("elapsed", res.Elapsed))
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "source file")
	cmd.Flags().IntVar(&width, "width", 800, "output width in pixels")
	cmd.Flags().IntVar(&height, "height", 800, "output height in pixels")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func newThumbnailCmd() *cobra.Command {
	var (
		input  string
		size   int
		format string
	)
	cmd := &cobra.Command{
		Use:   "thumbnail <output>",
		Short: "Write a cached or freshly generated thumbnail, or a placeholder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			a, err := newApp(appOptions{})
			if err != nil {
				return err
			}
			defer a.close()

			thumb := a.orch.Thumbnail(cmd.Context(), generator.Request{Path: input, Width: size, Height: size})
			return writeThumbnail(args[0], format, thumb)
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "source file")
	cmd.Flags().IntVar(&size, "size", 256, "square output size in pixels")
	cmd.Flags().StringVar(&format, "format", formatPNG, "output format: png or bgra (premultiplied)")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func newLookupCmd() *cobra.Command {
	var (
		input  string
		size   int
		format string
	)
	cmd := &cobra.Command{
		Use:   "lookup <output>",
		Short: "Write a cached thumbnail or the loading placeholder without waiting",
		Long: `Lookup answers from the cache only. On a miss it writes the loading
placeholder and starts a detached regenerate job, so the next lookup hits.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			a, err := newApp(appOptions{spawner: true})
			if err != nil {
				return err
			}
			defer a.close()

			abs, err := filepath.Abs(input)
			if err != nil {
				return err
			}
			thumb := a.orch.Lookup(cmd.Context(), generator.Request{Path: abs, Width: size, Height: size})
			return writeThumbnail(args[0], format, thumb)
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "source file")
	cmd.Flags().IntVar(&size, "size", 256, "square output size in pixels")
	cmd.Flags().StringVar(&format, "format", formatPNG, "output format: png or bgra (premultiplied)")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

// newRegenerateCmd is the entry point of the detached job Lookup spawns.
func newRegenerateCmd() *cobra.Command {
	var (
		input         string
		width, height int
	)
	cmd := &cobra.Command{
		Use:    "regenerate",
		Short:  "Fill the cache for one file (background job)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{})
			if err != nil {
				return err
			}
			defer a.close()

			if err := core.LowerProcessPriority(); err != nil {
				a.logger.Debug("could not lower process priority", zap.Error(err))
			}
			if a.cache == nil {
				return errors.New("regenerate needs a cache directory")
			}
			res, err := a.orch.Ensure(cmd.Context(), generator.Request{Path: input, Width: width, Height: height})
			if err != nil {
				return err
			}
			a.logger.Debug("regenerated",
				zap.String("input", input),
				zap.Bool("cache_hit", res.CacheHit))
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "source file")
	cmd.Flags().IntVar(&width, "width", 256, "width in pixels")
	cmd.Flags().IntVar(&height, "height", 256, "height in pixels")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func checkFormat(format string) error {
	switch format {
	case formatPNG, formatBGRA:
		return nil
	}
	return &exitError{code: core.ExitCodeError, err: fmt.Errorf("unknown format %q (want png or bgra)", format)}
}

func writeThumbnail(path, format string, t thumbnail.Thumbnail) error {
	var data []byte
	if format == formatBGRA {
		data = t.Premultiplied()
	} else {
		var err error
		if data, err = imaging.EncodePNG(t.Image); err != nil {
			return err
		}
	}
	return writeOutput(path, data)
}

// writeOutput replaces path atomically so readers never see a partial file.
func writeOutput(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".spacethumbs-*.tmp")
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("write output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("write output: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
