package main

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"spacethumbs/thumbnail"
	"spacethumbs/watcher"
)

func newBatchCmd() *cobra.Command {
	var (
		size int
		jobs int
	)
	cmd := &cobra.Command{
		Use:   "batch <dir>",
		Short: "Prewarm the cache for every supported file under a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{})
			if err != nil {
				return err
			}
			defer a.close()
			if a.cache == nil {
				return errors.New("batch needs a cache directory")
			}

			sum, err := watcher.WarmTree(cmd.Context(), a.orch, args[0], watcher.TreeOptions{
				Filter: watcher.Filter{
					Registry: a.registry,
					Exclude:  []string{a.cache.Dir()},
					MaxBytes: a.cfg.MaxInputBytes,
				},
				Width:   size,
				Height:  size,
				Workers: jobs,
				Logger:  a.logger.Named("batch"),
			})
			if sum != nil {
				printBatchSummary(cmd.OutOrStdout(), args[0], sum)
			}
			return err
		},
	}
	cmd.Flags().IntVar(&size, "size", watcher.DefaultSize, "square thumbnail size in pixels")
	cmd.Flags().IntVarP(&jobs, "jobs", "j", watcher.DefaultWorkers(), "parallel generations")
	return cmd
}

func printBatchSummary(w io.Writer, root string, sum *watcher.Summary) {
	fmt.Fprintln(w)
	color.New(color.FgCyan, color.Bold).Fprintf(w, "━━━ %s ━━━\n", root)
	fmt.Fprintf(w, "  files:      %d\n", sum.Files)
	fmt.Fprintf(w, "  cache hits: %d\n", sum.CacheHits)

	states := make([]thumbnail.State, 0, len(sum.States))
	for s := range sum.States {
		states = append(states, s)
	}
	sort.Slice(states, func(i, j int) bool { return states[i] < states[j] })
	for _, s := range states {
		stateColor(s.String()).Fprintf(w, "  %-11s %d\n", s.String()+":", sum.States[s])
	}

	if len(sum.Failures) > 0 {
		fmt.Fprintln(w)
		red := color.New(color.FgRed)
		for _, f := range sum.Failures {
			red.Fprintf(w, "  ✗ %s\n", f.Path)
			color.New(color.FgHiBlack).Fprintf(w, "    └─ %s\n", f.Err)
		}
	}
}

// stateColor picks the display colour of a ledger state name.
func stateColor(state string) *color.Color {
	switch state {
	case thumbnail.Completed.String():
		return color.New(color.FgGreen)
	case thumbnail.TimedOut.String(), thumbnail.TooLarge.String():
		return color.New(color.FgYellow)
	case thumbnail.Failed.String():
		return color.New(color.FgRed)
	}
	return color.New(color.FgWhite)
}
