package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"spacethumbs/db"
)

func newStatsCmd() *cobra.Command {
	var (
		limit int
		since time.Duration
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show recorded generation attempts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{})
			if err != nil {
				return err
			}
			defer a.close()
			ledger, err := a.requireLedger()
			if err != nil {
				return err
			}

			var from time.Time
			if since > 0 {
				from = time.Now().Add(-since)
			}
			counts, err := ledger.StateCounts(cmd.Context(), from)
			if err != nil {
				return err
			}
			recent, err := ledger.RecentAttempts(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printStats(cmd.OutOrStdout(), counts, recent)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of recent attempts to list")
	cmd.Flags().DurationVar(&since, "since", 0, "only count attempts newer than this (0 counts all)")
	return cmd
}

func printStats(w io.Writer, counts map[string]int64, recent []db.Attempt) {
	header := color.New(color.FgCyan, color.Bold)
	header.Fprintln(w, "━━━ attempts by state ━━━")

	states := make([]string, 0, len(counts))
	var total int64
	for s, n := range counts {
		states = append(states, s)
		total += n
	}
	sort.Strings(states)
	for _, s := range states {
		stateColor(s).Fprintf(w, "  %-10s %6d\n", s, counts[s])
	}
	fmt.Fprintf(w, "  %-10s %6d\n", "total", total)

	if len(recent) == 0 {
		return
	}
	fmt.Fprintln(w)
	header.Fprintln(w, "━━━ recent ━━━")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, a := range recent {
		source := a.SourcePath
		if source == "" {
			source = "<memory>"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%dx%d\t%v\t%s\n",
			a.CreatedAt.Local().Format(time.DateTime),
			stateColor(a.State).Sprint(a.State),
			a.Generator, a.Width, a.Height,
			a.Duration.Round(time.Millisecond), source)
	}
	_ = tw.Flush()
}
