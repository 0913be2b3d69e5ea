package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"spacethumbs/cache"
	"spacethumbs/core"
)

func newPruneCmd() *cobra.Command {
	var (
		maxAge   time.Duration
		maxBytes string
	)
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old and excess cache entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{})
			if err != nil {
				return err
			}
			defer a.close()
			if a.cache == nil {
				return errors.New("no cache directory to prune")
			}

			policy := cache.Policy{MaxAge: a.cfg.CacheMaxAge, MaxBytes: a.cfg.CacheMaxBytes}
			if cmd.Flags().Changed("max-age") {
				policy.MaxAge = maxAge
			}
			if cmd.Flags().Changed("max-bytes") {
				if policy.MaxBytes, err = core.ParseBytes(maxBytes); err != nil {
					return fmt.Errorf("--max-bytes: %w", err)
				}
			}

			res, err := a.cache.Prune(cmd.Context(), policy)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scanned %d, removed %d (%d by age, %d by size, %d temp), freed %s, kept %d (%s)\n",
				res.Scanned, res.Removed(), res.RemovedAge, res.RemovedSize, res.RemovedTemp,
				core.FormatBytes(res.BytesFreed), res.EntriesKept, core.FormatBytes(res.BytesRemain))
			return nil
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", core.DefaultCacheMaxAge, "delete entries unused for this long (0 disables)")
	cmd.Flags().StringVar(&maxBytes, "max-bytes", core.FormatBytes(core.DefaultCacheMaxBytes), "trim the cache to this size (0 disables)")
	return cmd
}
