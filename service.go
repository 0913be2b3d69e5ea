package main

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"spacethumbs/cache"
	"spacethumbs/core"
	"spacethumbs/db"
	"spacethumbs/logging"
	"spacethumbs/shutdown"
	"spacethumbs/watcher"
)

// scratchMaxAge is how old a converter work directory must be before the
// housekeeper treats it as abandoned.
const scratchMaxAge = time.Hour

// housekeeper periodically prunes the cache, trims the attempt ledger and
// removes abandoned converter scratch directories.
type housekeeper struct {
	cache         *cache.Cache
	db            *db.Database
	policy        cache.Policy
	retentionDays int
	interval      time.Duration
	scratchDir    string
	logger        *logging.Logger
}

// sweepReport is the outcome of one housekeeping pass.
type sweepReport struct {
	Prune           cache.PruneResult
	AttemptsDeleted int64
	WorkDirsRemoved int
}

func newHousekeeper(a *app) *housekeeper {
	return &housekeeper{
		cache:         a.cache,
		db:            a.db,
		policy:        cache.Policy{MaxAge: a.cfg.CacheMaxAge, MaxBytes: a.cfg.CacheMaxBytes},
		retentionDays: a.cfg.LedgerRetentionDays,
		interval:      a.cfg.HousekeepInterval,
		logger:        a.logger.Named("housekeeper"),
	}
}

// sweep runs one pass. Each step is independent; a failure is logged and
// the next step still runs.
func (h *housekeeper) sweep(ctx context.Context) sweepReport {
	var rep sweepReport
	if h.cache != nil {
		res, err := h.cache.Prune(ctx, h.policy)
		if err != nil {
			h.logger.Warn("cache prune failed", zap.Error(err))
		}
		rep.Prune = res
	}
	if h.db != nil && h.retentionDays > 0 {
		res, err := h.db.Cleanup(ctx, h.retentionDays)
		if err != nil {
			h.logger.Warn("ledger cleanup failed", zap.Error(err))
		}
		rep.AttemptsDeleted = res.AttemptsDeleted
	}
	rep.WorkDirsRemoved = shutdown.RemoveStaleWorkDirs(ctx, h.logger, h.scratchDir, scratchMaxAge)

	h.logger.Info("housekeeping sweep",
		zap.Int("cache_removed", rep.Prune.Removed()),
		zap.String("cache_freed", core.FormatBytes(rep.Prune.BytesFreed)),
		zap.String("cache_size", core.FormatBytes(rep.Prune.BytesRemain)),
		zap.Int64("attempts_deleted", rep.AttemptsDeleted),
		zap.Int("workdirs_removed", rep.WorkDirsRemoved))
	return rep
}

// run sweeps immediately and then every interval until ctx ends.
func (h *housekeeper) run(ctx context.Context) error {
	h.sweep(ctx)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.sweep(ctx)
		}
	}
}

// program adapts the housekeeper to service.Interface. Start must not
// block; the work runs under a shutdown.Manager.
type program struct {
	app     *app
	manager *shutdown.Manager
}

func (p *program) Start(s service.Service) error {
	a, err := newApp(appOptions{asyncLedger: true, memory: true})
	if err != nil {
		return err
	}
	p.app = a
	m := shutdown.NewManager(a.logger.Named("shutdown"))
	p.manager = m

	m.Go("housekeeper", newHousekeeper(a).run)
	if len(a.cfg.WatchDirs) > 0 {
		if a.cache == nil {
			a.logger.Warn("watch directories ignored without a cache directory")
		} else {
			pw := watcher.New(a.orch, watcher.Options{
				Roots: a.cfg.WatchDirs,
				Filter: watcher.Filter{
					Registry: a.registry,
					Exclude:  []string{a.cache.Dir()},
					MaxBytes: a.cfg.MaxInputBytes,
				},
				Logger: a.logger.Named("prewarm"),
			})
			// A broken watcher must not take the housekeeper down with it.
			m.Go("prewarm", func(ctx context.Context) error {
				if err := pw.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					a.logger.Error("prewarm watcher stopped", zap.Error(err))
				}
				return nil
			})
		}
	}

	if a.ledger != nil {
		m.Register("ledger writer", shutdown.PriorityLedger, func(ctx context.Context) error {
			a.ledger.Stop(ledgerDrainTimeout)
			return nil
		})
	}
	if a.db != nil {
		m.Register("ledger database", shutdown.PriorityLedger+1, func(ctx context.Context) error {
			return a.db.Close()
		})
	}
	m.Register("scratch", shutdown.PriorityScratch, shutdown.CleanupWorkDirs(a.logger, "", scratchMaxAge))
	m.Register("logger", shutdown.PriorityLogger, func(ctx context.Context) error {
		_ = a.logger.Sync()
		return nil
	})

	if service.Interactive() {
		m.Start()
	}
	a.logger.Info("service started",
		zap.String("version", core.VersionString()),
		zap.Duration("interval", a.cfg.HousekeepInterval),
		zap.Strings("watch", a.cfg.WatchDirs))
	return nil
}

func (p *program) Stop(s service.Service) error {
	if p.manager == nil {
		return nil
	}
	return p.manager.Shutdown()
}

// serviceConfig describes the service to the platform manager.
func serviceConfig() *service.Config {
	cfg := &service.Config{
		Name:        core.AppName,
		DisplayName: "spacethumbs housekeeper",
		Description: "Prunes the thumbnail cache and prewarms watched directories",
		Arguments:   []string{"service", "run"},
	}
	if runtime.GOOS == "windows" {
		cfg.Option = service.KeyValue{"StartType": "automatic"}
	} else {
		cfg.Option = service.KeyValue{"UserService": true}
	}
	return cfg
}

func newService() (service.Service, error) {
	s, err := service.New(&program{}, serviceConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	return s, nil
}

func newServiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Install, control or run the housekeeping service",
	}
	for _, action := range []string{"install", "uninstall", "start", "stop", "restart"} {
		cmd.AddCommand(&cobra.Command{
			Use:   action,
			Short: fmt.Sprintf("%s the service", action),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := newService()
				if err != nil {
					return err
				}
				if err := service.Control(s, action); err != nil {
					return fmt.Errorf("failed to %s service: %w", action, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Service %s: ok\n", action)
				return nil
			},
		})
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show whether the service is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newService()
			if err != nil {
				return err
			}
			status, err := s.Status()
			if err != nil && !errors.Is(err, service.ErrNotInstalled) {
				return fmt.Errorf("failed to query service: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), statusName(status, err))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the service in the foreground or under the service manager",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newService()
			if err != nil {
				return err
			}
			return s.Run()
		},
	})
	return cmd
}

func statusName(status service.Status, err error) string {
	if errors.Is(err, service.ErrNotInstalled) {
		return "not installed"
	}
	switch status {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	}
	return "unknown"
}
