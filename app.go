package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"spacethumbs/cache"
	"spacethumbs/core"
	"spacethumbs/db"
	"spacethumbs/generator"
	"spacethumbs/logging"
	"spacethumbs/procrunner"
	"spacethumbs/thumbnail"
)

// ledgerDrainTimeout bounds how long closing waits for queued attempts.
const ledgerDrainTimeout = 5 * time.Second

// appOptions selects the collaborators a command needs.
type appOptions struct {
	// asyncLedger runs the attempt writer in the background. One-shot
	// commands insert synchronously instead.
	asyncLedger bool
	// memory enables the decoded-thumbnail tier for long-lived hosts.
	memory bool
	// spawner enables background regeneration for lookups.
	spawner bool
}

// app holds the wiring shared by every command.
type app struct {
	cfg      *core.Config
	logger   *logging.Logger
	registry *generator.Registry
	cache    *cache.Cache
	db       *db.Database
	ledger   *db.Repository
	orch     *thumbnail.Orchestrator
}

// newApp loads the configuration and wires the pipeline. A missing cache
// directory or an unopenable ledger degrades the app instead of failing it.
func newApp(opts appOptions) (*app, error) {
	cfg, err := core.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}

	converters, err := core.LoadConverters(cfg.ConvertersPath)
	if err != nil {
		logger.Warn("ignoring converters file", zap.String("path", cfg.ConvertersPath), zap.Error(err))
		converters = core.DefaultConverters()
	}
	runner := procrunner.New(procrunner.Options{
		MemoryLimit:  int64(cfg.ConverterMemoryBytes()),
		CgroupParent: cfg.CgroupParent,
	}, logger.Named("procrunner"))
	a.registry = generator.Default(generator.Options{
		Converters: converters,
		Runner:     runner,
		Logger:     logger.Named("generator"),
	})

	a.cache, err = cache.New(cfg.CacheDir, logger.Named("cache"))
	if err != nil {
		logger.Warn("thumbnail cache disabled", zap.Error(err))
		a.cache = nil
	}

	var memory *cache.Memory
	if opts.memory && cfg.MemoryEntries > 0 {
		if memory, err = cache.NewMemory(cfg.MemoryEntries); err != nil {
			logger.Warn("memory tier disabled", zap.Error(err))
			memory = nil
		}
	}

	var recorder thumbnail.Recorder
	if cfg.LedgerPath != "" {
		if err := a.openLedger(opts.asyncLedger); err != nil {
			logger.Warn("attempt ledger disabled", zap.String("path", cfg.LedgerPath), zap.Error(err))
		} else {
			recorder = a.ledger
		}
	}

	var spawner thumbnail.Spawner
	if opts.spawner {
		s, err := thumbnail.NewSelfSpawner(logger.Named("spawn"))
		if err != nil {
			logger.Warn("background regeneration disabled", zap.Error(err))
		} else {
			spawner = s
		}
	}

	a.orch = thumbnail.New(thumbnail.Options{
		Config:   thumbnail.ConfigFrom(cfg),
		Registry: a.registry,
		Cache:    a.cache,
		Memory:   memory,
		Spawner:  spawner,
		Recorder: recorder,
		Logger:   logger,
	})
	return a, nil
}

func (a *app) openLedger(async bool) error {
	if _, err := core.EnsureDirectory(filepath.Dir(a.cfg.LedgerPath)); err != nil {
		return err
	}
	database, err := db.Open(a.cfg.LedgerPath, a.logger.Named("db"))
	if err != nil {
		return err
	}
	a.db = database
	a.ledger = db.NewRepository(database, a.logger.Named("ledger"))
	if async {
		a.ledger.Start()
	}
	return nil
}

// requireLedger returns the ledger or a usage error when it is disabled.
func (a *app) requireLedger() (*db.Repository, error) {
	if a.ledger == nil {
		return nil, errors.New("attempt ledger is disabled (set SPACETHUMBS_LEDGER=true and a writable state directory)")
	}
	return a.ledger, nil
}

// close drains the ledger, closes the database and flushes the logger.
func (a *app) close() {
	if a.ledger != nil {
		a.ledger.Stop(ledgerDrainTimeout)
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close ledger database", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// newLogger logs to stderr and, when configured, to the rotating log file.
// An unwritable log file falls back to the console alone.
func newLogger(cfg *core.Config) (*logging.Logger, error) {
	level := logging.ParseLogLevel(cfg.LogLevel, zapcore.InfoLevel)
	if cfg.DevMode {
		level = zapcore.DebugLevel
	}
	opts := logging.Options{
		Level:       level,
		Development: cfg.DevMode,
		FilePath:    cfg.LogFile,
		File:        logging.DefaultFileWriterConfig(),
	}
	logger, err := logging.New(opts)
	if err == nil {
		return logger, nil
	}
	fmt.Fprintf(os.Stderr, "Warning: log file unavailable, logging to console only: %v\n", err)
	opts.FilePath = ""
	return logging.New(opts)
}
