// Package thumbnail is the generation-and-caching supervisor. It classifies
// an input, dispatches it to a generator under a hard time limit, caches
// successes by content key and serves placeholders when no fresh result is
// available.
//
// Two entry points serve shell hosts: Thumbnail blocks for at most the
// generation timeout, Lookup never blocks on generation and hands misses to
// an out-of-process job.
package thumbnail

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"time"

	"go.uber.org/zap"

	"spacethumbs/cache"
	"spacethumbs/core"
	"spacethumbs/db"
	"spacethumbs/executor"
	"spacethumbs/generator"
	"spacethumbs/imaging"
	"spacethumbs/logging"
	"spacethumbs/placeholder"
)

// Recorder persists the outcome of every attempt. db.Repository implements
// it.
type Recorder interface {
	RecordAttempt(ctx context.Context, a db.Attempt) error
}

// Config holds the pipeline limits.
type Config struct {
	// Timeout is the wall-clock limit per generation (default: 5s)
	Timeout time.Duration

	// PollInterval is how often the executor checks for completion (default: 20ms)
	PollInterval time.Duration

	// MaxInputBytes short-circuits larger inputs to TooLarge (default: 300MB)
	MaxInputBytes int64
}

// DefaultConfig returns the production limits.
func DefaultConfig() Config {
	return Config{
		Timeout:       core.DefaultTimeout,
		PollInterval:  core.DefaultPollInterval,
		MaxInputBytes: core.DefaultMaxInputBytes,
	}
}

// ConfigFrom takes the pipeline limits from the application config.
func ConfigFrom(cfg *core.Config) Config {
	return Config{
		Timeout:       cfg.Timeout,
		PollInterval:  cfg.PollInterval,
		MaxInputBytes: cfg.MaxInputBytes,
	}
}

// Options wires the orchestrator's collaborators. Only Registry is required.
type Options struct {
	Config   Config
	Registry *generator.Registry
	// Cache nil runs in no-cache mode: Generate still works, Lookup always
	// returns the Error placeholder.
	Cache *cache.Cache
	// Memory fronts Cache with decoded thumbnails. Optional.
	Memory *cache.Memory
	// Spawner runs background jobs for Lookup misses. Optional.
	Spawner  Spawner
	Recorder Recorder
	Logger   *logging.Logger
}

// Orchestrator runs the pipeline. It is safe for concurrent use.
type Orchestrator struct {
	config   Config
	registry *generator.Registry
	cache    *cache.Cache
	memory   *cache.Memory
	spawner  Spawner
	recorder Recorder
	logger   *logging.Logger
}

// New creates an Orchestrator, filling zero limits with defaults.
func New(opts Options) *Orchestrator {
	cfg := opts.Config
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxInputBytes <= 0 {
		cfg.MaxInputBytes = def.MaxInputBytes
	}
	return &Orchestrator{
		config:   cfg,
		registry: opts.Registry,
		cache:    opts.Cache,
		memory:   opts.Memory,
		spawner:  opts.Spawner,
		recorder: opts.Recorder,
		logger:   logging.OrNop(opts.Logger).Named("thumbnail"),
	}
}

// Config returns the effective limits.
func (o *Orchestrator) Config() Config { return o.config }

// Cache returns the disk cache, nil in no-cache mode.
func (o *Orchestrator) Cache() *cache.Cache { return o.cache }

// Result is a completed generation. Image belongs to the caller.
type Result struct {
	Image     *image.NRGBA
	State     State
	Generator string
	Key       cache.Key
	CacheHit  bool
	Elapsed   time.Duration
}

// attempt carries one run through the pipeline for logging and recording.
type attempt struct {
	req       generator.Request
	state     State
	generator string
	key       cache.Key
	start     time.Time
}

func (a *attempt) enter(s State, logger *logging.Logger) {
	a.state = s
	logger.Debug("attempt state",
		zap.String("state", s.String()),
		zap.String("path", a.req.Path),
		zap.String("generator", a.generator))
}

func (a *attempt) fail(s State, err error) error {
	a.state = s
	return &Error{State: s, Generator: a.generator, Err: err}
}

// Generate runs the full pipeline for req: size ceiling, classification,
// bounded dispatch, buffer validation and the cache put. Errors are always
// *Error wrapping ErrUnsupported, ErrTooLarge, ErrTimedOut or ErrGeneration.
func (o *Orchestrator) Generate(ctx context.Context, req generator.Request) (res Result, err error) {
	a := &attempt{req: req, state: Idle, start: time.Now()}
	defer func() { o.record(ctx, a, err) }()

	if verr := req.Validate(); verr != nil {
		return Result{}, a.fail(Failed, fmt.Errorf("%w: %w", ErrGeneration, verr))
	}

	a.enter(Sniffing, o.logger)
	size, serr := inputSize(req)
	if serr != nil {
		return Result{}, a.fail(Failed, fmt.Errorf("%w: %w", ErrGeneration, serr))
	}
	if size > o.config.MaxInputBytes {
		return Result{}, a.fail(TooLarge, fmt.Errorf("%w: %s exceeds %s",
			ErrTooLarge, core.FormatBytes(size), core.FormatBytes(o.config.MaxInputBytes)))
	}
	a.key = keyFor(req)

	in, serr := sniff(req)
	if serr != nil {
		return Result{}, a.fail(Failed, fmt.Errorf("%w: %w", ErrGeneration, serr))
	}
	gen := o.registry.SelectInput(in)
	if gen == nil {
		return Result{}, a.fail(Failed, fmt.Errorf("%w: no generator for .%s", ErrUnsupported, in.Ext))
	}
	a.generator = gen.Name()

	a.enter(Dispatched, o.logger)
	out := executor.Run(ctx, executor.Options{
		Limit:        o.config.Timeout,
		PollInterval: o.config.PollInterval,
		Name:         gen.Name(),
		Logger:       o.logger,
	}, func(ctx context.Context) ([]byte, error) {
		return gen.Generate(ctx, req)
	})

	switch out.Status {
	case executor.TimedOut:
		return Result{}, a.fail(TimedOut, fmt.Errorf("%w after %v", ErrTimedOut, out.Elapsed.Round(time.Millisecond)))
	case executor.Panicked:
		o.logger.Error("generator panicked",
			zap.String("generator", gen.Name()),
			zap.Any("panic", out.Panic),
			zap.ByteString("stack", out.Stack))
		return Result{}, a.fail(Failed, fmt.Errorf("%w: panic: %v", ErrGeneration, out.Panic))
	case executor.Failed:
		return Result{}, a.fail(Failed, fmt.Errorf("%w: %w", ErrGeneration, out.Err))
	}

	if berr := generator.CheckBuffer(out.Value, req.Width, req.Height); berr != nil {
		return Result{}, a.fail(Failed, fmt.Errorf("%w: %w", ErrGeneration, berr))
	}
	img, ierr := imaging.FromPixels(out.Value, req.Width, req.Height)
	if ierr != nil {
		return Result{}, a.fail(Failed, fmt.Errorf("%w: %w", ErrGeneration, ierr))
	}
	a.state = Completed

	o.store(a.key, img)
	o.memory.Add(a.key, req.Width, req.Height, img)

	return Result{
		Image:     img,
		State:     Completed,
		Generator: gen.Name(),
		Key:       a.key,
		Elapsed:   time.Since(a.start),
	}, nil
}

// Ensure returns the cached thumbnail for req when one exists and runs
// Generate otherwise.
func (o *Orchestrator) Ensure(ctx context.Context, req generator.Request) (Result, error) {
	if err := req.Validate(); err == nil {
		key := keyFor(req)
		if img, ok := o.cached(key, req.Width, req.Height); ok {
			return Result{Image: img, State: Completed, Key: key, CacheHit: true}, nil
		}
	}
	return o.Generate(ctx, req)
}

// store PNG-encodes img into the disk cache. Failures are logged only.
func (o *Orchestrator) store(key cache.Key, img *image.NRGBA) {
	if o.cache == nil {
		return
	}
	png, err := imaging.EncodePNG(img)
	if err == nil {
		err = o.cache.Put(key, png)
	}
	if err != nil {
		o.logger.Warn("failed to cache thumbnail", zap.String("key", key.String()), zap.Error(err))
	}
}

// cached consults the memory tier, then the disk cache, resizing a disk hit
// to width×height.
func (o *Orchestrator) cached(key cache.Key, width, height int) (*image.NRGBA, bool) {
	if img, ok := o.memory.Get(key, width, height); ok {
		return img, true
	}
	if o.cache == nil {
		return nil, false
	}
	data, ok, err := o.cache.Get(key)
	if err != nil {
		o.logger.Warn("cache read failed", zap.String("key", key.String()), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	img, err := imaging.DecodeResized(data, width, height)
	if err != nil {
		o.logger.Warn("cached thumbnail is unreadable", zap.String("key", key.String()), zap.Error(err))
		return nil, false
	}
	o.memory.Add(key, width, height, img)
	return img, true
}

func (o *Orchestrator) record(ctx context.Context, a *attempt, err error) {
	elapsed := time.Since(a.start)
	fields := []zap.Field{
		zap.String("state", a.state.String()),
		zap.String("generator", a.generator),
		zap.String("path", a.req.Path),
		zap.Duration("elapsed", elapsed),
	}
	switch {
	case err == nil:
		o.logger.Info("thumbnail generated", fields...)
	case errors.Is(err, ErrTimedOut), errors.Is(err, ErrTooLarge), errors.Is(err, ErrUnsupported):
		o.logger.Warn("thumbnail not generated", append(fields, zap.Error(err))...)
	default:
		o.logger.Error("thumbnail generation failed", append(fields, zap.Error(err))...)
	}

	if o.recorder == nil {
		return
	}
	at := db.Attempt{
		CacheKey:   a.key.String(),
		SourcePath: a.req.Path,
		Ext:        a.req.Extension(),
		Generator:  a.generator,
		State:      a.state.String(),
		Width:      a.req.Width,
		Height:     a.req.Height,
		Duration:   elapsed,
	}
	if err != nil {
		at.ErrorMessage = err.Error()
	}
	if rerr := o.recorder.RecordAttempt(context.WithoutCancel(ctx), at); rerr != nil {
		o.logger.Warn("failed to record attempt", zap.Error(rerr))
	}
}

func inputSize(req generator.Request) (int64, error) {
	if req.Data != nil {
		return int64(len(req.Data)), nil
	}
	info, err := os.Stat(req.Path)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", req.Path)
	}
	return info.Size(), nil
}

func keyFor(req generator.Request) cache.Key {
	if req.Data != nil {
		return cache.KeyForBytes(req.Data)
	}
	return cache.KeyForFile(req.Path)
}

func sniff(req generator.Request) (generator.SniffInput, error) {
	if req.Data != nil {
		return generator.SniffBytes(req.Data, req.Extension()), nil
	}
	in, err := generator.SniffFile(req.Path)
	if err != nil {
		return in, err
	}
	in.Ext = req.Extension()
	return in, nil
}

// Thumbnail is what a shell host displays: a real image or a placeholder.
// A real Image belongs to the caller; placeholder images are shared.
type Thumbnail struct {
	Image       *image.NRGBA
	Placeholder bool
	Kind        placeholder.Kind // set when Placeholder
	State       State
	CacheHit    bool
}

func placeholderFor(k placeholder.Kind, s State) Thumbnail {
	return Thumbnail{Image: placeholder.Image(k), Placeholder: true, Kind: k, State: s}
}

// Premultiplied returns the pixels as premultiplied B,G,R,A bytes, the
// layout shell bitmaps expect.
func (t Thumbnail) Premultiplied() []byte {
	if t.Placeholder {
		return placeholder.ARGB(t.Kind)
	}
	return imaging.PremultipliedBGRA(t.Image)
}

// Thumbnail is the synchronous-bounded mode. It returns a cached thumbnail,
// or generates one waiting at most the timeout, and otherwise the
// placeholder for the failure. It never fails.
func (o *Orchestrator) Thumbnail(ctx context.Context, req generator.Request) Thumbnail {
	if err := req.Validate(); err != nil {
		o.logger.Warn("invalid thumbnail request", zap.Error(err))
		return placeholderFor(placeholder.Error, Failed)
	}
	if img, ok := o.cached(keyFor(req), req.Width, req.Height); ok {
		return Thumbnail{Image: img, State: Completed, CacheHit: true}
	}

	res, err := o.Generate(ctx, req)
	switch {
	case err == nil:
		return Thumbnail{Image: res.Image, State: Completed}
	case errors.Is(err, ErrTimedOut):
		return placeholderFor(placeholder.TimedOut, TimedOut)
	case errors.Is(err, ErrTooLarge):
		return placeholderFor(placeholder.TooLarge, TooLarge)
	}
	return placeholderFor(placeholder.Error, Failed)
}

// Lookup is the asynchronous-placeholder mode. It answers from the cache or
// returns the Loading placeholder after spawning a background job; it never
// waits on generation. req.Path is required.
func (o *Orchestrator) Lookup(ctx context.Context, req generator.Request) Thumbnail {
	logger := o.logger.With(zap.String("path", req.Path))
	if req.Path == "" || req.Width <= 0 || req.Height <= 0 {
		logger.Warn("lookup needs a path and a positive size")
		return placeholderFor(placeholder.Error, Failed)
	}
	if o.cache == nil {
		logger.Warn("no cache directory, cannot serve lookups")
		return placeholderFor(placeholder.Error, Failed)
	}

	info, err := os.Stat(req.Path)
	if err != nil {
		logger.Warn("cannot stat source", zap.Error(err))
		return placeholderFor(placeholder.Error, Failed)
	}
	if info.Size() > o.config.MaxInputBytes {
		logger.Info("source exceeds size ceiling",
			zap.String("size", core.FormatBytes(info.Size())))
		return placeholderFor(placeholder.TooLarge, TooLarge)
	}

	if img, ok := o.cached(cache.KeyForFile(req.Path), req.Width, req.Height); ok {
		return Thumbnail{Image: img, State: Completed, CacheHit: true}
	}

	if o.spawner == nil {
		logger.Warn("cache miss with no background spawner")
	} else if err := o.spawner.Spawn(Job{Path: req.Path, Width: req.Width, Height: req.Height}); err != nil {
		logger.Error("failed to spawn background regeneration", zap.Error(err))
	}
	return placeholderFor(placeholder.Loading, Dispatched)
}
