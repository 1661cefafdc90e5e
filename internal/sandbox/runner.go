package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"buildweaver/internal/ctxlog"
	"buildweaver/internal/store"
)

// Runner executes processes against a Store, caching results by fingerprint.
//
// The execution flow:
//  1. Validate the process
//  2. Compute its fingerprint and consult the cache
//  3. Materialize the input digest in a private scratch directory
//  4. Execute with an isolated environment
//  5. Capture declared outputs into the store
//  6. Cache the result unless the process timed out
//
// Concurrent runs of identical processes share one execution.
type Runner struct {
	store          *store.Store
	cache          Cache
	metrics        *metrics
	defaultTimeout time.Duration
	flight         singleflight.Group
}

// RunnerOption configures a Runner.
type RunnerOption func(*runnerConfig)

type runnerConfig struct {
	cache          Cache
	registerer     prometheus.Registerer
	defaultTimeout time.Duration
}

// WithCache replaces the default per-runner MemoryCache.
func WithCache(c Cache) RunnerOption {
	return func(cfg *runnerConfig) { cfg.cache = c }
}

// WithRegisterer registers the runner metrics on reg.
func WithRegisterer(reg prometheus.Registerer) RunnerOption {
	return func(cfg *runnerConfig) { cfg.registerer = reg }
}

// WithDefaultTimeout bounds processes that declare no timeout of their own.
func WithDefaultTimeout(d time.Duration) RunnerOption {
	return func(cfg *runnerConfig) { cfg.defaultTimeout = d }
}

// NewRunner creates a Runner backed by st.
func NewRunner(st *store.Store, opts ...RunnerOption) *Runner {
	cfg := runnerConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.cache == nil {
		cfg.cache = NewMemoryCache()
	}
	return &Runner{
		store:          st,
		cache:          cfg.cache,
		metrics:        newMetrics(cfg.registerer),
		defaultTimeout: cfg.defaultTimeout,
	}
}

// Store returns the content store the runner reads inputs from.
func (r *Runner) Store() *store.Store {
	return r.store
}

// Run executes p, or replays a cached result for an identical process.
//
// A nonzero exit code is not an error here: it is reported in the returned
// result. Errors are reserved for malformed processes, processes that cannot
// be started, and missing declared outputs after a successful exit.
func (r *Runner) Run(ctx context.Context, p Process) (*FallibleProcessResult, error) {
	if err := p.Validate(); err != nil {
		r.metrics.executions.WithLabelValues(outcomeMalformed).Inc()
		return nil, err
	}
	if p.Timeout == 0 {
		p.Timeout = r.defaultTimeout
	}

	fp := p.Fingerprint()
	if cached, ok := r.replay(ctx, p, fp); ok {
		return cached, nil
	}

	leader := false
	v, err, shared := r.flight.Do(fp.String(), func() (any, error) {
		leader = true
		// A previous flight may have finished since the first lookup.
		if cached, ok := r.replay(ctx, p, fp); ok {
			return cached, nil
		}
		return r.runUncached(ctx, p, fp)
	})
	if err != nil {
		return nil, err
	}
	result := v.(*FallibleProcessResult)
	if shared {
		if !leader {
			r.metrics.shared.Inc()
		}
		dup := *result
		result = &dup
	}
	return result, nil
}

func (r *Runner) replay(ctx context.Context, p Process, fp Fingerprint) (*FallibleProcessResult, bool) {
	cached, ok := r.cache.Get(fp)
	if !ok {
		return nil, false
	}
	r.metrics.cacheHits.Inc()
	ctxlog.FromContext(ctx).Debug("process result replayed from cache", "description", p.Description, "fingerprint", fp.String())
	cached.FromCache = true
	return cached, true
}

func (r *Runner) runUncached(ctx context.Context, p Process, fp Fingerprint) (*FallibleProcessResult, error) {
	logger := ctxlog.FromContext(ctx)

	var result *FallibleProcessResult
	start := time.Now()
	err := r.store.Materialize(ctx, p.InputDigest, func(dir string) error {
		if p.ToolHome != "" {
			if err := mountToolHome(dir, p.ToolHome); err != nil {
				return err
			}
		}

		logger.Debug("executing process", "description", p.Description, "argv", p.Argv, "sandbox", dir)
		out, err := execute(ctx, dir, p)
		if err != nil {
			return err
		}

		outputRoot := dir
		if p.WorkingDirectory != "" {
			outputRoot = filepath.Join(dir, filepath.FromSlash(p.WorkingDirectory))
		}
		digest, err := r.captureOutputs(outputRoot, p, out.exitCode == 0)
		if err != nil {
			return err
		}

		result = &FallibleProcessResult{
			Stdout:       out.stdout,
			Stderr:       out.stderr,
			ExitCode:     out.exitCode,
			OutputDigest: digest,
		}
		return nil
	})
	r.metrics.duration.Observe(time.Since(start).Seconds())

	if err != nil {
		var missing *MissingOutputError
		if errors.As(err, &missing) {
			r.metrics.executions.WithLabelValues(outcomeMissing).Inc()
		} else {
			r.metrics.executions.WithLabelValues(outcomeError).Inc()
		}
		return nil, err
	}

	switch {
	case result.TimedOut():
		r.metrics.executions.WithLabelValues(outcomeTimeout).Inc()
		logger.Warn("process timed out", "description", p.Description, "timeout", p.Timeout)
	case result.ExitCode != 0:
		r.metrics.executions.WithLabelValues(outcomeFailure).Inc()
		r.cache.Put(fp, result)
	default:
		r.metrics.executions.WithLabelValues(outcomeSuccess).Inc()
		r.cache.Put(fp, result)
	}
	return result, nil
}

// RunStrict executes p and fails with an *ExecutionFailure on nonzero exit.
func (r *Runner) RunStrict(ctx context.Context, p Process) (*ProcessResult, error) {
	res, err := r.Run(ctx, p)
	if err != nil {
		return nil, err
	}
	return Strict(res, p)
}

func mountToolHome(dir, toolHome string) error {
	abs, err := filepath.Abs(toolHome)
	if err != nil {
		return fmt.Errorf("resolving tool home: %w", err)
	}
	if err := os.Symlink(abs, filepath.Join(dir, ToolHomeMountPath)); err != nil {
		return fmt.Errorf("mounting tool home at %s: %w", ToolHomeMountPath, err)
	}
	return nil
}

// captureOutputs ingests the declared outputs below root.
//
// When required is set every declared output must exist with the declared
// kind. Otherwise outputs that were not produced are skipped.
func (r *Runner) captureOutputs(root string, p Process, required bool) (store.Digest, error) {
	files, missingFiles := partitionOutputs(root, p.OutputFiles, false)
	dirs, missingDirs := partitionOutputs(root, p.OutputDirectories, true)

	missing := append(missingFiles, missingDirs...)
	if required && len(missing) > 0 {
		return store.Digest{}, &MissingOutputError{Description: p.Description, Paths: missing}
	}

	digest, err := r.store.IngestPaths(root, files, dirs)
	if err != nil {
		return store.Digest{}, fmt.Errorf("capturing outputs of %q: %w", p.Description, err)
	}
	return digest, nil
}

// partitionOutputs splits declared paths into the ones present with the
// expected kind and the ones that are not.
func partitionOutputs(root string, paths []string, wantDir bool) (present, missing []string) {
	for _, p := range paths {
		info, err := os.Stat(filepath.Join(root, filepath.FromSlash(p)))
		if err != nil || info.IsDir() != wantDir || (!wantDir && !info.Mode().IsRegular()) {
			missing = append(missing, p)
			continue
		}
		present = append(present, p)
	}
	return present, missing
}
