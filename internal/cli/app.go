package cli

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"buildweaver/internal/address"
	"buildweaver/internal/config"
	"buildweaver/internal/ctxlog"
	"buildweaver/internal/engine"
	"buildweaver/internal/gomod"
	"buildweaver/internal/intrinsics"
	"buildweaver/internal/sandbox"
	"buildweaver/internal/store"
	"buildweaver/internal/trace"
)

// app wires the store, the sandbox and every rule set into one engine.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	engine   *engine.Engine
	recorder *trace.Recorder
	metrics  *prometheus.Registry
}

func newApp(cfg *config.Config, stderr io.Writer, graph address.Graph) (*app, error) {
	metrics := prometheus.NewRegistry()
	st := store.New(
		store.WithScratchDir(cfg.ScratchDir),
		store.WithKeepSandboxes(cfg.KeepSandboxes),
	)
	runner := sandbox.NewRunner(st,
		sandbox.WithRegisterer(metrics),
		sandbox.WithDefaultTimeout(cfg.DefaultTimeout),
	)

	if graph == nil {
		empty, err := address.NewMemoryGraph()
		if err != nil {
			return nil, err
		}
		graph = empty
	}

	reg := engine.NewRegistry()
	if err := (&intrinsics.Intrinsics{Store: st, Runner: runner, BuildRoot: cfg.BuildRoot}).Register(reg); err != nil {
		return nil, err
	}
	if err := (&address.Rules{Graph: graph}).Register(reg); err != nil {
		return nil, err
	}
	goRules := &gomod.Rules{GoBinary: cfg.GoBinary, Env: goEnv()}
	if err := goRules.Register(reg); err != nil {
		return nil, err
	}

	recorder := trace.NewRecorder()
	return &app{
		cfg:      cfg,
		logger:   ctxlog.New(stderr, cfg.Log.Level, cfg.Log.Format),
		store:    st,
		recorder: recorder,
		metrics:  metrics,
		engine: engine.New(reg,
			engine.WithWorkers(cfg.Workers),
			engine.WithRegisterer(metrics),
			engine.WithTraceSink(recorder),
		),
	}, nil
}

func (a *app) session(ctx context.Context) *engine.Session {
	return a.engine.NewSession(ctxlog.WithLogger(ctx, a.logger))
}

// writeTrace stores the canonical trace of s at path.
func (a *app) writeTrace(s *engine.Session, path string) error {
	if path == "" {
		return nil
	}
	b, err := a.recorder.Trace(s.ID().String()).CanonicalJSON()
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// writeMetrics dumps the metrics registry in the text exposition format.
func (a *app) writeMetrics(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, a.metrics)
}

// report writes the files requested by the persistent --trace and --metrics
// flags. Failures are logged; they do not change the command outcome.
func (a *app) report(s *engine.Session, root *rootOptions) {
	if err := a.writeTrace(s, root.traceFile); err != nil {
		a.logger.Warn("writing trace failed", "error", err)
	}
	if err := a.writeMetrics(root.metricsFile); err != nil {
		a.logger.Warn("writing metrics failed", "error", err)
	}
}

// goEnv forwards the variables the go tool needs to locate its caches.
func goEnv() map[string]string {
	env := make(map[string]string)
	for _, k := range []string{"PATH", "HOME", "GOPATH", "GOCACHE", "GOMODCACHE", "GOFLAGS", "GOPROXY"} {
		if v, ok := os.LookupEnv(k); ok {
			env[k] = v
		}
	}
	return env
}
