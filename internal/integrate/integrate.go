// Package integrate runs a complete product integration: index refresh, graph
// load, the build phase against a transient cache, and the test phase.
package integrate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/benbjohnson/clock"
	"github.com/vk/pdctl/internal/ctxlog"
	"github.com/vk/pdctl/internal/dispatch"
	"github.com/vk/pdctl/internal/manifest"
	"github.com/vk/pdctl/internal/metrics"
	"github.com/vk/pdctl/internal/phase"
	"github.com/vk/pdctl/internal/planner"
	"github.com/vk/pdctl/internal/procexec"
	"github.com/vk/pdctl/internal/product"
	"github.com/vk/pdctl/internal/report"
)

// CacheDir is the name of the build cache inside the transient directory.
const CacheDir = "build-cache"

// Source provides the product being integrated. *product.Product satisfies it.
type Source interface {
	UpdateIndex(ctx context.Context, policy product.IndexPolicy) (bool, error)
	Load(ctx context.Context) (*manifest.Set, error)
}

var _ Source = (*product.Product)(nil)

// Config selects what an integration does.
type Config struct {
	IndexPolicy  product.IndexPolicy
	DisableBuild bool
	DisableTest  bool
	Lanes        int
	Policy       dispatch.FailurePolicy
	// Env is the run environment; Cache is filled in for the build phase.
	Env planner.Environment
}

// Orchestrator sequences the phases of an integration.
type Orchestrator struct {
	Source   Source
	Executor procexec.Executor
	Emitter  *report.Emitter
	Clock    clock.Clock
	// TempDir is the parent of the transient cache; empty selects os.TempDir.
	TempDir string
}

// Integrate runs the configured phases and returns the merged summary. A
// failing build does not prevent the test phase. Errors are returned for
// configuration and graph problems and for phases that could not complete;
// invocation failures are only reflected in the summary.
func (o *Orchestrator) Integrate(ctx context.Context, cfg Config) (metrics.Summary, error) {
	if o.Source == nil || o.Executor == nil {
		return metrics.Summary{}, errors.New("integrate: orchestrator needs a source and an executor")
	}
	clk := o.Clock
	if clk == nil {
		clk = clock.New()
	}
	emitter := o.Emitter
	if emitter == nil {
		emitter = report.New(io.Discard, clk)
	}
	logger := ctxlog.FromContext(ctx)
	start := clk.Now()

	policy := cfg.IndexPolicy
	if policy == "" {
		policy = product.IndexMissing
	}
	updated, err := o.Source.UpdateIndex(ctx, policy)
	if err != nil {
		return metrics.Summary{}, fmt.Errorf("updating project index: %w", err)
	}
	if updated {
		emitter.Notice("updated (%s) project index using the directory", policy)
	}

	set, err := o.Source.Load(ctx)
	if err != nil {
		return metrics.Summary{}, fmt.Errorf("loading product: %w", err)
	}
	graph := set.Graph()
	logger.Info("Integration started.", "product", set.Root, "projects", len(graph), "lanes", cfg.Lanes)

	emitter.Open(set.Root, cfg.Env.Intention)
	var profiles []metrics.Profile
	finish := func(err error) (metrics.Summary, error) {
		s := metrics.Summarize(clk.Since(start), profiles...)
		emitter.Close(s)
		return s, err
	}

	runner := func(p planner.Phase, title string, env planner.Environment) *phase.Runner {
		return &phase.Runner{
			Phase:    p,
			Title:    title,
			Planner:  set.Planner(env),
			Executor: o.Executor,
			Lanes:    cfg.Lanes,
			Policy:   cfg.Policy,
			Hooks:    emitter.Hooks(),
			Observer: emitter,
			Clock:    clk,
		}
	}

	if !cfg.DisableBuild {
		profile, err := o.build(ctx, cfg.Env, func(env planner.Environment) (metrics.Profile, error) {
			return runner(planner.Build, "Factor Processing Instructions", env).Run(ctx, graph)
		})
		profiles = append(profiles, profile)
		if err != nil {
			return finish(err)
		}
	}

	if !cfg.DisableTest {
		title := fmt.Sprintf("Testing %s integration.", cfg.Env.Intention)
		profile, err := runner(planner.Test, title, cfg.Env).Run(ctx, graph)
		profiles = append(profiles, profile)
		if err != nil {
			return finish(err)
		}
	}

	summary, _ := finish(nil)
	logger.Info("Integration finished.", "failed", summary.Failed(), "elapsed", summary.Elapsed)
	return summary, nil
}

// build runs fn with env pointing at a fresh transient build cache that is
// removed when fn returns.
func (o *Orchestrator) build(ctx context.Context, env planner.Environment, fn func(planner.Environment) (metrics.Profile, error)) (metrics.Profile, error) {
	dir, err := os.MkdirTemp(o.TempDir, "pdctl-")
	if err != nil {
		return metrics.Profile{Phase: string(planner.Build)}, fmt.Errorf("creating build cache: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			ctxlog.FromContext(ctx).Warn("Failed to remove build cache.", "path", dir, "error", err)
		}
	}()

	cache := filepath.Join(dir, CacheDir)
	if err := os.Mkdir(cache, 0o755); err != nil {
		return metrics.Profile{Phase: string(planner.Build)}, fmt.Errorf("creating build cache: %w", err)
	}
	if env.CacheType == "" {
		env.CacheType = "transient"
	}
	ctxlog.FromContext(ctx).Debug("Build cache created.", "path", cache)
	return fn(env.WithCache(cache))
}
