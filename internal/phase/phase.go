// Package phase drives one orchestration pass (build or test) over a whole
// dependency graph.
package phase

import (
	"context"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/vk/pdctl/internal/ctxlog"
	"github.com/vk/pdctl/internal/dispatch"
	"github.com/vk/pdctl/internal/metrics"
	"github.com/vk/pdctl/internal/planner"
	"github.com/vk/pdctl/internal/procexec"
	"github.com/vk/pdctl/internal/project"
	"github.com/vk/pdctl/internal/scheduler"
)

// Observer receives phase boundary events.
type Observer interface {
	PhaseOpened(phase planner.Phase, title string)
	PhaseClosed(phase planner.Phase, profile metrics.Profile)
}

// Runner runs a phase. The zero values of Clock and NewQueue select the wall
// clock and scheduler.DependencyQueue.
type Runner struct {
	Phase    planner.Phase
	Title    string
	Planner  planner.Planner
	Executor procexec.Executor
	Lanes    int
	Policy   dispatch.FailurePolicy
	Hooks    dispatch.Hooks
	Observer Observer
	Clock    clock.Clock
	NewQueue func() scheduler.Queue
}

// Run seeds a fresh queue from g and dispatches until it is terminal. Graph
// errors are returned before anything is dispatched. The returned profile
// belongs to this phase alone.
func (r *Runner) Run(ctx context.Context, g project.Graph) (metrics.Profile, error) {
	if r.Phase == "" {
		return metrics.Profile{}, errors.New("phase: no phase name")
	}
	ctx = ctxlog.With(ctx, "phase", string(r.Phase))
	logger := ctxlog.FromContext(ctx)

	newQueue := r.NewQueue
	if newQueue == nil {
		newQueue = func() scheduler.Queue { return scheduler.New() }
	}
	q := newQueue()
	if err := q.Extend(g); err != nil {
		return metrics.Profile{Phase: string(r.Phase)}, fmt.Errorf("seeding %s queue: %w", r.Phase, err)
	}

	d, err := dispatch.New(dispatch.Config{
		Phase:    r.Phase,
		Queue:    q,
		Planner:  r.Planner,
		Executor: r.Executor,
		Lanes:    r.Lanes,
		Policy:   r.Policy,
		Hooks:    r.Hooks,
		Clock:    r.Clock,
	})
	if err != nil {
		return metrics.Profile{Phase: string(r.Phase)}, err
	}

	title := r.Title
	if title == "" {
		title = fmt.Sprintf("Processing %d projects", len(g))
	}
	if r.Observer != nil {
		r.Observer.PhaseOpened(r.Phase, title)
	}
	logger.Info("Phase started.", "projects", len(g), "lanes", r.Lanes)

	profile, err := d.Run(ctx)

	if r.Observer != nil {
		r.Observer.PhaseClosed(r.Phase, profile)
	}
	if err != nil {
		logger.Error("Phase aborted.", "error", err)
		return profile, fmt.Errorf("%s phase: %w", r.Phase, err)
	}
	logger.Info("Phase finished.",
		"attempted", profile.Attempted,
		"succeeded", profile.Succeeded,
		"failed", profile.Failed,
		"skipped", profile.Skipped,
		"elapsed", profile.Elapsed,
	)
	return profile, nil
}
