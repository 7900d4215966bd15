package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/vk/pdctl/internal/ctxlog"
	"github.com/vk/pdctl/internal/metrics"
	"github.com/vk/pdctl/internal/planner"
	"github.com/vk/pdctl/internal/procexec"
	"github.com/vk/pdctl/internal/project"
	"github.com/vk/pdctl/internal/scheduler"
	"go.uber.org/atomic"
	"golang.org/x/sync/semaphore"
)

// ErrStalled is returned when the queue is not terminal but offers no ready
// work while nothing is running.
var ErrStalled = errors.New("dispatch stalled: no ready projects and nothing running")

// FailurePolicy selects what happens to the dependents of a failed project.
type FailurePolicy int

const (
	// Continue finishes a failed project normally; its dependents still run.
	Continue FailurePolicy = iota
	// SkipDependents marks every transitive dependent of a failed project as
	// skipped. The queue must implement scheduler.Skipper.
	SkipDependents
)

// String implements fmt.Stringer.
func (p FailurePolicy) String() string {
	if p == SkipDependents {
		return "skip"
	}
	return "continue"
}

// Occupancy is the lane usage seen when an invocation starts.
type Occupancy struct {
	Busy  int64
	Total int
}

// Hooks are the trap callbacks of a dispatcher. Every hook runs on the control
// goroutine, serialised with metrics updates. Nil hooks are ignored.
type Hooks struct {
	// OnStart receives the lane occupancy including the starting invocation.
	OnStart func(inv planner.Invocation, lanes Occupancy)
	// OnFailure returns true when the failure should mark the phase as trapped.
	OnFailure     func(inv planner.Invocation, st procexec.Status) bool
	OnComplete    func(inv planner.Invocation, st procexec.Status)
	OnPlanFailure func(id project.ID, err error)
	OnSkip        func(failed project.ID, skipped []project.ID)
}

// Config holds the collaborators and limits of a Dispatcher.
type Config struct {
	Phase    planner.Phase
	Queue    scheduler.Queue
	Planner  planner.Planner
	Executor procexec.Executor
	Lanes    int
	Policy   FailurePolicy
	Hooks    Hooks
	Clock    clock.Clock
}

// Dispatcher drives a queue to terminal.
type Dispatcher struct {
	cfg     Config
	running atomic.Int64
}

// New validates cfg and returns a dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Queue == nil {
		return nil, errors.New("dispatch: nil queue")
	}
	if cfg.Planner == nil {
		return nil, errors.New("dispatch: nil planner")
	}
	if cfg.Executor == nil {
		return nil, errors.New("dispatch: nil executor")
	}
	if cfg.Lanes < 1 {
		return nil, fmt.Errorf("dispatch: lanes must be at least 1, got %d", cfg.Lanes)
	}
	if cfg.Policy == SkipDependents {
		if _, ok := cfg.Queue.(scheduler.Skipper); !ok {
			return nil, fmt.Errorf("dispatch: queue %T cannot skip dependents", cfg.Queue)
		}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Dispatcher{cfg: cfg}, nil
}

// Running reports how many invocations are executing right now.
func (d *Dispatcher) Running() int64 {
	return d.running.Load()
}

type completion struct {
	inv planner.Invocation
	st  procexec.Status
}

// run is the state of one Run call. It is only touched by the control goroutine.
type run struct {
	d         *Dispatcher
	profile   metrics.Profile
	remaining map[project.ID]int
	failed    map[project.ID]bool
	abandoned map[project.ID]bool
	backlog   []planner.Invocation
	inFlight  int
}

// Run processes the queue until it is terminal and returns the phase profile.
// The profile is returned even when an error ends the run early.
func (d *Dispatcher) Run(ctx context.Context) (metrics.Profile, error) {
	logger := ctxlog.FromContext(ctx).With("phase", string(d.cfg.Phase))
	clk := d.cfg.Clock
	start := clk.Now()

	r := &run{
		d:         d,
		profile:   metrics.Profile{Phase: string(d.cfg.Phase)},
		remaining: make(map[project.ID]int),
		failed:    make(map[project.ID]bool),
		abandoned: make(map[project.ID]bool),
	}
	sem := semaphore.NewWeighted(int64(d.cfg.Lanes))
	// Buffered so a lane never blocks on reporting.
	done := make(chan completion, d.cfg.Lanes)

	var stopErr error
	stop := func(err error) {
		if stopErr == nil {
			stopErr = err
			if n := len(r.backlog); n > 0 {
				logger.Warn("Dropping undispatched invocations.", "count", n)
			}
			r.backlog = nil
		}
	}

	logger.Debug("Dispatcher started.", "lanes", d.cfg.Lanes, "policy", d.cfg.Policy.String())
	for {
		if stopErr == nil && ctx.Err() != nil {
			stop(ctx.Err())
		}

		progressed := false
		if stopErr == nil {
			free := d.cfg.Lanes - r.inFlight - len(r.backlog)
			if free > 0 {
				for _, id := range d.cfg.Queue.Take(free) {
					progressed = true
					if err := r.admit(ctx, id); err != nil {
						stop(err)
						break
					}
				}
			}
		}

		for stopErr == nil && len(r.backlog) > 0 && sem.TryAcquire(1) {
			inv := r.backlog[0]
			r.backlog = r.backlog[1:]
			r.inFlight++
			busy := d.running.Inc()
			if h := d.cfg.Hooks.OnStart; h != nil {
				h(inv, Occupancy{Busy: busy, Total: d.cfg.Lanes})
			}
			logger.Debug("Invocation started.", "id", inv.Identifier)
			go func(inv planner.Invocation) {
				st := d.cfg.Executor.Execute(ctx, inv.Command)
				d.running.Dec()
				sem.Release(1)
				done <- completion{inv: inv, st: st}
			}(inv)
		}

		if r.inFlight == 0 {
			if stopErr == nil && !d.cfg.Queue.Terminal() {
				if progressed {
					// No-op projects may have released new work.
					continue
				}
				stop(ErrStalled)
			}
			break
		}

		select {
		case c := <-done:
			if err := r.complete(ctx, c); err != nil {
				stop(err)
			}
		case <-ctx.Done():
			stop(ctx.Err())
			// Drain the lanes already running.
			for r.inFlight > 0 {
				// Queue errors after a stop add nothing to report.
				_ = r.complete(ctx, <-done)
			}
		}
	}

	r.profile.Elapsed = clk.Since(start)
	logger.Debug("Dispatcher finished.",
		"attempted", r.profile.Attempted,
		"failed", r.profile.Failed,
		"skipped", r.profile.Skipped,
		"elapsed", r.profile.Elapsed,
	)
	return r.profile, stopErr
}

// admit plans a freshly taken project and queues its invocations.
func (r *run) admit(ctx context.Context, id project.ID) error {
	hooks := r.d.cfg.Hooks
	invs, err := r.plan(ctx, id)
	if err != nil {
		ctxlog.FromContext(ctx).Warn("Planning failed.", "project", id, "error", err)
		r.profile.RecordPlanFailure()
		if hooks.OnPlanFailure != nil {
			hooks.OnPlanFailure(id, err)
		}
		return r.settle(id, true)
	}
	if len(invs) == 0 {
		return r.settle(id, false)
	}
	r.remaining[id] = len(invs)
	r.backlog = append(r.backlog, invs...)
	return nil
}

// plan calls the planner, converting a panic into an error.
func (r *run) plan(ctx context.Context, id project.ID) (invs []planner.Invocation, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("planner panicked: %v", p)
		}
	}()
	return r.d.cfg.Planner.Plan(ctx, r.d.cfg.Phase, id)
}

// complete records a finished invocation and settles its project when it was
// the last one outstanding.
func (r *run) complete(ctx context.Context, c completion) error {
	hooks := r.d.cfg.Hooks
	r.inFlight--
	id := c.inv.Project

	if c.st.Abandoned() {
		// Cancelled between launch and process start. Nothing ran, so the
		// project stays unsettled.
		ctxlog.FromContext(ctx).Debug("Invocation abandoned.", "id", c.inv.Identifier)
		r.abandoned[id] = true
		return nil
	}
	r.profile.Record(c.st.Outcome)

	if !c.st.Succeeded {
		r.failed[id] = true
		ctxlog.FromContext(ctx).Debug("Invocation failed.", "id", c.inv.Identifier, "exit", c.st.ExitCode, "error", c.st.Err)
		if hooks.OnFailure != nil && hooks.OnFailure(c.inv, c.st) {
			r.profile.Trapped = true
		}
	}
	if hooks.OnComplete != nil {
		hooks.OnComplete(c.inv, c.st)
	}

	r.remaining[id]--
	if r.remaining[id] > 0 || r.abandoned[id] {
		return nil
	}
	delete(r.remaining, id)
	failed := r.failed[id]
	delete(r.failed, id)
	return r.settle(id, failed)
}

// settle reports a project back to the queue.
func (r *run) settle(id project.ID, failed bool) error {
	r.profile.Projects++
	if failed && r.d.cfg.Policy == SkipDependents {
		skipped, err := r.d.cfg.Queue.(scheduler.Skipper).Skip(id)
		if err != nil {
			return fmt.Errorf("skipping dependents of %s: %w", id, err)
		}
		r.profile.Skipped += len(skipped)
		r.profile.Projects += len(skipped)
		if len(skipped) > 0 && r.d.cfg.Hooks.OnSkip != nil {
			r.d.cfg.Hooks.OnSkip(id, skipped)
		}
		return nil
	}
	if err := r.d.cfg.Queue.Finish(id); err != nil {
		return fmt.Errorf("finishing %s: %w", id, err)
	}
	return nil
}
