package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/pdctl/internal/ctxlog"
	"github.com/vk/pdctl/internal/metrics"
	"github.com/vk/pdctl/internal/planner"
	"github.com/vk/pdctl/internal/procexec"
	"github.com/vk/pdctl/internal/project"
	"github.com/vk/pdctl/internal/scheduler"
	"github.com/vk/pdctl/internal/testutil"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fanoutPlanner plans one invocation per key listed for a project. Projects
// missing from the map are no-ops.
func fanoutPlanner(keys map[project.ID][]string) planner.Planner {
	return planner.PlannerFunc(func(_ context.Context, phase planner.Phase, id project.ID) ([]planner.Invocation, error) {
		var invs []planner.Invocation
		for _, k := range keys[id] {
			invs = append(invs, planner.NewInvocation(phase, id, testutil.FakeCommand(k), k))
		}
		return invs, nil
	})
}

func newQueue(t *testing.T, g project.Graph) *scheduler.DependencyQueue {
	t.Helper()
	q := scheduler.New()
	require.NoError(t, q.Extend(g))
	return q
}

func runDispatcher(t *testing.T, cfg Config) (*Dispatcher, error) {
	t.Helper()
	d, err := New(cfg)
	require.NoError(t, err)
	_, err = d.Run(ctxlog.Discard(context.Background()))
	return d, err
}

func TestNew_ValidatesConfig(t *testing.T) {
	t.Parallel()

	q := scheduler.New()
	p := fanoutPlanner(nil)
	x := testutil.NewFakeExecutor(0)

	_, err := New(Config{Queue: q, Planner: p, Executor: x, Lanes: 0})
	require.Error(t, err)
	_, err = New(Config{Planner: p, Executor: x, Lanes: 1})
	require.Error(t, err)

	type plainQueue struct{ scheduler.Queue }
	_, err = New(Config{Queue: plainQueue{q}, Planner: p, Executor: x, Lanes: 1, Policy: SkipDependents})
	require.Error(t, err, "skip policy needs a Skipper")
}

func TestRun_LaneBudgetIsNeverExceeded(t *testing.T) {
	t.Parallel()

	// Three independent projects, one of them fanning out into many test files.
	g := project.Graph{"a": nil, "b": nil, "c": nil}
	keys := map[project.ID][]string{
		"a": {"a1", "a2", "a3", "a4", "a5", "a6"},
		"b": {"b1", "b2"},
		"c": {"c1", "c2", "c3"},
	}

	for lanes := 1; lanes <= 4; lanes++ {
		t.Run(fmt.Sprintf("lanes=%d", lanes), func(t *testing.T) {
			t.Parallel()

			x := testutil.NewFakeExecutor(15 * time.Millisecond)
			d, err := New(Config{
				Phase:    planner.Test,
				Queue:    newQueue(t, g),
				Planner:  fanoutPlanner(keys),
				Executor: x,
				Lanes:    lanes,
			})
			require.NoError(t, err)

			profile, err := d.Run(ctxlog.Discard(context.Background()))
			require.NoError(t, err)

			assert.LessOrEqual(t, x.Peak(), int64(lanes))
			assert.Equal(t, int64(lanes), x.Peak(), "independent work should fill every lane")
			assert.Equal(t, 11, profile.Attempted)
			assert.Equal(t, 11, profile.Succeeded)
			assert.Equal(t, 3, profile.Projects)
			assert.Zero(t, d.Running())
		})
	}
}

func TestRun_DependenciesCompleteBeforeDependentsStart(t *testing.T) {
	t.Parallel()

	g := project.Graph{
		"base":  nil,
		"left":  {"base"},
		"right": {"base"},
		"app":   {"left", "right"},
		"solo":  nil,
	}
	keys := map[project.ID][]string{
		"base":  {"base/1", "base/2"},
		"left":  {"left/1"},
		"right": {"right/1", "right/2", "right/3"},
		"app":   {"app/1"},
		"solo":  {"solo/1"},
	}
	x := testutil.NewFakeExecutor(5 * time.Millisecond)

	_, err := runDispatcher(t, Config{
		Phase:    planner.Build,
		Queue:    newQueue(t, g),
		Planner:  fanoutPlanner(keys),
		Executor: x,
		Lanes:    3,
	})
	require.NoError(t, err)

	for id, deps := range g {
		for _, dep := range deps {
			for _, dk := range keys[dep] {
				depRec, ok := x.Record(dk)
				require.True(t, ok)
				for _, k := range keys[id] {
					rec, ok := x.Record(k)
					require.True(t, ok)
					assert.Less(t, depRec.EndSeq, rec.StartSeq, "%s started before %s ended", k, dk)
				}
			}
		}
	}
}

func TestRun_AllInvocationsFail(t *testing.T) {
	t.Parallel()

	g := project.Graph{"a": nil, "b": {"a"}, "c": {"b"}}
	keys := map[project.ID][]string{"a": {"a1", "a2"}, "b": {"b1"}, "c": {"c1", "c2"}}
	x := testutil.NewFakeExecutor(time.Millisecond)
	x.FailAll = true
	q := newQueue(t, g)

	var failures []string
	d, err := New(Config{
		Phase:    planner.Test,
		Queue:    q,
		Planner:  fanoutPlanner(keys),
		Executor: x,
		Lanes:    2,
		Hooks: Hooks{
			OnFailure: func(inv planner.Invocation, st procexec.Status) bool {
				failures = append(failures, inv.Identifier)
				return true
			},
		},
	})
	require.NoError(t, err)

	profile, err := d.Run(ctxlog.Discard(context.Background()))
	require.NoError(t, err)

	assert.True(t, q.Terminal())
	assert.Equal(t, 5, profile.Attempted)
	assert.Equal(t, 5, profile.Failed)
	assert.Zero(t, profile.Succeeded)
	assert.True(t, profile.Trapped)
	assert.Len(t, failures, 5)
	assert.Len(t, x.Executed(), 5, "failures must not block dependents under the continue policy")
}

func TestRun_SkipDependentsPolicy(t *testing.T) {
	t.Parallel()

	g := project.Graph{"base": nil, "mid": {"base"}, "top": {"mid"}, "other": nil}
	keys := map[project.ID][]string{"base": {"base"}, "mid": {"mid"}, "top": {"top"}, "other": {"other"}}
	x := testutil.NewFakeExecutor(time.Millisecond)
	x.Fail["base"] = true

	var skippedBy project.ID
	var skipped []project.ID
	d, err := New(Config{
		Phase:    planner.Build,
		Queue:    newQueue(t, g),
		Planner:  fanoutPlanner(keys),
		Executor: x,
		Lanes:    2,
		Policy:   SkipDependents,
		Hooks: Hooks{OnSkip: func(failed project.ID, ids []project.ID) {
			skippedBy, skipped = failed, ids
		}},
	})
	require.NoError(t, err)

	profile, err := d.Run(ctxlog.Discard(context.Background()))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"base", "other"}, x.Executed())
	assert.Equal(t, project.ID("base"), skippedBy)
	assert.Equal(t, []project.ID{"mid", "top"}, skipped)
	assert.Equal(t, 2, profile.Skipped)
	assert.Equal(t, 4, profile.Projects)
	assert.Equal(t, 1, profile.Failed)
	assert.Equal(t, 1, profile.Succeeded)
}

func TestRun_PlannerErrorsAreTrappedPerProject(t *testing.T) {
	t.Parallel()

	g := project.Graph{"bad": nil, "panics": nil, "good": nil, "after": {"bad", "panics"}}
	inner := fanoutPlanner(map[project.ID][]string{"good": {"good"}, "after": {"after"}})
	p := planner.PlannerFunc(func(ctx context.Context, phase planner.Phase, id project.ID) ([]planner.Invocation, error) {
		switch id {
		case "bad":
			return nil, errors.New("manifest unreadable")
		case "panics":
			panic("boom")
		}
		return inner.Plan(ctx, phase, id)
	})
	x := testutil.NewFakeExecutor(time.Millisecond)

	var mu sync.Mutex
	planErrs := map[project.ID]error{}
	d, err := New(Config{
		Phase:    planner.Test,
		Queue:    newQueue(t, g),
		Planner:  p,
		Executor: x,
		Lanes:    2,
		Hooks: Hooks{OnPlanFailure: func(id project.ID, err error) {
			mu.Lock()
			defer mu.Unlock()
			planErrs[id] = err
		}},
	})
	require.NoError(t, err)

	profile, err := d.Run(ctxlog.Discard(context.Background()))
	require.NoError(t, err)

	assert.Equal(t, 2, profile.PlanFailures)
	assert.Equal(t, 2, profile.Failed)
	assert.Equal(t, 2, profile.Succeeded)
	assert.Equal(t, 4, profile.Attempted)
	assert.ElementsMatch(t, []string{"good", "after"}, x.Executed())
	require.Contains(t, planErrs, project.ID("panics"))
	assert.Contains(t, planErrs["panics"].Error(), "boom")
}

func TestRun_NoOpProjectsReleaseDependents(t *testing.T) {
	t.Parallel()

	g := project.Graph{"empty": nil, "also-empty": {"empty"}, "leaf": {"also-empty"}}
	x := testutil.NewFakeExecutor(0)

	var completed []string
	d, err := runDispatcher(t, Config{
		Phase:    planner.Build,
		Queue:    newQueue(t, g),
		Planner:  fanoutPlanner(map[project.ID][]string{"leaf": {"leaf"}}),
		Executor: x,
		Lanes:    1,
		Hooks: Hooks{OnComplete: func(inv planner.Invocation, _ procexec.Status) {
			completed = append(completed, inv.Identifier)
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"leaf/leaf"}, completed)
	assert.Zero(t, d.Running())
}

func TestRun_EmptyGraph(t *testing.T) {
	t.Parallel()

	d, err := New(Config{
		Queue:    newQueue(t, project.Graph{}),
		Planner:  fanoutPlanner(nil),
		Executor: testutil.NewFakeExecutor(0),
		Lanes:    4,
	})
	require.NoError(t, err)

	profile, err := d.Run(ctxlog.Discard(context.Background()))
	require.NoError(t, err)
	assert.True(t, profile.Empty())
}

// stuckQueue never becomes terminal and never offers work.
type stuckQueue struct{}

func (stuckQueue) Extend(project.Graph) error { return nil }
func (stuckQueue) Take(int) []project.ID      { return nil }
func (stuckQueue) Finish(project.ID) error    { return nil }
func (stuckQueue) Terminal() bool             { return false }

func TestRun_StalledQueue(t *testing.T) {
	t.Parallel()

	_, err := runDispatcher(t, Config{
		Queue:    stuckQueue{},
		Planner:  fanoutPlanner(nil),
		Executor: testutil.NewFakeExecutor(0),
		Lanes:    1,
	})

	require.ErrorIs(t, err, ErrStalled)
}

func TestRun_CancellationDrainsRunningLanes(t *testing.T) {
	t.Parallel()

	g := project.Graph{"a": nil, "b": {"a"}}
	keys := map[project.ID][]string{"a": {"a1", "a2", "a3"}, "b": {"b1"}}
	started := make(chan string, 8)
	x := testutil.NewFakeExecutor(30 * time.Millisecond)
	x.Started = started

	ctx, cancel := context.WithCancel(ctxlog.Discard(context.Background()))
	defer cancel()

	d, err := New(Config{
		Phase:    planner.Build,
		Queue:    newQueue(t, g),
		Planner:  fanoutPlanner(keys),
		Executor: x,
		Lanes:    2,
	})
	require.NoError(t, err)

	go func() {
		<-started
		cancel()
	}()
	profile, err := d.Run(ctx)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, profile.Attempted, "both running lanes finish; nothing new starts")
	assert.ElementsMatch(t, []string{"a1", "a2"}, x.Executed())
	assert.Zero(t, d.Running())
}

// cancellingExecutor cancels the run on its first call and reports that call
// as never started, the way ExecRunner does for an already ended context.
type cancellingExecutor struct {
	cancel context.CancelFunc
	once   sync.Once
}

func (c *cancellingExecutor) Execute(ctx context.Context, _ planner.Command) procexec.Status {
	c.once.Do(c.cancel)
	return procexec.Status{Outcome: metrics.Outcome{ExitCode: procexec.ExitNotStarted, Err: ctx.Err()}}
}

func TestRun_LaunchesAbandonedByCancellationAreNotFailures(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	ctx, cancel := context.WithCancel(ctxlog.Discard(context.Background()))
	defer cancel()
	q := newQueue(t, project.Graph{"a": nil, "b": {"a"}})

	var failures, completions int
	d, err := New(Config{
		Phase:    planner.Build,
		Queue:    q,
		Planner:  fanoutPlanner(map[project.ID][]string{"a": {"a1", "a2"}, "b": {"b1"}}),
		Executor: &cancellingExecutor{cancel: cancel},
		Lanes:    2,
		Hooks: Hooks{
			OnFailure: func(planner.Invocation, procexec.Status) bool {
				failures++
				return true
			},
			OnComplete: func(planner.Invocation, procexec.Status) { completions++ },
		},
	})
	require.NoError(t, err)

	// --- Act ---
	profile, err := d.Run(ctx)

	// --- Assert ---
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, profile.Attempted)
	assert.Zero(t, profile.Failed)
	assert.False(t, profile.Trapped)
	assert.Zero(t, failures)
	assert.Zero(t, completions)
	state, ok := q.State("a")
	require.True(t, ok)
	assert.Equal(t, scheduler.InFlight, state, "an abandoned project is never finished")
}

func TestRun_OnStartReportsLaneOccupancy(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	var seen []Occupancy
	x := testutil.NewFakeExecutor(10 * time.Millisecond)

	// --- Act ---
	_, err := runDispatcher(t, Config{
		Phase:    planner.Test,
		Queue:    newQueue(t, project.Graph{"a": nil}),
		Planner:  fanoutPlanner(map[project.ID][]string{"a": {"a1", "a2", "a3"}}),
		Executor: x,
		Lanes:    2,
		Hooks: Hooks{OnStart: func(_ planner.Invocation, lanes Occupancy) {
			seen = append(seen, lanes)
		}},
	})

	// --- Assert ---
	require.NoError(t, err)
	require.Len(t, seen, 3)
	for _, o := range seen {
		assert.Equal(t, 2, o.Total)
		assert.GreaterOrEqual(t, o.Busy, int64(1))
		assert.LessOrEqual(t, o.Busy, int64(2))
	}
	assert.Equal(t, Occupancy{Busy: 2, Total: 2}, seen[1], "both lanes are busy once the second starts")
}
