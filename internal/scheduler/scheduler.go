package scheduler

import (
	"errors"
	"fmt"
	"sync"

	"github.com/vk/pdctl/internal/project"
)

// ErrNotInFlight is returned when Finish or Skip names an id that was not taken.
var ErrNotInFlight = errors.New("project is not in flight")

// State is the scheduling state of one project.
type State int

const (
	Pending State = iota
	Ready
	InFlight
	Finished
	Skipped
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case InFlight:
		return "in_flight"
	case Finished:
		return "finished"
	case Skipped:
		return "skipped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// DependencyQueue is the reference Queue implementation. It is safe for
// concurrent use.
type DependencyQueue struct {
	mu         sync.Mutex
	state      map[project.ID]State
	unresolved map[project.ID]int
	dependents map[project.ID][]project.ID
	ready      []project.ID // kept sorted
	open       int          // ids pending, ready or in flight
}

// New creates an empty queue.
func New() *DependencyQueue {
	return &DependencyQueue{
		state:      make(map[project.ID]State),
		unresolved: make(map[project.ID]int),
		dependents: make(map[project.ID][]project.ID),
	}
}

// Extend implements Queue. The graph is validated first; a cycle or an edge to
// an unknown project leaves the queue untouched.
func (q *DependencyQueue) Extend(g project.Graph) error {
	if err := g.Validate(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for _, id := range g.IDs() {
		if _, ok := q.state[id]; ok {
			return fmt.Errorf("project %q already queued", id)
		}
	}

	for _, id := range g.IDs() {
		deps := project.Unique(g[id])
		q.unresolved[id] = len(deps)
		q.state[id] = Pending
		q.open++
		for _, dep := range deps {
			q.dependents[dep] = append(q.dependents[dep], id)
		}
	}
	for _, id := range g.IDs() {
		if q.unresolved[id] == 0 {
			q.release(id)
		}
	}
	return nil
}

// Take implements Queue.
func (q *DependencyQueue) Take(n int) []project.ID {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n <= 0 || len(q.ready) == 0 {
		return nil
	}
	if n > len(q.ready) {
		n = len(q.ready)
	}
	taken := append([]project.ID(nil), q.ready[:n]...)
	q.ready = q.ready[n:]
	for _, id := range taken {
		q.state[id] = InFlight
	}
	return taken
}

// Finish implements Queue.
func (q *DependencyQueue) Finish(id project.ID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state[id] != InFlight {
		return fmt.Errorf("finish %q (%s): %w", id, q.state[id], ErrNotInFlight)
	}
	q.state[id] = Finished
	q.open--

	for _, d := range q.dependents[id] {
		if q.state[d] != Pending {
			continue
		}
		q.unresolved[d]--
		if q.unresolved[d] == 0 {
			q.release(d)
		}
	}
	return nil
}

// Skip implements Skipper.
func (q *DependencyQueue) Skip(id project.ID) ([]project.ID, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state[id] != InFlight {
		return nil, fmt.Errorf("skip dependents of %q (%s): %w", id, q.state[id], ErrNotInFlight)
	}
	q.state[id] = Finished
	q.open--

	var skipped []project.ID
	stack := append([]project.ID(nil), q.dependents[id]...)
	for len(stack) > 0 {
		d := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		// A dependent of an unfinished project can only be pending.
		if q.state[d] != Pending {
			continue
		}
		q.state[d] = Skipped
		q.open--
		skipped = append(skipped, d)
		stack = append(stack, q.dependents[d]...)
	}
	project.Sort(skipped)
	return skipped, nil
}

// Terminal implements Queue.
func (q *DependencyQueue) Terminal() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.open == 0
}

// State reports the scheduling state of id. Unknown ids report Pending and false.
func (q *DependencyQueue) State(id project.ID) (State, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.state[id]
	return s, ok
}

// release moves a pending id to ready, keeping ready sorted. Callers hold mu.
func (q *DependencyQueue) release(id project.ID) {
	q.state[id] = Ready
	i := len(q.ready)
	for i > 0 && q.ready[i-1] > id {
		i--
	}
	q.ready = append(q.ready, "")
	copy(q.ready[i+1:], q.ready[i:])
	q.ready[i] = id
}
