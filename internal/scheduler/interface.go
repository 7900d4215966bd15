package scheduler

import "github.com/vk/pdctl/internal/project"

// Queue hands out work items in dependency order.
//
// Alternate strategies (critical-path priority, for instance) implement the
// same four operations and can be given to the dispatcher unchanged.
type Queue interface {
	// Extend seeds the queue with every project of the graph and its edges.
	Extend(g project.Graph) error

	// Take moves up to n ready ids to in flight and returns them.
	Take(n int) []project.ID

	// Finish marks an in-flight id as finished and releases any dependent
	// whose dependencies are now all finished.
	Finish(id project.ID) error

	// Terminal reports whether nothing is pending, ready or in flight.
	Terminal() bool
}

// Skipper is implemented by queues that can abandon the dependents of a
// project instead of releasing them.
type Skipper interface {
	// Skip finishes the in-flight id and marks every transitive dependent as
	// skipped. It returns the skipped ids in ascending order.
	Skip(id project.ID) ([]project.ID, error)
}
