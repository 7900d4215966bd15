// Package scheduler decides which projects may be processed next.
//
// # Why Scheduler Exists
//
// Projects in a product depend on each other, and a project must not be built
// or tested before everything it requires has been processed. The scheduler
// tracks that relation so the dispatcher can stay ignorant of the graph: it
// only asks for ready work and reports completions.
//
// # How It Works
//
// A Queue is seeded once per phase with Extend. Every project starts pending
// with a count of unfinished dependencies; projects with a zero count are
// ready. The dispatcher repeatedly:
//  1. Takes up to n ready ids (they become in flight)
//  2. Processes them
//  3. Calls Finish for each, which decrements the counts of its dependents
//     and releases those that reach zero
//
// until Terminal reports that nothing is pending, ready or in flight.
//
// # Ordering
//
// Ready ids are handed out in ascending id order so that a fixed graph and a
// fixed lane count always produce the same dispatch order.
//
// # Failure Propagation
//
// Finish releases dependents regardless of how the project fared. Callers that
// want a failing project to take its dependents down with it use the Skipper
// capability of DependencyQueue instead of Finish.
package scheduler
