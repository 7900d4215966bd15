// Package dispatch runs the invocations of ready projects across a fixed
// number of lanes.
//
// # How It Works
//
// One control goroutine owns the queue and the phase metrics. It repeatedly
// takes ready projects, asks the planner for their invocations, and starts as
// many of them as the lane budget allows. Each started invocation holds one
// unit of a weighted semaphore until its subprocess exits, so a project that
// fans out into many test files consumes many lanes. Lanes report back over a
// channel; the control goroutine records the outcome, runs the hooks, and
// finishes the project once its last invocation is in.
//
// # Failure Traps
//
// Hooks.OnFailure sees every failed invocation and decides whether the phase
// counts as trapped. Hooks.OnComplete sees every invocation. Planner errors and
// panics are trapped per project and recorded as plan failures. With the
// Continue policy a failed project still releases its dependents; with
// SkipDependents they are marked skipped and never planned.
//
// # Cancellation
//
// Cancelling the context stops the dispatcher from taking or starting work.
// Invocations already running are waited for, never killed.
package dispatch
