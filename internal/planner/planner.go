// Package planner defines the invocation descriptors the dispatcher runs and
// the interface of the collaborator that produces them.
package planner

import (
	"context"
	"sort"
	"strings"

	"github.com/vk/pdctl/internal/project"
)

// Phase names one orchestration pass over the graph.
type Phase string

const (
	Build Phase = "build"
	Test  Phase = "test"
)

// Namespace returns the report namespace of invocations in the phase.
func (p Phase) Namespace() string {
	switch p {
	case Build:
		return "FPI"
	case Test:
		return "Fates"
	default:
		return string(p)
	}
}

// Command is an executable with its arguments and environment.
type Command struct {
	Path string
	Args []string // including argv[0]
	Env  []string // KEY=VALUE pairs; nil inherits the parent environment
	Dir  string
}

// Invocation is one unit of external work for a project.
type Invocation struct {
	Namespace  string
	Project    project.ID
	Dimensions []string
	Identifier string
	Command    Command
}

// NewInvocation builds an invocation whose identifier joins the dimensions.
func NewInvocation(phase Phase, id project.ID, cmd Command, sub ...string) Invocation {
	dims := append([]string{string(id)}, sub...)
	return Invocation{
		Namespace:  phase.Namespace(),
		Project:    id,
		Dimensions: dims,
		Identifier: strings.Join(dims, "/"),
		Command:    cmd,
	}
}

// Planner produces the invocations of a project for a phase. Returning no
// invocations marks the project as a no-op.
type Planner interface {
	Plan(ctx context.Context, phase Phase, id project.ID) ([]Invocation, error)
}

// PlannerFunc adapts a function to the Planner interface.
type PlannerFunc func(ctx context.Context, phase Phase, id project.ID) ([]Invocation, error)

// Plan implements Planner.
func (f PlannerFunc) Plan(ctx context.Context, phase Phase, id project.ID) ([]Invocation, error) {
	return f(ctx, phase, id)
}

// Environment is the run configuration handed to planners. It replaces
// process-wide environment mutation: Vars renders it only when a subprocess
// environment is assembled.
type Environment struct {
	Product      string // product root directory
	Intention    string // build intention, e.g. "optimal"
	ContextSet   string // construction context set directory
	Execution    string // execution platform directory, optional
	Cache        string // transient build cache; empty outside the build phase
	CacheType    string // "transient" unless configured otherwise
	FrameChannel string
	Symbols      []string // trailing arguments for build invocations
	Base         []string // inherited KEY=VALUE pairs, lowest precedence
	Extra        map[string]string
}

// Vars returns the subprocess environment: Base, then Extra, then the
// variables derived from the run configuration. Later sources override
// earlier ones. The result is sorted by key.
func (e Environment) Vars(overrides map[string]string) []string {
	merged := make(map[string]string, len(e.Base)+len(e.Extra)+8)
	for _, kv := range e.Base {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		merged[k] = v
	}
	for k, v := range e.Extra {
		merged[k] = v
	}

	set := func(k, v string) {
		if v != "" {
			merged[k] = v
		}
	}
	set("PRODUCT", e.Product)
	set("INTENTION", e.Intention)
	set("F_PRODUCT", e.ContextSet)
	set("F_EXECUTION", e.Execution)
	set("FRAMECHANNEL", e.FrameChannel)
	set("FPI_CACHE", e.CacheType)

	for k, v := range overrides {
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+merged[k])
	}
	return out
}

// WithCache returns a copy of e pointing at the given build cache.
func (e Environment) WithCache(dir string) Environment {
	e.Cache = dir
	return e
}
