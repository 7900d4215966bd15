// Package project defines project identifiers and the dependency graph that
// the scheduler consumes.
package project

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrCycle reports a dependency cycle in a graph.
	ErrCycle = errors.New("dependency cycle")
	// ErrUnknownDependency reports an edge to an id that is not part of the graph.
	ErrUnknownDependency = errors.New("unknown dependency")
)

// ID identifies one buildable unit within a product. It is the project's
// product-relative directory in slash form, e.g. "lib/util".
type ID string

// String implements fmt.Stringer.
func (id ID) String() string { return string(id) }

// Graph maps each project to the projects it depends on.
type Graph map[ID][]ID

// IDs returns every project id in ascending order.
func (g Graph) IDs() []ID {
	ids := make([]ID, 0, len(g))
	for id := range g {
		ids = append(ids, id)
	}
	Sort(ids)
	return ids
}

// Dependents inverts the graph: the result maps an id to the ids that require it.
// Each dependents list is sorted.
func (g Graph) Dependents() map[ID][]ID {
	out := make(map[ID][]ID, len(g))
	for id, deps := range g {
		for _, dep := range Unique(deps) {
			out[dep] = append(out[dep], id)
		}
	}
	for id := range out {
		Sort(out[id])
	}
	return out
}

// Validate checks that every dependency names a project in the graph and that
// the graph is acyclic. A cycle error names the ids along the cycle.
func (g Graph) Validate() error {
	for _, id := range g.IDs() {
		for _, dep := range g[id] {
			if _, ok := g[dep]; !ok {
				return fmt.Errorf("project %q requires %q: %w", id, dep, ErrUnknownDependency)
			}
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	marks := make(map[ID]int, len(g))
	var path []ID

	var visit func(id ID) error
	visit = func(id ID) error {
		switch marks[id] {
		case done:
			return nil
		case visiting:
			start := 0
			for i, p := range path {
				if p == id {
					start = i
					break
				}
			}
			cycle := append(append([]ID{}, path[start:]...), id)
			parts := make([]string, len(cycle))
			for i, c := range cycle {
				parts[i] = string(c)
			}
			return fmt.Errorf("%w: %s", ErrCycle, strings.Join(parts, " -> "))
		}

		marks[id] = visiting
		path = append(path, id)
		deps := append([]ID{}, g[id]...)
		Sort(deps)
		for _, dep := range deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		marks[id] = done
		return nil
	}

	for _, id := range g.IDs() {
		if marks[id] == unvisited {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// Sort orders ids ascending in place.
func Sort(ids []ID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

// Unique returns ids with later duplicates removed, preserving order.
func Unique(ids []ID) []ID {
	seen := make(map[ID]struct{}, len(ids))
	out := make([]ID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
