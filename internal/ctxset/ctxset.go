// Package ctxset locates the construction context set: the directory of build
// tooling configuration that build and test commands are run against.
package ctxset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when no candidate directory exists.
var ErrNotFound = errors.New("no construction context set found")

// Candidate is one possible context set location and where it came from.
type Candidate struct {
	Source string
	Path   string
}

// Candidates lists the locations in precedence order: the explicit local path,
// $CONTEXTSET, $HOME/.cc and $FAULT/cc. Unset sources are omitted.
func Candidates(local string, getenv func(string) string) []Candidate {
	if getenv == nil {
		getenv = os.Getenv
	}
	var out []Candidate
	add := func(source, path string) {
		if strings.TrimSpace(path) != "" {
			out = append(out, Candidate{Source: source, Path: path})
		}
	}
	add("local", local)
	add("CONTEXTSET", getenv("CONTEXTSET"))
	if home := getenv("HOME"); home != "" {
		add("HOME", filepath.Join(home, ".cc"))
	}
	if fault := getenv("FAULT"); fault != "" {
		add("FAULT", filepath.Join(fault, "cc"))
	}
	return out
}

// Select returns the first candidate that is an existing directory, as an
// absolute path.
func Select(candidates []Candidate) (Candidate, error) {
	for _, c := range candidates {
		info, err := os.Stat(c.Path)
		if err != nil || !info.IsDir() {
			continue
		}
		abs, err := filepath.Abs(c.Path)
		if err != nil {
			return Candidate{}, fmt.Errorf("resolving context set %s: %w", c.Path, err)
		}
		c.Path = abs
		return c, nil
	}
	tried := make([]string, len(candidates))
	for i, c := range candidates {
		tried[i] = c.Path
	}
	return Candidate{}, fmt.Errorf("%w (tried: %s)", ErrNotFound, strings.Join(tried, ", "))
}
