package manifest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/pdctl/internal/ctxlog"
	"github.com/vk/pdctl/internal/project"
	"golang.org/x/sync/errgroup"
)

// FileName is the name of the manifest file inside a project directory.
const FileName = "project.hcl"

// DefaultMatch selects test files when a test block has no match attribute.
const DefaultMatch = "test_*"

// ErrMissing reports a project id without a readable manifest.
var ErrMissing = errors.New("project manifest missing")

// fileRoot is the decoded shape of a manifest file.
type fileRoot struct {
	Requires []string     `hcl:"requires,optional"`
	Build    *actionBlock `hcl:"build,block"`
	Test     *actionBlock `hcl:"test,block"`
	Remain   hcl.Body     `hcl:",remain"`
}

type actionBlock struct {
	Command hcl.Expression `hcl:"command"`
	Env     hcl.Expression `hcl:"env,optional"`
	Match   string         `hcl:"match,optional"`
}

// Action is a build or test declaration with its expressions left unevaluated.
type Action struct {
	Command hcl.Expression
	Env     hcl.Expression
	Match   string
}

// Manifest is one parsed project.hcl.
type Manifest struct {
	ID       project.ID
	Dir      string // absolute project directory
	File     string
	Requires []project.ID
	Build    *Action
	Test     *Action
}

// Loader parses project manifests below a product root.
type Loader struct {
	// Parallel bounds concurrent parsing; zero means 8.
	Parallel int
}

// NewLoader creates a manifest loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses the manifests of the given projects and returns them as a Set.
func (l *Loader) Load(ctx context.Context, root string, ids []project.ID) (*Set, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Manifest loader started.", "root", root, "projects", len(ids))

	limit := l.Parallel
	if limit <= 0 {
		limit = 8
	}

	manifests := make([]*Manifest, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			m, err := l.LoadOne(root, id)
			if err != nil {
				return err
			}
			manifests[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	set := &Set{Root: root, Manifests: make(map[project.ID]*Manifest, len(manifests))}
	for _, m := range manifests {
		set.Manifests[m.ID] = m
	}
	logger.Debug("Manifest loading complete.", "projects", len(set.Manifests))
	return set, nil
}

// LoadOne parses the manifest of a single project.
func (l *Loader) LoadOne(root string, id project.ID) (*Manifest, error) {
	dir := filepath.Join(root, filepath.FromSlash(string(id)))
	file := filepath.Join(dir, FileName)

	if _, err := os.Stat(file); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissing, file)
		}
		return nil, fmt.Errorf("error accessing manifest %s: %w", file, err)
	}

	// Parsers cache files and are not safe for concurrent use.
	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCLFile(file)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", file, diags)
	}

	var decoded fileRoot
	if diags := gohcl.DecodeBody(hclFile.Body, nil, &decoded); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", file, diags)
	}

	m := &Manifest{ID: id, Dir: dir, File: file}
	for _, r := range decoded.Requires {
		dep, err := normalizeID(r)
		if err != nil {
			return nil, fmt.Errorf("manifest %s: %w", file, err)
		}
		m.Requires = append(m.Requires, dep)
	}
	var err error
	if m.Build, err = translateAction("build", decoded.Build, ""); err != nil {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", file, err)
	}
	if m.Test, err = translateAction("test", decoded.Test, DefaultMatch); err != nil {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", file, err)
	}
	return m, nil
}

func translateAction(name string, b *actionBlock, defaultMatch string) (*Action, error) {
	if b == nil {
		return nil, nil
	}
	if isAbsent(b.Command) {
		return nil, fmt.Errorf("%s block: missing command", name)
	}
	a := &Action{Command: b.Command, Env: b.Env, Match: b.Match}
	if a.Match == "" {
		a.Match = defaultMatch
	}
	return a, nil
}

// isAbsent reports whether expr is missing or a literal null. gohcl fills an
// absent expression attribute with a static null.
func isAbsent(expr hcl.Expression) bool {
	if expr == nil {
		return true
	}
	if len(expr.Variables()) > 0 {
		return false
	}
	v, diags := expr.Value(nil)
	return !diags.HasErrors() && v.IsNull()
}

// normalizeID cleans a product-relative project reference.
func normalizeID(raw string) (project.ID, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", errors.New("empty project reference in requires")
	}
	s = path.Clean(filepath.ToSlash(s))
	if path.IsAbs(s) || s == "." || s == ".." || strings.HasPrefix(s, "../") {
		return "", fmt.Errorf("project reference %q must be relative to the product", raw)
	}
	return project.ID(s), nil
}

// Set is the manifests of one product.
type Set struct {
	Root      string
	Manifests map[project.ID]*Manifest
}

// Graph returns the dependency graph declared by the manifests.
func (s *Set) Graph() project.Graph {
	g := make(project.Graph, len(s.Manifests))
	for id, m := range s.Manifests {
		g[id] = append([]project.ID(nil), m.Requires...)
	}
	return g
}
