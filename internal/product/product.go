// Package product manages a product root: the project index, the connections
// index, and loading the project graph declared by the manifests.
package product

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/vk/pdctl/internal/ctxlog"
	"github.com/vk/pdctl/internal/fsutil"
	"github.com/vk/pdctl/internal/manifest"
	"github.com/vk/pdctl/internal/project"
	"github.com/vk/pdctl/internal/refs"
)

// MetaDir is the directory inside the product root holding persisted indexes.
const MetaDir = ".product"

var (
	// ErrNotProduct is returned when the product root is not a directory.
	ErrNotProduct = errors.New("product path is not a directory")
	// ErrNoIndex is returned when the project index is required but absent.
	ErrNoIndex = errors.New("project index does not exist")
)

// IndexPolicy controls when the project index is rebuilt before a run.
type IndexPolicy string

const (
	IndexNever   IndexPolicy = "never"
	IndexMissing IndexPolicy = "missing"
	IndexAlways  IndexPolicy = "always"
)

// ParseIndexPolicy validates a policy name.
func ParseIndexPolicy(s string) (IndexPolicy, error) {
	switch p := IndexPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case IndexNever, IndexMissing, IndexAlways:
		return p, nil
	case "":
		return IndexMissing, nil
	default:
		return "", fmt.Errorf("invalid index policy %q: must be 'never', 'missing' or 'always'", s)
	}
}

// Product is a product root directory.
type Product struct {
	Root   string
	loader *manifest.Loader
}

// Open returns the product rooted at dir.
func Open(dir string) (*Product, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving product %s: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotProduct, abs)
	}
	return &Product{Root: abs, loader: manifest.NewLoader()}, nil
}

// IndexPath is the location of the project index.
func (p *Product) IndexPath() string {
	return filepath.Join(p.Root, MetaDir, "projects")
}

// ConnectionsPath is the location of the connections index.
func (p *Product) ConnectionsPath() string {
	return filepath.Join(p.Root, MetaDir, "connections")
}

// EnvPath is the optional dotenv file supplying invocation environment.
func (p *Product) EnvPath() string {
	return filepath.Join(p.Root, ".env")
}

// Env reads the product's .env file. A missing file yields no variables.
func (p *Product) Env() (map[string]string, error) {
	path := p.EnvPath()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	vars, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return vars, nil
}

// HasIndex reports whether the project index exists.
func (p *Product) HasIndex() bool {
	_, err := os.Stat(p.IndexPath())
	return err == nil
}

// Scan walks the product directory and returns the ids of every directory
// holding a manifest. Hidden directories are skipped; the root itself is not
// a project.
func (p *Product) Scan() ([]project.ID, error) {
	dirs, err := fsutil.FindDirsContaining(p.Root, manifest.FileName)
	if err != nil {
		return nil, fmt.Errorf("scanning product %s: %w", p.Root, err)
	}
	ids := make([]project.ID, len(dirs))
	for i, d := range dirs {
		ids[i] = project.ID(d)
	}
	return ids, nil
}

// RebuildIndex rescans the product and replaces the project index.
func (p *Product) RebuildIndex(ctx context.Context) ([]project.ID, error) {
	ids, err := p.Scan()
	if err != nil {
		return nil, err
	}
	entries := make([]string, len(ids))
	for i, id := range ids {
		entries[i] = string(id)
	}
	if err := refs.New(entries...).Store(p.IndexPath()); err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Debug("Project index rebuilt.", "projects", len(ids))
	return ids, nil
}

// UpdateIndex applies policy and reports whether the index was rebuilt.
func (p *Product) UpdateIndex(ctx context.Context, policy IndexPolicy) (bool, error) {
	switch policy {
	case IndexNever:
		return false, nil
	case IndexMissing:
		if p.HasIndex() {
			return false, nil
		}
	case IndexAlways:
	default:
		return false, fmt.Errorf("invalid index policy %q", policy)
	}
	if _, err := p.RebuildIndex(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveIndex deletes the project index and reports whether one existed.
func (p *Product) RemoveIndex() (bool, error) {
	err := os.Remove(p.IndexPath())
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("removing project index: %w", err)
	}
	return true, nil
}

// Projects reads the project index.
func (p *Product) Projects() ([]project.ID, error) {
	if !p.HasIndex() {
		return nil, fmt.Errorf("%w: %s", ErrNoIndex, p.IndexPath())
	}
	l, err := refs.Load(p.IndexPath())
	if err != nil {
		return nil, err
	}
	var ids []project.ID
	for _, e := range l.Merge() {
		ids = append(ids, project.ID(strings.TrimSpace(e)))
	}
	return ids, nil
}

// Load reads the manifests of every indexed project. The declared graph is
// validated: a cycle or an edge to an unindexed project is an error.
func (p *Product) Load(ctx context.Context) (*manifest.Set, error) {
	ids, err := p.Projects()
	if err != nil {
		return nil, err
	}
	set, err := p.loader.Load(ctx, p.Root, ids)
	if err != nil {
		return nil, err
	}
	if err := set.Graph().Validate(); err != nil {
		return nil, fmt.Errorf("product %s: %w", p.Root, err)
	}
	return set, nil
}

// Connections returns the merged connections index.
func (p *Product) Connections() ([]string, error) {
	l, err := refs.Load(p.ConnectionsPath())
	if err != nil {
		return nil, err
	}
	return l.Merge(), nil
}

// Connect adds product references to the connections index. A position of 0
// appends; otherwise the references are inserted at the 1-based position.
func (p *Product) Connect(position int, targets ...string) error {
	l, err := refs.Load(p.ConnectionsPath())
	if err != nil {
		return err
	}
	if position == 0 {
		l.Append(targets...)
	} else if err := l.InsertAt(position, targets...); err != nil {
		return err
	}
	return l.Store(p.ConnectionsPath())
}

// Disconnect removes product references from the connections index.
func (p *Product) Disconnect(targets ...string) error {
	l, err := refs.Load(p.ConnectionsPath())
	if err != nil {
		return err
	}
	l.Delete(targets...)
	return l.Store(p.ConnectionsPath())
}

// Reconnect applies insertions and deletions in one rewrite.
func (p *Product) Reconnect(insertions, deletions []string) error {
	l, err := refs.Load(p.ConnectionsPath())
	if err != nil {
		return err
	}
	l.Append(insertions...)
	l.Delete(deletions...)
	return l.Store(p.ConnectionsPath())
}

// Reference converts a user supplied path into the absolute, cleaned form
// stored in the connections index.
func Reference(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("empty product reference")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", path, err)
	}
	return abs, nil
}
