package product

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/pdctl/internal/ctxlog"
	"github.com/vk/pdctl/internal/project"
	"github.com/vk/pdctl/internal/refs"
	"github.com/vk/pdctl/internal/testutil"
)

const buildOnly = "build {\n  command = \"cc\"\n}\n"

func newProduct(t *testing.T, files map[string]string) *Product {
	t.Helper()
	p, err := Open(testutil.NewProduct(t, files))
	require.NoError(t, err)
	return p
}

func TestOpen_RejectsNonDirectory(t *testing.T) {
	t.Parallel()

	// Arrange
	root := testutil.NewProduct(t, map[string]string{"file": "x"})

	// Act
	_, errFile := Open(filepath.Join(root, "file"))
	_, errMissing := Open(filepath.Join(root, "absent"))

	// Assert
	assert.ErrorIs(t, errFile, ErrNotProduct)
	assert.ErrorIs(t, errMissing, ErrNotProduct)
}

func TestParseIndexPolicy(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]IndexPolicy{
		"":        IndexMissing,
		"never":   IndexNever,
		"ALWAYS":  IndexAlways,
		"missing": IndexMissing,
	} {
		got, err := ParseIndexPolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseIndexPolicy("sometimes")
	assert.Error(t, err)
}

func TestScan_FindsManifestsAndSkipsHidden(t *testing.T) {
	t.Parallel()

	// Arrange
	p := newProduct(t, map[string]string{
		"project.hcl":            buildOnly,
		"lib/util/project.hcl":   buildOnly,
		"lib/util/src/a.c":       "",
		"app/project.hcl":        buildOnly,
		"app/sub/project.hcl":    buildOnly,
		".git/x/project.hcl":     buildOnly,
		"docs/readme.txt":        "",
		"lib/.cache/project.hcl": buildOnly,
	})

	// Act
	ids, err := p.Scan()

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []project.ID{"app", "app/sub", "lib/util"}, ids)
}

func TestUpdateIndex_Policies(t *testing.T) {
	t.Parallel()
	ctx := ctxlog.Discard(context.Background())

	// Arrange
	p := newProduct(t, map[string]string{"a/project.hcl": buildOnly})

	// Act & Assert: never leaves the product without an index.
	rebuilt, err := p.UpdateIndex(ctx, IndexNever)
	require.NoError(t, err)
	assert.False(t, rebuilt)
	_, err = p.Projects()
	assert.ErrorIs(t, err, ErrNoIndex)

	// missing builds it once.
	rebuilt, err = p.UpdateIndex(ctx, IndexMissing)
	require.NoError(t, err)
	assert.True(t, rebuilt)
	testutil.WriteFiles(t, p.Root, map[string]string{"b/project.hcl": buildOnly})
	rebuilt, err = p.UpdateIndex(ctx, IndexMissing)
	require.NoError(t, err)
	assert.False(t, rebuilt)
	ids, err := p.Projects()
	require.NoError(t, err)
	assert.Equal(t, []project.ID{"a"}, ids)

	// always picks up new projects.
	rebuilt, err = p.UpdateIndex(ctx, IndexAlways)
	require.NoError(t, err)
	assert.True(t, rebuilt)
	ids, err = p.Projects()
	require.NoError(t, err)
	assert.Equal(t, []project.ID{"a", "b"}, ids)
}

func TestRemoveIndex(t *testing.T) {
	t.Parallel()
	ctx := ctxlog.Discard(context.Background())

	// Arrange
	p := newProduct(t, map[string]string{"a/project.hcl": buildOnly})
	_, err := p.RebuildIndex(ctx)
	require.NoError(t, err)

	// Act
	removed, err := p.RemoveIndex()
	require.NoError(t, err)
	again, err := p.RemoveIndex()
	require.NoError(t, err)

	// Assert
	assert.True(t, removed)
	assert.False(t, again)
	assert.False(t, p.HasIndex())
}

func TestLoad_ValidatesGraph(t *testing.T) {
	t.Parallel()
	ctx := ctxlog.Discard(context.Background())

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		p := newProduct(t, map[string]string{
			"lib/project.hcl": buildOnly,
			"app/project.hcl": "requires = [\"lib\"]\n" + buildOnly,
		})
		_, err := p.RebuildIndex(ctx)
		require.NoError(t, err)

		set, err := p.Load(ctx)

		require.NoError(t, err)
		assert.Equal(t, project.Graph{"app": {"lib"}, "lib": nil}, set.Graph())
	})

	t.Run("unknown dependency", func(t *testing.T) {
		t.Parallel()
		p := newProduct(t, map[string]string{
			"app/project.hcl": "requires = [\"lib\"]\n" + buildOnly,
		})
		_, err := p.RebuildIndex(ctx)
		require.NoError(t, err)

		_, err = p.Load(ctx)

		assert.ErrorIs(t, err, project.ErrUnknownDependency)
	})

	t.Run("cycle", func(t *testing.T) {
		t.Parallel()
		p := newProduct(t, map[string]string{
			"a/project.hcl": "requires = [\"b\"]\n",
			"b/project.hcl": "requires = [\"a\"]\n",
		})
		_, err := p.RebuildIndex(ctx)
		require.NoError(t, err)

		_, err = p.Load(ctx)

		assert.ErrorIs(t, err, project.ErrCycle)
	})

	t.Run("no index", func(t *testing.T) {
		t.Parallel()
		p := newProduct(t, map[string]string{"a/project.hcl": buildOnly})

		_, err := p.Load(ctx)

		assert.ErrorIs(t, err, ErrNoIndex)
	})
}

func TestConnections(t *testing.T) {
	t.Parallel()

	// Arrange
	p := newProduct(t, nil)

	// Act
	require.NoError(t, p.Connect(0, "/p/a", "/p/b", "/p/c"))
	require.NoError(t, p.Connect(2, "/p/d"))
	require.NoError(t, p.Disconnect("/p/b", "/p/absent"))
	require.NoError(t, p.Connect(0, "/p/a"))

	// Assert
	got, err := p.Connections()
	require.NoError(t, err)
	assert.Equal(t, []string{"/p/a", "/p/d", "/p/c"}, got)

	raw, err := os.ReadFile(p.ConnectionsPath())
	require.NoError(t, err)
	assert.Equal(t, "/p/a\n/p/d\n/p/c", string(raw))
}

func TestConnect_PositionOutOfRange(t *testing.T) {
	t.Parallel()

	// Arrange
	p := newProduct(t, nil)
	require.NoError(t, p.Connect(0, "/p/a"))

	// Act
	err := p.Connect(5, "/p/z")

	// Assert
	assert.ErrorIs(t, err, refs.ErrPosition)
	got, err := p.Connections()
	require.NoError(t, err)
	assert.Equal(t, []string{"/p/a"}, got)
}

func TestReconnect(t *testing.T) {
	t.Parallel()

	p := newProduct(t, nil)
	require.NoError(t, p.Connect(0, "/p/a", "/p/b"))

	require.NoError(t, p.Reconnect([]string{"/p/c"}, []string{"/p/a"}))

	got, err := p.Connections()
	require.NoError(t, err)
	assert.Equal(t, []string{"/p/b", "/p/c"}, got)
}

func TestReference(t *testing.T) {
	t.Parallel()

	got, err := Reference("/p/x/../y/")
	require.NoError(t, err)
	assert.Equal(t, "/p/y", got)

	_, err = Reference("  ")
	assert.Error(t, err)
}

func TestEnv(t *testing.T) {
	t.Parallel()

	// Arrange
	withEnv := newProduct(t, map[string]string{".env": "CFLAGS=-O2\n# note\nPLATFORM=\"host\"\n"})
	without := newProduct(t, nil)

	// Act
	vars, err := withEnv.Env()
	require.NoError(t, err)
	empty, err := without.Env()
	require.NoError(t, err)

	// Assert
	assert.Equal(t, map[string]string{"CFLAGS": "-O2", "PLATFORM": "host"}, vars)
	assert.Empty(t, empty)
}

func TestStats(t *testing.T) {
	t.Parallel()
	ctx := ctxlog.Discard(context.Background())

	// Arrange
	p := newProduct(t, map[string]string{
		"lib/util/project.hcl":    buildOnly,
		"lib/util/a.c":            "12345",
		"lib/util/.hidden/x":      "ignored",
		"lib/util/io/project.hcl": buildOnly,
		"lib/util/io/b.c":         "123",
		"app/project.hcl":         buildOnly,
	})
	_, err := p.RebuildIndex(ctx)
	require.NoError(t, err)

	// Act
	stats, err := p.Stats(ctx)

	// Assert
	require.NoError(t, err)
	require.Len(t, stats, 3)
	assert.Equal(t, ProjectStats{ID: "app", Corpus: "app", Files: 1, Bytes: int64(len(buildOnly))}, stats[0])
	assert.Equal(t, ProjectStats{ID: "lib/util", Corpus: "lib", Files: 2, Bytes: int64(len(buildOnly) + 5)}, stats[1])
	assert.Equal(t, ProjectStats{ID: "lib/util/io", Corpus: "lib", Files: 2, Bytes: int64(len(buildOnly) + 3)}, stats[2])
}
