//go:build unix

package system

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/pdctl/internal/app"
	"github.com/vk/pdctl/internal/testutil"
)

// traced is a build command that records its start and end in the product's
// trace file and sleeps in between.
func traced(sleep string) string {
	return `["sh", "-c", "echo start $F_PROJECT >> $PRODUCT/trace; sleep ` + sleep + `; echo end $F_PROJECT >> $PRODUCT/trace"]`
}

type result struct {
	root string
	out  string
	logs string
	err  error
}

// runPdctl runs one command against a product built from files, with real
// subprocesses and a temporary context set.
func runPdctl(t *testing.T, files map[string]string, cfg app.Config) result {
	t.Helper()

	root := testutil.NewProduct(t, files)
	cfg.ProductPath = root
	valid, err := app.NewConfig(cfg)
	require.NoError(t, err)

	out := &testutil.SafeBuffer{}
	logs := &testutil.SafeBuffer{}
	valid.LogLevel = "debug"
	testutil.DumpLogsOnCleanup(t, logs)

	environ := append(os.Environ(), "CONTEXTSET="+t.TempDir())
	a := app.NewApp(out, logs, valid, app.WithEnviron(environ))
	runErr := a.Run(context.Background())

	return result{root: root, out: out.String(), logs: logs.String(), err: runErr}
}

type event struct {
	start   bool
	project string
}

// readTrace parses the trace file written by traced commands.
func readTrace(t *testing.T, root string) []event {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(root, "trace"))
	require.NoError(t, err)

	var events []event
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		kind, id, ok := strings.Cut(line, " ")
		require.True(t, ok, "malformed trace line %q", line)
		events = append(events, event{start: kind == "start", project: id})
	}
	return events
}

// peak returns the highest number of overlapping traced executions.
func peak(events []event) int {
	running, max := 0, 0
	for _, e := range events {
		if e.start {
			running++
			if running > max {
				max = running
			}
		} else {
			running--
		}
	}
	return max
}

// index returns the position of the event, or -1.
func index(events []event, start bool, project string) int {
	for i, e := range events {
		if e.start == start && e.project == project {
			return i
		}
	}
	return -1
}
