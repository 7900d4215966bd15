package app

import (
	"testing"

	"github.com/vk/pdctl/internal/testutil"
)

// SetupAppTest creates a new app instance for system testing. Logs are
// captured at debug level.
func SetupAppTest(t *testing.T, cfg *Config, opts ...Option) (*App, *testutil.SafeBuffer, *testutil.SafeBuffer) {
	t.Helper()

	out := &testutil.SafeBuffer{}
	logs := &testutil.SafeBuffer{}
	cfg.LogLevel = "debug"
	testApp := NewApp(out, logs, cfg, opts...)
	testutil.DumpLogsOnCleanup(t, logs)

	return testApp, out, logs
}
