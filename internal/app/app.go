package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/vk/pdctl/internal/ctxlog"
	"github.com/vk/pdctl/internal/procexec"
)

// Option customises an App.
type Option func(*App)

// WithExecutor replaces the subprocess executor.
func WithExecutor(e procexec.Executor) Option {
	return func(a *App) { a.executor = e }
}

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithEnviron replaces the process environment used for context set
// resolution and inherited by subprocesses.
func WithEnviron(environ []string) Option {
	return func(a *App) { a.environ = environ }
}

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer // transcript and command output
	errW     io.Writer // logs and notices
	logger   *slog.Logger
	config   *Config
	clock    clock.Clock
	executor procexec.Executor
	environ  []string
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance with its own isolated logger.
func NewApp(outW, errW io.Writer, cfg *Config, opts ...Option) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, errW)
	logger.Debug("Logger configured successfully.")

	a := &App{
		outW:    outW,
		errW:    errW,
		logger:  logger,
		config:  cfg,
		clock:   clock.New(),
		environ: os.Environ(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.executor == nil {
		a.executor = &procexec.ExecRunner{Clock: a.clock}
	}
	return a
}

// Config returns the application's configuration. This is primarily for testing.
func (a *App) Config() *Config {
	return a.config
}

func (a *App) withLogger(ctx context.Context) context.Context {
	return ctxlog.WithLogger(ctx, a.logger.With("command", string(a.config.Command)))
}

func (a *App) getenv(key string) string {
	for i := len(a.environ) - 1; i >= 0; i-- {
		k, v, ok := strings.Cut(a.environ[i], "=")
		if ok && k == key {
			return v
		}
	}
	return ""
}
