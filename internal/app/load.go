package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/pdctl/internal/ctxlog"
	"github.com/vk/pdctl/internal/ctxset"
	"github.com/vk/pdctl/internal/planner"
	"github.com/vk/pdctl/internal/product"
)

// ErrNoContextSet is returned by commands that need a construction context
// set when none of the candidate locations exists.
var ErrNoContextSet = errors.New("no context set available")

func (a *App) openProduct(ctx context.Context) (*product.Product, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Opening product...", "path", a.config.ProductPath)

	p, err := product.Open(a.config.ProductPath)
	if err != nil {
		return nil, err
	}
	logger.Debug("Product opened.", "root", p.Root)
	return p, nil
}

func (a *App) resolveContextSet(ctx context.Context) (string, error) {
	c, err := ctxset.Select(ctxset.Candidates(a.config.ContextSetPath, a.getenv))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNoContextSet, err)
	}
	ctxlog.FromContext(ctx).Debug("Context set selected.", "source", c.Source, "path", c.Path)
	return c.Path, nil
}

// environment assembles the run environment of an integration. Variables
// from the product's .env file take precedence over inherited ones.
func (a *App) environment(p *product.Product, contextSet string) (planner.Environment, error) {
	extra, err := p.Env()
	if err != nil {
		return planner.Environment{}, err
	}
	return planner.Environment{
		Product:      p.Root,
		Intention:    a.config.Intention,
		ContextSet:   contextSet,
		Execution:    a.getenv("F_EXECUTION"),
		CacheType:    "transient",
		FrameChannel: "integrate",
		Symbols:      a.config.Symbols,
		Base:         a.environ,
		Extra:        extra,
	}, nil
}
