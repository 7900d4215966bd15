package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/pdctl/internal/ctxlog"
	"github.com/vk/pdctl/internal/dispatch"
	"github.com/vk/pdctl/internal/integrate"
	"github.com/vk/pdctl/internal/product"
	"github.com/vk/pdctl/internal/report"
)

var (
	// ErrFailed is returned when an integration ran to completion with
	// failed or trapped invocations.
	ErrFailed = errors.New("integration completed with failures")
	// ErrNoCommand is returned when no command was given.
	ErrNoCommand = errors.New("no command given")
)

// Run executes the configured command.
func (a *App) Run(ctx context.Context) error {
	ctx = a.withLogger(ctx)
	a.logger.Debug("App.Run method started.", "command", string(a.config.Command))

	var contextSet string
	if a.config.Command.NeedsContextSet() {
		cs, err := a.resolveContextSet(ctx)
		if err != nil {
			return err
		}
		contextSet = cs
	}

	var err error
	switch a.config.Command {
	case CmdIntegrate, CmdBuild, CmdTest:
		err = a.integration(ctx, contextSet)
	case CmdIndex:
		err = a.index(ctx)
	case CmdConnect:
		err = a.connect(ctx)
	case CmdDisconnect:
		err = a.disconnect(ctx)
	case CmdReport:
		err = a.stats(ctx)
	case CmdClean:
		fmt.Fprintln(a.errW, "NOTICE: no effect; clean currently not implemented.")
	default:
		err = ErrNoCommand
	}

	a.logger.Debug("App.Run method finished.", "error", err)
	return err
}

func (a *App) integration(ctx context.Context, contextSet string) error {
	p, err := a.openProduct(ctx)
	if err != nil {
		return err
	}
	env, err := a.environment(p, contextSet)
	if err != nil {
		return err
	}

	emitter := report.New(a.outW, a.clock)
	emitter.Verbose = !a.config.Quiet
	orch := &integrate.Orchestrator{
		Source:   p,
		Executor: a.executor,
		Emitter:  emitter,
		Clock:    a.clock,
	}

	cfg := integrate.Config{
		IndexPolicy:  a.config.IndexPolicy,
		DisableBuild: a.config.DisableBuild || a.config.Command == CmdTest,
		DisableTest:  a.config.DisableTest || a.config.Command == CmdBuild,
		Lanes:        a.config.Lanes,
		Env:          env,
	}
	if a.config.SkipDependents {
		cfg.Policy = dispatch.SkipDependents
	}

	summary, err := orch.Integrate(ctx, cfg)
	if err != nil {
		return err
	}
	if summary.Failed() {
		t := summary.Totals()
		return fmt.Errorf("%w: %d of %d invocations failed", ErrFailed, t.Failed, t.Attempted)
	}
	return nil
}

// index applies the requested index manipulations in order: rebuild, then
// connection changes, then removal. Removal suppresses the rebuild.
func (a *App) index(ctx context.Context) error {
	p, err := a.openProduct(ctx)
	if err != nil {
		return err
	}
	emitter := report.New(a.errW, a.clock)
	ops := 0

	if !a.config.RemoveIndex {
		updated, err := p.UpdateIndex(ctx, a.config.IndexPolicy)
		if err != nil {
			return err
		}
		if updated {
			ops++
			emitter.Notice("updated project index using the product directory")
		}
	}

	if len(a.config.Connect) > 0 || len(a.config.Disconnect) > 0 {
		ins, err := references(a.config.Connect)
		if err != nil {
			return err
		}
		del, err := references(a.config.Disconnect)
		if err != nil {
			return err
		}
		if err := p.Reconnect(ins, del); err != nil {
			return err
		}
		conns, err := p.Connections()
		if err != nil {
			return err
		}
		ops++
		emitter.Notice("rewrote connections index (%d connected)", len(conns))
	}

	if a.config.RemoveIndex {
		ops++
		removed, err := p.RemoveIndex()
		if err != nil {
			return err
		}
		if removed {
			emitter.Notice("product index destroyed")
		} else {
			emitter.Notice("product index does not exist")
		}
	}

	if ops == 0 {
		emitter.Notice("no product index manipulations were performed")
	}
	return nil
}

func references(paths []string) ([]string, error) {
	out := make([]string, 0, len(paths))
	for _, t := range paths {
		ref, err := product.Reference(t)
		if err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, nil
}

func (a *App) connect(ctx context.Context) error {
	p, err := a.openProduct(ctx)
	if err != nil {
		return err
	}
	targets, err := references(a.config.Targets)
	if err != nil {
		return err
	}
	if err := p.Connect(a.config.Position, targets...); err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Info("Connections updated.", "added", len(targets), "position", a.config.Position)
	return nil
}

func (a *App) disconnect(ctx context.Context) error {
	p, err := a.openProduct(ctx)
	if err != nil {
		return err
	}
	targets, err := references(a.config.Targets)
	if err != nil {
		return err
	}
	if err := p.Disconnect(targets...); err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Info("Connections updated.", "removed", len(targets))
	return nil
}

func (a *App) stats(ctx context.Context) error {
	p, err := a.openProduct(ctx)
	if err != nil {
		return err
	}
	stats, err := p.Stats(ctx)
	if err != nil {
		return err
	}
	return report.WriteStats(a.outW, stats)
}
