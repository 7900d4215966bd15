package cli

import (
	"flag"
	"fmt"
	"io"

	"github.com/vk/pdctl/internal/app"
	"github.com/vk/pdctl/internal/product"
)

// parseCommand parses the options of cfg.Command from args into cfg.
func parseCommand(cfg *app.Config, args []string, output io.Writer) (bool, error) {
	fs := flag.NewFlagSet("pdctl "+string(cfg.Command), flag.ContinueOnError)
	fs.SetOutput(output)

	var bind func() error
	switch cfg.Command {
	case app.CmdIntegrate, app.CmdBuild, app.CmdTest:
		bind = runFlags(fs, cfg)
	case app.CmdIndex:
		remove := fs.Bool("remove", false, "Remove the project index instead of rebuilding it.")
		policy := fs.String("policy", string(product.IndexAlways), "When to rebuild: 'never', 'missing' or 'always'.")
		fs.Func("connect", "Add a product path to the connections index. Repeatable.", appendTo(&cfg.Connect))
		fs.Func("disconnect", "Remove a product path from the connections index. Repeatable.", appendTo(&cfg.Disconnect))
		bind = func() error {
			cfg.RemoveIndex = *remove
			cfg.IndexPolicy = product.IndexPolicy(*policy)
			return noArgs(fs)
		}
	case app.CmdConnect:
		position := fs.Int("p", 0, "1-based position to insert at. 0 appends.")
		bind = func() error {
			cfg.Position = *position
			cfg.Targets = fs.Args()
			return nil
		}
	case app.CmdDisconnect:
		bind = func() error {
			cfg.Targets = fs.Args()
			return nil
		}
	case app.CmdReport, app.CmdClean:
		bind = func() error { return noArgs(fs) }
	default:
		return false, &ExitError{Code: ExitUsage, Message: fmt.Sprintf("unknown command %q", cfg.Command)}
	}

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return true, nil
		}
		return false, &ExitError{Code: ExitUsage, Message: err.Error()}
	}
	if err := bind(); err != nil {
		return false, &ExitError{Code: ExitUsage, Message: err.Error()}
	}
	return false, nil
}

// runFlags registers the options shared by integrate, build and test. Paired
// lowercase and uppercase flags disable and enable a feature; the later one on
// the command line wins.
func runFlags(fs *flag.FlagSet, cfg *app.Config) func() error {
	lanes := 4
	if cfg.Command == app.CmdTest {
		lanes = 8
	}
	policy := ""
	build, test := true, true

	fs.IntVar(&cfg.Lanes, "L", lanes, "Number of processing lanes.")
	fs.StringVar(&cfg.Intention, "i", app.DefaultIntention, "Build intention.")
	fs.BoolVar(&cfg.SkipDependents, "S", false, "Skip projects whose requirements failed.")
	fs.BoolVar(&cfg.Quiet, "q", false, "Only report failed invocations.")
	fs.BoolFunc("u", "Never update the project index.", func(string) error { policy = string(product.IndexNever); return nil })
	fs.BoolFunc("U", "Always update the project index.", func(string) error { policy = string(product.IndexAlways); return nil })
	fs.BoolFunc("b", "Disable the build phase.", func(string) error { build = false; return nil })
	fs.BoolFunc("B", "Enable the build phase.", func(string) error { build = true; return nil })
	fs.BoolFunc("t", "Disable the test phase.", func(string) error { test = false; return nil })
	fs.BoolFunc("T", "Enable the test phase.", func(string) error { test = true; return nil })

	return func() error {
		cfg.IndexPolicy = product.IndexPolicy(policy)
		cfg.DisableBuild = !build
		cfg.DisableTest = !test
		cfg.Symbols = fs.Args()
		if cfg.Command == app.CmdTest && len(cfg.Symbols) > 0 {
			return fmt.Errorf("test takes no arguments, got %q", cfg.Symbols)
		}
		return nil
	}
}

func appendTo(dst *[]string) func(string) error {
	return func(v string) error {
		*dst = append(*dst, v)
		return nil
	}
}

func noArgs(fs *flag.FlagSet) error {
	if fs.NArg() > 0 {
		return fmt.Errorf("%s takes no arguments, got %q", fs.Name(), fs.Args())
	}
	return nil
}
