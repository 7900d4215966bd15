package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vk/pdctl/internal/app"
	"github.com/vk/pdctl/internal/ctxset"
	"github.com/vk/pdctl/internal/product"
	"github.com/vk/pdctl/internal/refs"
)

// Process exit codes.
const (
	ExitOK           = 0
	ExitFailure      = 1
	ExitUsage        = 2
	ExitNoContextSet = 10
	ExitNoCommand    = 254
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Exit maps an error returned by the application onto an ExitError.
func Exit(err error) *ExitError {
	var exitErr *ExitError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &exitErr):
		return exitErr
	case errors.Is(err, app.ErrNoContextSet), errors.Is(err, ctxset.ErrNotFound):
		return &ExitError{Code: ExitNoContextSet, Message: "ERROR: " + err.Error()}
	case errors.Is(err, app.ErrNoCommand):
		return &ExitError{Code: ExitNoCommand, Message: "ERROR: " + err.Error()}
	case errors.Is(err, product.ErrNotProduct), errors.Is(err, refs.ErrPosition):
		return &ExitError{Code: ExitUsage, Message: "ERROR: " + err.Error()}
	default:
		return &ExitError{Code: ExitFailure, Message: "ERROR: " + err.Error()}
	}
}

const usage = `
pdctl - product integration controller.

Usage:
  pdctl [options] command [command options] [arguments]

Commands:
  integrate   Build and test every project of the product.
  build       Build every project; trailing arguments are passed as symbols.
  test        Test every project.
  index       Rebuild or -remove the project index; -connect and -disconnect
              edit the connections index in the same pass.
  connect     Add product paths to the connections index.
  disconnect  Remove product paths from the connections index.
  report      Print file statistics per project.
  clean       No effect.

Options:
`

// Parse processes command-line arguments. It returns a populated Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("pdctl", flag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.Usage = func() {
		fmt.Fprint(output, usage)
		flagSet.PrintDefaults()
	}

	productFlag := flagSet.String("D", "", "Product directory. Defaults to the working directory.")
	contextFlag := flagSet.String("X", "", "Construction context set directory.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "warn", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: ExitUsage, Message: err.Error()}
	}
	slog.Debug("Global options parsed successfully.")

	cfg := app.Config{
		ProductPath:    *productFlag,
		ContextSetPath: *contextFlag,
		LogFormat:      strings.ToLower(*logFormatFlag),
		LogLevel:       strings.ToLower(*logLevelFlag),
	}

	if flagSet.NArg() == 0 {
		slog.Debug("No command provided.")
		return newConfig(cfg)
	}
	cfg.Command = app.Command(flagSet.Arg(0))
	rest := flagSet.Args()[1:]

	exit, err := parseCommand(&cfg, rest, output)
	if err != nil || exit {
		return nil, exit, err
	}
	return newConfig(cfg)
}

func newConfig(cfg app.Config) (*app.Config, bool, error) {
	config, err := app.NewConfig(cfg)
	if err != nil {
		return nil, false, &ExitError{Code: ExitUsage, Message: err.Error()}
	}
	slog.Debug("CLI parser finished successfully.", "command", string(config.Command))
	return config, false, nil
}
