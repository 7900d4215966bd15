package app

import (
	"errors"
	"fmt"

	"github.com/vk/pdctl/internal/product"
)

// Command names an operation of the controller.
type Command string

const (
	CmdUnspecified Command = ""
	CmdIntegrate   Command = "integrate"
	CmdBuild       Command = "build"
	CmdTest        Command = "test"
	CmdIndex       Command = "index"
	CmdConnect     Command = "connect"
	CmdDisconnect  Command = "disconnect"
	CmdReport      Command = "report"
	CmdClean       Command = "clean"
)

// Commands lists every named command.
var Commands = []Command{CmdIntegrate, CmdBuild, CmdTest, CmdIndex, CmdConnect, CmdDisconnect, CmdReport, CmdClean}

// NeedsContextSet reports whether the command runs against a construction
// context set. An unspecified command does, so that a missing context set is
// reported before the missing command.
func (c Command) NeedsContextSet() bool {
	switch c {
	case CmdIntegrate, CmdBuild, CmdTest, CmdUnspecified:
		return true
	}
	return false
}

func (c Command) known() bool {
	if c == CmdUnspecified {
		return true
	}
	for _, k := range Commands {
		if c == k {
			return true
		}
	}
	return false
}

// DefaultIntention is the build intention when none is given.
const DefaultIntention = "optimal"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	Command Command

	ProductPath    string // product root; empty is the working directory
	ContextSetPath string // explicit construction context set, optional

	LogFormat string
	LogLevel  string

	// integrate, build and test
	Lanes          int
	IndexPolicy    product.IndexPolicy
	DisableBuild   bool
	DisableTest    bool
	SkipDependents bool
	Quiet          bool
	Intention      string
	Symbols        []string

	// connect and disconnect
	Position int
	Targets  []string

	// index
	RemoveIndex bool
	Connect     []string
	Disconnect  []string
}

// NewConfig validates cfg and fills in defaults.
func NewConfig(cfg Config) (*Config, error) {
	if !cfg.Command.known() {
		return nil, fmt.Errorf("unknown command %q", cfg.Command)
	}
	if cfg.ProductPath == "" {
		cfg.ProductPath = "."
	}

	switch cfg.LogFormat {
	case "":
		cfg.LogFormat = "text"
	case "text", "json":
	default:
		return nil, errors.New("invalid log-format: must be 'text' or 'json'")
	}
	switch cfg.LogLevel {
	case "":
		cfg.LogLevel = "warn"
	case "debug", "info", "warn", "error":
	default:
		return nil, errors.New("invalid log-level: must be 'debug', 'info', 'warn', or 'error'")
	}

	switch cfg.Command {
	case CmdIntegrate, CmdBuild, CmdTest:
		if cfg.Lanes < 1 {
			return nil, fmt.Errorf("lanes must be at least 1, got %d", cfg.Lanes)
		}
		policy, err := product.ParseIndexPolicy(string(cfg.IndexPolicy))
		if err != nil {
			return nil, err
		}
		cfg.IndexPolicy = policy
		if cfg.Intention == "" {
			cfg.Intention = DefaultIntention
		}
	case CmdIndex:
		if cfg.IndexPolicy == "" {
			cfg.IndexPolicy = product.IndexAlways
		}
		policy, err := product.ParseIndexPolicy(string(cfg.IndexPolicy))
		if err != nil {
			return nil, err
		}
		cfg.IndexPolicy = policy
	case CmdConnect, CmdDisconnect:
		if len(cfg.Targets) == 0 {
			return nil, fmt.Errorf("%s requires at least one product path", cfg.Command)
		}
		if cfg.Position < 0 {
			return nil, fmt.Errorf("position must be positive, got %d", cfg.Position)
		}
	}

	return &cfg, nil
}
