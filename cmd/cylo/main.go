// Command cylo is the CLI entry point: it loads configuration, wires the
// instance manager and executor, and exposes run/platform-info/instances/
// health subcommands.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/cyrup-ai/cylo-go/internal/backend"
	"github.com/cyrup-ai/cylo-go/internal/config"
	"github.com/cyrup-ai/cylo-go/internal/executor"
	"github.com/cyrup-ai/cylo-go/internal/instance"
	"github.com/cyrup-ai/cylo-go/internal/logging"
	"github.com/cyrup-ai/cylo-go/internal/platform"
)

const name = "cylo"

var usage = fmt.Sprintf(`%s runtime

%s executes untrusted code in an isolated backend selected for the
host's platform and the caller's routing preferences.`, name, name)

var defaultOutputFile io.Writer = os.Stdout
var defaultErrorFile io.Writer = os.Stderr

var globalFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "config",
		Usage: "path to the cylo TOML configuration file",
		Value: "/etc/cylo/config.toml",
	},
	cli.BoolFlag{
		Name:  "debug",
		Usage: "enable debug-level logging",
	},
}

var commands = []cli.Command{
	runCommand,
	platformInfoCommand,
	instancesCommand,
	healthCommand,
}

func main() {
	app := cli.NewApp()
	app.Name = name
	app.Usage = usage
	app.Writer = defaultOutputFile
	app.ErrWriter = defaultErrorFile
	app.Flags = globalFlags
	app.Commands = commands
	app.Before = beforeCommands

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(defaultErrorFile, err)
		os.Exit(1)
	}
}

func beforeCommands(c *cli.Context) error {
	if c.GlobalBool("debug") {
		logging.SetLogger(logrus.NewEntry(logrus.New()), logrus.DebugLevel)
	}
	return nil
}

func loadExecutor(c *cli.Context) (*executor.Executor, error) {
	cfg, err := config.Load(c.GlobalString("config"))
	if err != nil {
		return nil, err
	}

	mgr := instance.New(buildFactory(cfg))
	prefs := executor.BackendPreferences{
		DenyList:      cfg.Routing.DenyList,
		MaxConcurrent: cfg.Routing.MaxConcurrent,
		Multipliers:   cfg.Routing.Multipliers,
	}
	strategy := strategyFromConfig(cfg)
	opt := executor.OptimizationConfig{ReuseInstances: cfg.Routing.ReuseInstances}

	return executor.New(mgr, strategy, prefs, opt), nil
}

func strategyFromConfig(cfg config.Config) executor.RoutingStrategy {
	switch cfg.Routing.Strategy {
	case "performance":
		return executor.RoutingStrategy{Kind: executor.Performance}
	case "security":
		return executor.RoutingStrategy{Kind: executor.Security}
	case "prefer_backend":
		return executor.RoutingStrategy{Kind: executor.PreferBackend, PreferredBackend: cfg.Routing.PreferredBackend}
	case "explicit_only":
		return executor.RoutingStrategy{Kind: executor.ExplicitOnly}
	default:
		return executor.RoutingStrategy{Kind: executor.Balanced}
	}
}

var runCommand = cli.Command{
	Name:      "run",
	Usage:     "execute a snippet of code in an isolated backend",
	ArgsUsage: "<language> <code>",
	Flags: []cli.Flag{
		cli.DurationFlag{Name: "timeout", Value: 30 * time.Second},
		cli.StringFlag{Name: "stdin"},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() < 2 {
			return cli.NewExitError("usage: cylo run <language> <code>", 1)
		}

		ex, err := loadExecutor(c)
		if err != nil {
			return err
		}

		req := backend.NewExecutionRequest(c.Args().Get(1), c.Args().Get(0)).
			WithTimeout(c.Duration("timeout"))
		if stdin := c.String("stdin"); stdin != "" {
			req = req.WithInput(stdin)
		}

		result, err := ex.Execute(context.Background(), req, nil)
		if err != nil {
			return err
		}

		fmt.Fprint(defaultOutputFile, result.Stdout)
		if result.Stderr != "" {
			fmt.Fprint(defaultErrorFile, result.Stderr)
		}
		if !result.Success() {
			return cli.NewExitError("", result.ExitCode)
		}
		return nil
	},
}

var platformInfoCommand = cli.Command{
	Name:  "platform-info",
	Usage: "print the detected platform snapshot as JSON",
	Action: func(c *cli.Context) error {
		info := platform.Detect()
		enc := json.NewEncoder(defaultOutputFile)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	},
}

var instancesCommand = cli.Command{
	Name:  "instances",
	Usage: "explain that instance reclamation only works inside the process that owns the executor",
	Action: func(c *cli.Context) error {
		fmt.Fprintln(defaultOutputFile, "the instances subcommand operates against an in-process manager and has no effect across process boundaries; run it from the same process that owns the executor")
		return nil
	},
}

var healthCommand = cli.Command{
	Name:  "health",
	Usage: "print per-backend availability from the platform detector",
	Action: func(c *cli.Context) error {
		info := platform.Detect()
		for _, b := range info.Backends {
			status := "unavailable"
			if b.Available {
				status = "available"
			}
			fmt.Fprintf(defaultOutputFile, "%-12s %-12s rating=%-3d %s\n", b.Name, status, b.PerformanceRating, b.Reason)
		}
		return nil
	},
}
