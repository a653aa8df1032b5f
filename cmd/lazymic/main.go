package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"lazymic/internal/bootstrap"
	"lazymic/internal/commands"
	"lazymic/internal/logging"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	version = "dev"
	commit  = "HEAD"
)

func build() string {
	v, c := version, commit
	if v == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok {
			if mv := info.Main.Version; mv != "" && mv != "(devel)" {
				v = mv
			}
			for _, s := range info.Settings {
				if s.Key == "vcs.revision" {
					c = s.Value
				}
			}
		}
	}
	if len(c) > 7 {
		c = c[:7]
	}
	return fmt.Sprintf("%s (%s)", v, c)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		logCloser func()
		flags     = &commands.Flags{}
		runtime   = &commands.Runtime{}
	)

	app := &cli.Command{
		Name:      "lazymic",
		Usage:     "Capture tasks by voice or text",
		UsageText: "lazymic [global options] command [command options]",
		Description: `lazymic turns a spoken or typed sentence into tasks on the Lazy backend.

Run 'lazymic listen' to speak, 'lazymic say' to type, and 'lazymic tasks'
to review and edit what the backend created.`,
		Version: build(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (trace, debug, info, warn, error)",
				Sources:     cli.EnvVars("LAZYMIC_LOG_LEVEL"),
				Value:       "warn",
				Destination: &flags.LogLevel,
			},
			&cli.StringFlag{
				Name:        "log-file",
				Usage:       "path to log file (defaults to stderr)",
				Sources:     cli.EnvVars("LAZYMIC_LOG_FILE"),
				Destination: &flags.LogFile,
			},
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file",
				Sources:     cli.EnvVars("LAZYMIC_CONFIG"),
				Value:       commands.DefaultConfigPath(),
				Destination: &flags.ConfigPath,
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "print attention cue and processing events",
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			logger, closer, err := logging.New(flags.LogLevel, flags.LogFile)
			if err != nil {
				return ctx, fmt.Errorf("setup logger: %w", err)
			}
			log.Logger = logger
			logCloser = closer

			console := commands.NewConsole(c.Root().ErrWriter, c.Bool("verbose"))
			services, err := bootstrap.Build(flags.ConfigPath, bootstrap.Hosts{Events: console, Notifier: console})
			if err != nil {
				return ctx, fmt.Errorf("load config: %w", err)
			}
			*runtime = commands.Runtime{Services: services, Console: console}

			log.Debug().
				Str("backend", services.Config.Backend.BaseURL).
				Str("provider", services.Config.Recognition.Provider).
				Msg("lazymic ready")
			return ctx, nil
		},
		After: func(ctx context.Context, c *cli.Command) error {
			if runtime.Services.Controller != nil {
				_ = runtime.Services.Controller.Close()
			}
			if runtime.Services.Assistant != nil {
				runtime.Services.Assistant.Wait()
			}
			if logCloser != nil {
				logCloser()
			}
			return nil
		},
	}

	app = commands.NewListenCmd(flags, runtime).Register(app)
	app = commands.NewSayCmd(flags, runtime).Register(app)
	app = commands.NewTasksCmd(flags, runtime).Register(app)
	app = commands.NewHealthCmd(flags, runtime).Register(app)

	exitCode := 0
	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		exitCode = 1
	}

	stop()
	os.Exit(exitCode)
}
