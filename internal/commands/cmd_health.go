package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// HealthCmd implements the lazymic health command.
type HealthCmd struct {
	flags *Flags
	app   *Runtime
}

// NewHealthCmd creates a new health command.
func NewHealthCmd(flags *Flags, app *Runtime) *HealthCmd {
	return &HealthCmd{flags: flags, app: app}
}

// Register adds the health command to the application.
func (cmd *HealthCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "health",
		Usage:     "Probe the backend",
		UsageText: "lazymic health",
		Action:    cmd.run,
	})

	return app
}

func (cmd *HealthCmd) run(ctx context.Context, c *cli.Command) error {
	health, err := cmd.app.Services.Assistant.Health(ctx)
	if err != nil {
		return fmt.Errorf("health check against %s: %w", cmd.app.Services.Config.Backend.BaseURL, err)
	}
	return writeLine(c.Root().Writer, health)
}
