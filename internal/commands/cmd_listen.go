package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"lazymic/internal/domain"
)

// ListenCmd implements the lazymic listen command.
type ListenCmd struct {
	flags *Flags
	app   *Runtime

	maxDuration time.Duration
}

// NewListenCmd creates a new listen command.
func NewListenCmd(flags *Flags, app *Runtime) *ListenCmd {
	return &ListenCmd{flags: flags, app: app}
}

// Register adds the listen command to the application.
func (cmd *ListenCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "listen",
		Usage:     "Capture one spoken utterance and submit it",
		UsageText: "lazymic listen [--max-duration <duration>]",
		Description: `Opens the microphone and streams audio to the recognition engine.

Press Enter to stop and submit the transcript, or Ctrl-C to discard it.
Live transcripts are printed to stderr; the interpretation is printed to
stdout as JSON.

If the engine ends the session on its own (for example after silence with
end_on_silence enabled) the transcript is printed but not submitted.

Examples:
  lazymic listen
  lazymic listen --max-duration 20s`,
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:        "max-duration",
				Aliases:     []string{"d"},
				Usage:       "stop and submit automatically after this long (0 waits for Enter)",
				Destination: &cmd.maxDuration,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *ListenCmd) run(ctx context.Context, c *cli.Command) error {
	controller := cmd.app.Services.Controller
	if err := controller.Start(ctx); err != nil {
		return fmt.Errorf("start listening: %w", err)
	}
	defer func() { _ = controller.Close() }()

	_, _ = fmt.Fprintln(c.Root().ErrWriter, "listening; press Enter to submit, Ctrl-C to discard")

	enter := make(chan struct{}, 1)
	go func() {
		if _, err := bufio.NewReader(c.Root().Reader).ReadString('\n'); err == nil {
			enter <- struct{}{}
		}
	}()

	var deadline <-chan time.Time
	if cmd.maxDuration > 0 {
		timer := time.NewTimer(cmd.maxDuration)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-enter:
	case <-deadline:
		log.Debug().Dur("max_duration", cmd.maxDuration).Msg("listen: duration reached")
	case <-ctx.Done():
		_ = controller.Cancel()
		return ctx.Err()
	case reason := <-cmd.app.Console.Ended():
		return cmd.ended(c, reason)
	}

	result, err := controller.Stop(ctx)
	if err != nil {
		return fmt.Errorf("stop listening: %w", err)
	}
	if !result.Emitted {
		return writeLine(c.Root().Writer, controller.Status())
	}

	cmd.app.Services.Assistant.Wait()
	interpretation, failure := cmd.app.Console.Outcome()
	if failure != nil {
		return fmt.Errorf("interpret utterance: %w", failure)
	}
	if interpretation == nil {
		return nil
	}
	return writeLine(c.Root().Writer, interpretation)
}

func (cmd *ListenCmd) ended(c *cli.Command, reason domain.CaptureStateReason) error {
	if reason == domain.CaptureReasonFailed {
		return errors.New("listening failed")
	}
	return writeLine(c.Root().Writer, cmd.app.Services.Controller.Status())
}
