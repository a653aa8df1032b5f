package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"
)

// maxSayInput bounds text read from stdin.
const maxSayInput = 64 << 10

// SayCmd implements the lazymic say command.
type SayCmd struct {
	flags *Flags
	app   *Runtime
}

// NewSayCmd creates a new say command.
func NewSayCmd(flags *Flags, app *Runtime) *SayCmd {
	return &SayCmd{flags: flags, app: app}
}

// Register adds the say command to the application.
func (cmd *SayCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "say",
		Usage:     "Submit typed text for interpretation",
		UsageText: "lazymic say [text...]",
		Description: `Sends text to the interpretation endpoint as if it had been spoken.

Without arguments the text is read from stdin, which must not be a terminal.

Examples:
  lazymic say remind me to buy milk tomorrow
  echo "call mom on sunday" | lazymic say`,
		Action: cmd.run,
	})

	return app
}

func (cmd *SayCmd) run(ctx context.Context, c *cli.Command) error {
	text := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if text == "" {
		piped, err := readPiped(c.Root().Reader)
		if err != nil {
			return err
		}
		text = piped
	}
	if text == "" {
		return errors.New("usage: lazymic say <text> (or pipe text on stdin)")
	}

	result, err := cmd.app.Services.Assistant.SubmitText(ctx, text)
	if err != nil {
		return fmt.Errorf("interpret text: %w", err)
	}
	return writeLine(c.Root().Writer, result)
}

func readPiped(r io.Reader) (string, error) {
	if r == nil {
		return "", nil
	}
	if f, ok := r.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "", errors.New("no text provided (stdin is a terminal); pass text as arguments or pipe it")
	}
	data, err := io.ReadAll(io.LimitReader(r, maxSayInput))
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
