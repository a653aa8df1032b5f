package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"lazymic/internal/domain"
)

// TasksCmd implements the lazymic tasks command group.
type TasksCmd struct {
	flags *Flags
	app   *Runtime

	// add flags
	addTitle       string
	addDescription string
	addPriority    string
	addCategory    string
	addLocation    string
	addDuration    int
	addDue         string

	// edit flags
	editTitle       string
	editDescription string
	editPriority    string
	editStatus      string
}

// NewTasksCmd creates a new tasks command.
func NewTasksCmd(flags *Flags, app *Runtime) *TasksCmd {
	return &TasksCmd{flags: flags, app: app}
}

// Register adds the tasks command to the application.
func (cmd *TasksCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "tasks",
		Usage: "Manage tasks on the backend",
		Description: `Task commands read and change the backend's task list.

Results are printed as JSON lines.

Examples:
  lazymic tasks list
  lazymic tasks add --title "Buy milk" --priority high
  lazymic tasks complete 42
  lazymic tasks edit --title "Buy oat milk" 42
  lazymic tasks delete 42`,
		Commands: []*cli.Command{
			cmd.listCmd(),
			cmd.addCmd(),
			cmd.completeCmd(),
			cmd.editCmd(),
			cmd.deleteCmd(),
		},
	})

	return app
}

func (cmd *TasksCmd) listCmd() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Aliases:   []string{"ls"},
		Usage:     "List tasks",
		UsageText: "lazymic tasks list",
		Action:    cmd.runList,
	}
}

func (cmd *TasksCmd) addCmd() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Create a task",
		UsageText: "lazymic tasks add --title <title> [--priority <priority>] [--due <time>]",
		Description: `Creates a task directly, without interpretation.

--due accepts RFC 3339 (2024-05-01T09:00:00Z) or a plain date (2024-05-01).

Examples:
  lazymic tasks add --title "Dentist" --category health --due 2024-05-01
  lazymic tasks add -t "Groceries" -p low --location "Corner shop" --duration 30`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "title",
				Aliases:     []string{"t"},
				Usage:       "task title",
				Required:    true,
				Destination: &cmd.addTitle,
			},
			&cli.StringFlag{
				Name:        "description",
				Aliases:     []string{"d"},
				Usage:       "optional description",
				Destination: &cmd.addDescription,
			},
			&cli.StringFlag{
				Name:        "priority",
				Aliases:     []string{"p"},
				Usage:       "low, medium, high or critical",
				Destination: &cmd.addPriority,
			},
			&cli.StringFlag{
				Name:        "category",
				Usage:       "category type (work, personal, health, ...)",
				Destination: &cmd.addCategory,
			},
			&cli.StringFlag{
				Name:        "location",
				Usage:       "where the task happens",
				Destination: &cmd.addLocation,
			},
			&cli.IntFlag{
				Name:        "duration",
				Usage:       "estimated duration in minutes",
				Destination: &cmd.addDuration,
			},
			&cli.StringFlag{
				Name:        "due",
				Usage:       "due date",
				Destination: &cmd.addDue,
			},
		},
		Action: cmd.runAdd,
	}
}

func (cmd *TasksCmd) completeCmd() *cli.Command {
	return &cli.Command{
		Name:      "complete",
		Aliases:   []string{"done"},
		Usage:     "Mark a task completed",
		UsageText: "lazymic tasks complete <id>",
		Action:    cmd.runComplete,
	}
}

func (cmd *TasksCmd) editCmd() *cli.Command {
	return &cli.Command{
		Name:      "edit",
		Usage:     "Change a task's title, description, priority or status",
		UsageText: "lazymic tasks edit [--title <title>] [--description <text>] [--priority <priority>] [--status open|completed] <id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "title",
				Aliases:     []string{"t"},
				Usage:       "new title",
				Destination: &cmd.editTitle,
			},
			&cli.StringFlag{
				Name:        "description",
				Aliases:     []string{"d"},
				Usage:       "new description",
				Destination: &cmd.editDescription,
			},
			&cli.StringFlag{
				Name:        "priority",
				Aliases:     []string{"p"},
				Usage:       "new priority",
				Destination: &cmd.editPriority,
			},
			&cli.StringFlag{
				Name:        "status",
				Aliases:     []string{"s"},
				Usage:       "open or completed",
				Destination: &cmd.editStatus,
			},
		},
		Action: cmd.runEdit,
	}
}

func (cmd *TasksCmd) deleteCmd() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Aliases:   []string{"rm"},
		Usage:     "Delete a task",
		UsageText: "lazymic tasks delete <id>",
		Action:    cmd.runDelete,
	}
}

func (cmd *TasksCmd) runList(ctx context.Context, c *cli.Command) error {
	tasks, err := cmd.app.Services.Assistant.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	for _, task := range tasks {
		if err := writeLine(c.Root().Writer, task); err != nil {
			return err
		}
	}
	return nil
}

func (cmd *TasksCmd) runAdd(ctx context.Context, c *cli.Command) error {
	draft := domain.TaskDraft{
		Title:                    cmd.addTitle,
		Description:              cmd.addDescription,
		CategoryType:             cmd.addCategory,
		Location:                 cmd.addLocation,
		EstimatedDurationMinutes: cmd.addDuration,
	}
	if cmd.addPriority != "" {
		priority, err := domain.ParsePriority(cmd.addPriority)
		if err != nil {
			return err
		}
		draft.Priority = priority
	}
	if cmd.addDue != "" {
		due, err := parseDue(cmd.addDue)
		if err != nil {
			return err
		}
		draft.DueDate = &due
	}

	task, err := cmd.app.Services.Assistant.Create(ctx, draft)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return writeLine(c.Root().Writer, task)
}

func (cmd *TasksCmd) runComplete(ctx context.Context, c *cli.Command) error {
	id, err := cmd.loadTarget(ctx, c, "complete")
	if err != nil {
		return err
	}
	task, err := cmd.app.Services.Assistant.Complete(ctx, id)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	return writeLine(c.Root().Writer, task)
}

func (cmd *TasksCmd) runEdit(ctx context.Context, c *cli.Command) error {
	var patch domain.TaskPatch
	if c.IsSet("title") {
		patch.Title = &cmd.editTitle
	}
	if c.IsSet("description") {
		patch.Description = &cmd.editDescription
	}
	if c.IsSet("priority") {
		priority, err := domain.ParsePriority(cmd.editPriority)
		if err != nil {
			return err
		}
		patch.Priority = &priority
	}
	if c.IsSet("status") {
		status, err := domain.ParseStatus(cmd.editStatus)
		if err != nil {
			return err
		}
		patch.Status = &status
	}
	if patch.IsEmpty() {
		return errors.New("nothing to change: pass --title, --description, --priority or --status")
	}

	id, err := cmd.loadTarget(ctx, c, "edit")
	if err != nil {
		return err
	}
	task, err := cmd.app.Services.Assistant.Update(ctx, id, patch)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return writeLine(c.Root().Writer, task)
}

func (cmd *TasksCmd) runDelete(ctx context.Context, c *cli.Command) error {
	id, err := cmd.loadTarget(ctx, c, "delete")
	if err != nil {
		return err
	}
	if err := cmd.app.Services.Assistant.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	_, _ = fmt.Fprintln(c.Root().Writer, "deleted")
	return nil
}

// loadTarget reads the id argument and fetches the list so the store holds
// the task before it is mutated optimistically.
func (cmd *TasksCmd) loadTarget(ctx context.Context, c *cli.Command, verb string) (string, error) {
	if c.NArg() < 1 {
		return "", fmt.Errorf("usage: lazymic tasks %s <id>", verb)
	}
	if _, err := cmd.app.Services.Assistant.Refresh(ctx); err != nil {
		return "", fmt.Errorf("load tasks: %w", err)
	}
	return c.Args().Get(0), nil
}

func parseDue(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, value, time.Local); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid due date %q: use RFC 3339 or YYYY-MM-DD", value)
}
