package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"taskroom/internal/app"
	"taskroom/internal/domain"
	"taskroom/internal/engine"
)

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskBoardCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskAssignCmd())
	task.AddCommand(taskStatusCmd())
	task.AddCommand(taskCloseCmd())
	task.AddCommand(taskRequestCloseCmd())
	task.AddCommand(taskRequestsCmd())
	task.AddCommand(taskAckCmd())
	task.AddCommand(taskLogCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var title, desc, priority, status, due string
	cmd := &cobra.Command{
		Use:   "create <project>",
		Short: "Create a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := engine.CreateTaskInput{
				ProjectID:   args[0],
				Title:       title,
				Description: desc,
				Priority:    domain.Priority(strings.ToUpper(priority)),
				Status:      domain.TaskStatus(strings.ToUpper(status)),
			}
			if due != "" {
				t, err := time.Parse(time.RFC3339, due)
				if err != nil {
					return fmt.Errorf("--due: %w", err)
				}
				in.DueAt = &t
			}
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor engine.Actor) error {
				cfg, err := rt.Engine.ProjectConfig(ctx, actor, in.ProjectID)
				if err != nil {
					return err
				}
				cfg.Tasks.Apply(&in.Status, &in.Priority)
				t, err := rt.Engine.CreateTask(ctx, actor, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&priority, "priority", "", "LOW, MEDIUM, HIGH or URGENT (project default when empty)")
	cmd.Flags().StringVar(&status, "status", "", "initial status (project default when empty)")
	cmd.Flags().StringVar(&due, "due", "", "due date, RFC 3339")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskBoardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "board <project>",
		Short: "List visible tasks grouped by status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor engine.Actor) error {
				board, err := rt.Engine.TasksByStatus(ctx, actor, args[0])
				if err != nil {
					return err
				}
				var rows []table.Row
				for _, s := range domain.TaskStatuses {
					for _, t := range board.Tasks(s) {
						rows = append(rows, table.Row{s, t.ID, t.Title, t.Priority, deref(t.DueAt)})
					}
				}
				return printTable(board, table.Row{"Status", "ID", "Title", "Priority", "Due"}, rows)
			})
		},
	}
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task>",
		Short: "Show a task and its assignees",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor engine.Actor) error {
				t, err := rt.Engine.GetTask(ctx, actor, args[0])
				if err != nil {
					return err
				}
				assignees, err := rt.Engine.Assignees(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(struct {
					domain.Task
					Assignees []string `json:"assignees"`
				}{t, assignees})
			})
		},
	}
}

func taskAssignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assign <task> <user>...",
		Short: "Assign users to a task",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor engine.Actor) error {
				ids, err := resolveUserIDs(ctx, rt, args[1:])
				if err != nil {
					return err
				}
				assignees, err := rt.Engine.AssignUsers(ctx, actor, args[0], ids)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"task_id": args[0], "assignees": assignees})
			})
		},
	}
}

func taskStatusCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "status <task> <status>",
		Short: "Move a task to another status",
		Long:  "Moves the task through the project's transition rules. --force skips the reopen rule.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := domain.TaskStatus(strings.ToUpper(args[1]))
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor engine.Actor) error {
				var (
					t   domain.Task
					err error
				)
				if force {
					t, err = rt.Engine.UpdateTaskStatus(ctx, actor, args[0], status)
				} else {
					t, err = rt.Engine.TransitionTask(ctx, actor, args[0], status)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "ignore the project's allow_reopen setting")
	return cmd
}

func taskCloseCmd() *cobra.Command {
	var canceled bool
	cmd := &cobra.Command{
		Use:   "close <task>",
		Short: "Close a task you created",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := domain.StatusDone
			if canceled {
				target = domain.StatusCanceled
			}
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor engine.Actor) error {
				t, err := rt.Engine.CloseTask(ctx, actor, args[0], target)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().BoolVar(&canceled, "canceled", false, "close as CANCELED instead of DONE")
	return cmd
}

func taskRequestCloseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "request-close <task>",
		Short: "Ask the task creator to close it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor engine.Actor) error {
				req, err := rt.Engine.RequestClosure(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(req)
			})
		},
	}
}

func taskRequestsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requests <task>",
		Short: "List closure requests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor engine.Actor) error {
				reqs, err := rt.Engine.ClosureRequests(ctx, actor, args[0])
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(reqs))
				for _, r := range reqs {
					rows = append(rows, table.Row{r.ID, r.RequestedBy, r.RequestedAt, r.Status, deref(r.AcknowledgedBy)})
				}
				return printTable(reqs, table.Row{"ID", "Requested by", "At", "Status", "Acknowledged by"}, rows)
			})
		},
	}
}

func taskAckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ack <task> <request>",
		Short: "Acknowledge a closure request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor engine.Actor) error {
				req, err := rt.Engine.AcknowledgeClosureRequest(ctx, actor, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(req)
			})
		},
	}
}

func taskLogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "log <task>",
		Short: "Show the status history of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor engine.Actor) error {
				entries, err := rt.Engine.StatusLog(ctx, actor, args[0])
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(entries))
				for _, e := range entries {
					rows = append(rows, table.Row{e.ChangedAt, e.FromStatus, e.ToStatus, e.ChangedBy})
				}
				return printTable(entries, table.Row{"At", "From", "To", "By"}, rows)
			})
		},
	}
}
