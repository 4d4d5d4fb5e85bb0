package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/devfocus/devfocus/internal/model"
	"github.com/devfocus/devfocus/internal/ui"
)

var taskCmd = &cobra.Command{
	Use:     "task",
	GroupID: "tasks",
	Short:   "Manage tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add [title]",
	Short: "Add a task",
	Long: `Add a task to the board.

With no arguments an interactive form opens. The due date accepts
natural language:

  devfocus task add "Fix login redirect" --due "next friday" --priority HIGH`,
	Run: func(cmd *cobra.Command, args []string) {
		a, cleanup, err := openApp()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()

		task := &model.Task{Title: strings.Join(args, " ")}
		task.Description, _ = cmd.Flags().GetString("description")
		projectID, _ := cmd.Flags().GetString("project")
		priority, _ := cmd.Flags().GetString("priority")
		dueText, _ := cmd.Flags().GetString("due")
		tags, _ := cmd.Flags().GetStringSlice("tag")

		if task.Title == "" {
			if err := runTaskForm(cmd.Context(), a, task, &projectID, &priority, &dueText); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}

		task.ProjectID = projectID
		task.Priority = model.Priority(strings.ToUpper(priority))
		for _, name := range tags {
			task.Tags = append(task.Tags, model.Tag{ID: model.NewID(), Name: name})
		}
		if dueText != "" {
			due, err := parseDue(dueText)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			task.DueDate = &due
		}

		created, err := a.Engine.AddTask(cmd.Context(), task)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Added %s %s\n", ui.RenderPass("✓"), ui.Dim(created.ID), created.Title)
		syncAndReport(a)
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Run: func(cmd *cobra.Command, args []string) {
		a, cleanup, err := openApp()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()

		tasks := a.Engine.Tasks(cmd.Context())
		projects := a.Engine.Projects(cmd.Context())

		if status, _ := cmd.Flags().GetString("status"); status != "" {
			s := model.Status(strings.ToUpper(status))
			if !s.Valid() {
				fmt.Fprintf(os.Stderr, "Error: invalid status %q\n", status)
				os.Exit(1)
			}
			tasks = model.TasksInStatus(tasks, s)
		}
		if projectID, _ := cmd.Flags().GetString("project"); projectID != "" {
			filtered := make([]*model.Task, 0, len(tasks))
			for _, t := range tasks {
				if t.ProjectID == projectID {
					filtered = append(filtered, t)
				}
			}
			tasks = filtered
		}

		fmt.Print(ui.RenderTaskList(tasks, projects))
	},
}

var taskBoardCmd = &cobra.Command{
	Use:   "board",
	Short: "Show the kanban board",
	Run: func(cmd *cobra.Command, args []string) {
		a, cleanup, err := openApp()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()

		fmt.Print(ui.RenderBoard(a.Engine.Tasks(cmd.Context()), a.Engine.Projects(cmd.Context())))
		fmt.Printf("%s\n", ui.SyncBadge(string(a.Engine.Status()), a.Engine.PendingCount()))
	},
}

var taskMoveCmd = &cobra.Command{
	Use:   "move <id> <status>",
	Short: "Move a task to another column",
	Long: `Move a task to another board column.

Valid columns: backlog, in_progress, review, done.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		a, cleanup, err := openApp()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()

		status := model.Status(strings.ToUpper(args[1]))
		task, err := a.Engine.MoveTask(cmd.Context(), args[0], status)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Moved %s to %s\n", ui.RenderPass("✓"), task.Title, ui.StatusBadge(task.Status))
		syncAndReport(a)
	},
}

var taskDoneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Mark a task done",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, cleanup, err := openApp()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()

		task, err := a.Engine.MoveTask(cmd.Context(), args[0], model.StatusDone)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Done: %s\n", ui.RenderPass("✓"), task.Title)
		syncAndReport(a)
	},
}

var taskRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, cleanup, err := openApp()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()

		if err := a.Engine.DeleteTask(cmd.Context(), args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Deleted %s\n", ui.RenderPass("✓"), args[0])
		syncAndReport(a)
	},
}

var taskReorderCmd = &cobra.Command{
	Use:   "reorder <id> <position>",
	Short: "Reorder a task within its column",
	Long: `Move a task to a new position within its current column.

Position is zero-based. The task keeps its column; only its manual
order changes.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		a, cleanup, err := openApp()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()

		var position int
		if _, err := fmt.Sscanf(args[1], "%d", &position); err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid position %q\n", args[1])
			os.Exit(1)
		}

		task, err := a.Engine.ReorderTask(cmd.Context(), args[0], position)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Reordered %s in %s\n", ui.RenderPass("✓"), task.Title, ui.StatusBadge(task.Status))
		syncAndReport(a)
	},
}

var taskEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Edit a task's fields",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, cleanup, err := openApp()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()

		var patch model.TaskPatch
		if cmd.Flags().Changed("title") {
			title, _ := cmd.Flags().GetString("title")
			patch.Title = &title
		}
		if cmd.Flags().Changed("description") {
			description, _ := cmd.Flags().GetString("description")
			patch.Description = &description
		}
		if cmd.Flags().Changed("project") {
			projectID, _ := cmd.Flags().GetString("project")
			patch.ProjectID = &projectID
		}
		if cmd.Flags().Changed("priority") {
			priority, _ := cmd.Flags().GetString("priority")
			p := model.Priority(strings.ToUpper(priority))
			patch.Priority = &p
		}
		if cmd.Flags().Changed("due") {
			dueText, _ := cmd.Flags().GetString("due")
			if dueText == "" || dueText == "none" {
				patch.ClearDueDate = true
			} else {
				due, err := parseDue(dueText)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					os.Exit(1)
				}
				patch.DueDate = &due
			}
		}

		task, err := a.Engine.UpdateTask(cmd.Context(), args[0], patch)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Updated %s\n", ui.RenderPass("✓"), task.Title)
		syncAndReport(a)
	},
}

// runTaskForm collects task fields interactively.
func runTaskForm(ctx context.Context, a *app, task *model.Task, projectID, priority, dueText *string) error {
	projects := a.Engine.Projects(ctx)
	projectOptions := []huh.Option[string]{huh.NewOption("(none)", "")}
	for _, p := range projects {
		projectOptions = append(projectOptions, huh.NewOption(p.Name, p.ID))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Title").
				Value(&task.Title).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("title is required")
					}
					return nil
				}),
			huh.NewText().
				Title("Description").
				Value(&task.Description),
			huh.NewSelect[string]().
				Title("Project").
				Options(projectOptions...).
				Value(projectID),
			huh.NewSelect[string]().
				Title("Priority").
				Options(
					huh.NewOption("None", ""),
					huh.NewOption("High", "HIGH"),
					huh.NewOption("Medium", "MEDIUM"),
					huh.NewOption("Low", "LOW"),
				).
				Value(priority),
			huh.NewInput().
				Title("Due (optional, e.g. \"next friday\")").
				Value(dueText),
		),
	)
	return form.Run()
}

// parseDue turns natural-language text into a unix-millisecond due
// date.
func parseDue(text string) (int64, error) {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	result, err := w.Parse(text, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to parse due date %q: %w", text, err)
	}
	if result == nil {
		return 0, fmt.Errorf("could not understand due date %q", text)
	}
	return result.Time.UnixMilli(), nil
}

func init() {
	taskAddCmd.Flags().StringP("description", "d", "", "Task description (markdown)")
	taskAddCmd.Flags().StringP("project", "p", "", "Project id")
	taskAddCmd.Flags().String("priority", "", "Priority: HIGH, MEDIUM, or LOW")
	taskAddCmd.Flags().String("due", "", "Due date (natural language)")
	taskAddCmd.Flags().StringSliceP("tag", "t", nil, "Tag (repeatable)")

	taskListCmd.Flags().StringP("status", "s", "", "Filter by column")
	taskListCmd.Flags().StringP("project", "p", "", "Filter by project id")

	taskEditCmd.Flags().String("title", "", "New title")
	taskEditCmd.Flags().StringP("description", "d", "", "New description")
	taskEditCmd.Flags().StringP("project", "p", "", "New project id")
	taskEditCmd.Flags().String("priority", "", "New priority (HIGH, MEDIUM, LOW, or empty to clear)")
	taskEditCmd.Flags().String("due", "", "New due date, or \"none\" to clear")

	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskBoardCmd, taskMoveCmd,
		taskDoneCmd, taskRmCmd, taskReorderCmd, taskEditCmd)
	rootCmd.AddCommand(taskCmd)
}
