package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/devfocus/devfocus/internal/model"
	"github.com/devfocus/devfocus/internal/ui"
)

var projectCmd = &cobra.Command{
	Use:     "project",
	GroupID: "tasks",
	Short:   "Manage projects",
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	Run: func(cmd *cobra.Command, args []string) {
		a, cleanup, err := openApp()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()

		projects := a.Engine.Projects(cmd.Context())
		counts := make(map[string]int)
		for _, t := range a.Engine.Tasks(cmd.Context()) {
			counts[t.ProjectID]++
		}

		fmt.Println(ui.Title("Projects"))
		fmt.Print(ui.RenderProjects(projects, counts))
	},
}

var projectAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a project",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, cleanup, err := openApp()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()

		color, _ := cmd.Flags().GetString("color")
		project, err := a.Engine.AddProject(cmd.Context(), &model.Project{Name: args[0], Color: color})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Added project %s %s\n", ui.RenderPass("✓"), ui.Dim(project.ID), project.Name)
		syncAndReport(a)
	},
}

var projectRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a project",
	Long: `Delete a project.

Tasks assigned to the project are kept; they simply show no project
afterward.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, cleanup, err := openApp()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()

		if err := a.Engine.DeleteProject(cmd.Context(), args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Deleted project %s\n", ui.RenderPass("✓"), args[0])
		syncAndReport(a)
	},
}

func init() {
	projectAddCmd.Flags().String("color", "", "Project color token")

	projectCmd.AddCommand(projectListCmd, projectAddCmd, projectRmCmd)
	rootCmd.AddCommand(projectCmd)
}
