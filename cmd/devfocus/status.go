package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/devfocus/devfocus/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show sync status",
	Long: `Show the sync engine's state: the namespace being synced, queue
depth, and whether the server is reachable.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, cleanup, err := openApp()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()

		deviceID, err := a.Provider.DeviceID(cmd.Context())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		taskCount, _ := a.Store.TaskCount(cmd.Context())
		projectCount, _ := a.Store.ProjectCount(cmd.Context())

		fmt.Printf("Sync:      %s\n", ui.SyncBadge(string(a.Engine.Status()), a.Engine.PendingCount()))
		if ns := a.Engine.Namespace(); ns != "" {
			fmt.Printf("Namespace: %s\n", ns)
		}
		fmt.Printf("Device:    %s\n", deviceID)
		fmt.Printf("Server:    %s\n", viper.GetString("server_url"))
		fmt.Printf("Store:     %s\n", a.Store.Path())
		if a.Engine.Degraded() {
			fmt.Printf("Storage:   %s\n", ui.RenderWarn("degraded (in-memory)"))
		}
		fmt.Printf("Tasks:     %d\n", taskCount)
		fmt.Printf("Projects:  %d\n", projectCount)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
