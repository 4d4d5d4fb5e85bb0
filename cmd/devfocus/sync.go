package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/devfocus/devfocus/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Drain the mutation queue now",
	Long: `Force an immediate drain of the pending mutation queue.

Normally the queue drains automatically in the background. This runs
one drain pass and reports the result, which is useful after coming
back online.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, cleanup, err := openApp()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()

		before := a.Engine.PendingCount()
		if before == 0 {
			fmt.Printf("%s Nothing to sync\n", ui.RenderPass("✓"))
			fmt.Printf("%s\n", ui.SyncBadge(string(a.Engine.Status()), 0))
			return
		}

		fmt.Printf("Draining %d pending mutations...\n", before)
		start := time.Now()

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		a.Engine.Drain(ctx)

		after := a.Engine.PendingCount()
		fmt.Printf("%s Synced %d of %d in %v\n", ui.RenderPass("✓"),
			before-after, before, time.Since(start).Round(time.Millisecond))
		fmt.Printf("%s\n", ui.SyncBadge(string(a.Engine.Status()), after))
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
