package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/devfocus/devfocus/internal/remote"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "sync",
	Short:   "Run a self-hosted sync server",
	Long: `Run the document store that devfocus clients sync against.

The server keeps per-namespace task and project collections and pushes
live snapshots to connected clients over WebSocket:

  devfocus serve                 # Listen on default port 8600
  devfocus serve --port 9000     # Custom port

Clients point at it with --server or the DEVFOCUS_SERVER_URL
environment variable.`,
	Run: func(cmd *cobra.Command, args []string) {
		port, _ := cmd.Flags().GetInt("port")

		server := remote.NewServer(&remote.ServerConfig{
			Port:   port,
			Logger: log.New(os.Stderr, "[serve] ", log.LstdFlags),
		})

		if err := server.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to start server: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Sync server listening on http://localhost:%d\n", port)
		fmt.Printf("Health check: http://localhost:%d/health\n", port)
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		<-ctx.Done()

		fmt.Println("\nShutting down sync server...")
		if err := server.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8600, "Port to listen on")

	rootCmd.AddCommand(serveCmd)
}
