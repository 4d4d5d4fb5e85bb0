package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/devfocus/devfocus/internal/ui"
)

var loginCmd = &cobra.Command{
	Use:     "login [account-id]",
	GroupID: "sync",
	Short:   "Sign in and start syncing",
	Long: `Sign in so local changes sync to the server.

With an account id, all devices signed in to that account share one
board. With --device, a stable per-device id becomes the account, so
this device syncs its own private board:

  devfocus login alice
  devfocus login --device`,
	Run: func(cmd *cobra.Command, args []string) {
		a, cleanup, err := openApp()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()

		useDevice, _ := cmd.Flags().GetBool("device")

		var accountID string
		switch {
		case useDevice:
			accountID, err = a.Provider.DeviceID(cmd.Context())
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		case len(args) == 1:
			accountID = args[0]
		default:
			fmt.Fprintf(os.Stderr, "Error: account id or --device required\n")
			os.Exit(1)
		}

		token, _ := cmd.Flags().GetString("token")
		if err := a.Provider.SignIn(accountID, token); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Signed in as %s\n", ui.RenderPass("✓"), ui.RenderAccent(accountID))
		syncAndReport(a)
	},
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	GroupID: "sync",
	Short:   "Sign out",
	Long: `Sign out of the sync server.

Local data is kept and the board keeps working offline; changes made
while signed out queue up and sync after the next login. With --purge
the pending queue is dropped, so nothing made under this session syncs
later.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, cleanup, err := openApp()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()

		if purge, _ := cmd.Flags().GetBool("purge"); purge {
			if err := a.Store.ClearQueue(cmd.Context()); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}

		if err := a.Provider.SignOut(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Signed out\n", ui.RenderPass("✓"))
	},
}

func init() {
	loginCmd.Flags().Bool("device", false, "Use this device's stable id as the account")
	loginCmd.Flags().String("token", "", "Auth token to store with the session")
	logoutCmd.Flags().Bool("purge", false, "Drop queued, unsynced changes")

	rootCmd.AddCommand(loginCmd, logoutCmd)
}
