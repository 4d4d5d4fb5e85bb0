package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/devfocus/devfocus/internal/engine"
	"github.com/devfocus/devfocus/internal/identity"
	"github.com/devfocus/devfocus/internal/model"
	"github.com/devfocus/devfocus/internal/remote"
	"github.com/devfocus/devfocus/internal/store"
	"github.com/devfocus/devfocus/internal/ui"
)

var rootCmd = &cobra.Command{
	Use:   "devfocus",
	Short: "Offline-first kanban task manager",
	Long: `devfocus is a personal kanban task manager that works offline first.

Every change lands in a local SQLite database immediately and is queued
for the sync server. When the server is reachable the queue drains in
the background; when it is not, work continues locally and syncs later.

Tasks live on a four-column board (Backlog, In Progress, Review, Done)
and can carry tags, priorities, due dates, subtasks, and a project.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (default: ~/.devfocus)")
	rootCmd.PersistentFlags().String("server", "", "Sync server URL (default: http://localhost:8600)")
	rootCmd.PersistentFlags().Bool("no-color", false, "Disable colored output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "tasks", Title: "Task Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
	)
}

// initConfig wires viper: config file, environment, then flags.
func initConfig(cmd *cobra.Command) error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(defaultDataDir())
	viper.SetEnvPrefix("DEVFOCUS")
	viper.AutomaticEnv()

	viper.SetDefault("data_dir", defaultDataDir())
	viper.SetDefault("server_url", "http://localhost:8600")
	viper.SetDefault("log_file", "")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	if f := cmd.Flags().Lookup("data-dir"); f != nil && f.Changed {
		viper.Set("data_dir", f.Value.String())
	}
	if f := cmd.Flags().Lookup("server"); f != nil && f.Changed {
		viper.Set("server_url", f.Value.String())
	}
	if noColor, _ := cmd.Flags().GetBool("no-color"); noColor || os.Getenv("NO_COLOR") != "" {
		ui.Plain()
	}

	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".devfocus"
	}
	return filepath.Join(home, ".devfocus")
}

// app bundles the wired components behind every command.
type app struct {
	Store    *store.Store
	Provider *identity.Provider
	Engine   *engine.Engine
	Logger   *log.Logger
}

// openApp wires the store, identity provider, gateway client, and sync
// engine from the active configuration. The caller must call close.
func openApp() (*app, func(), error) {
	dataDir := viper.GetString("data_dir")

	logger := newLogger(dataDir)

	st, err := store.Open(filepath.Join(dataDir, "devfocus.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}

	provider, err := identity.New(identity.Config{
		Dir:    dataDir,
		Store:  st,
		Logger: logger,
	})
	if err != nil {
		_ = st.Close()
		return nil, nil, fmt.Errorf("failed to create identity provider: %w", err)
	}

	client, err := remote.NewClient(remote.ClientConfig{
		BaseURL: viper.GetString("server_url"),
		Logger:  logger,
	})
	if err != nil {
		_ = provider.Close()
		_ = st.Close()
		return nil, nil, fmt.Errorf("failed to create sync client: %w", err)
	}

	seed, err := model.LoadProjectSeed(filepath.Join(dataDir, "projects.yaml"))
	if err != nil {
		_ = provider.Close()
		_ = st.Close()
		return nil, nil, err
	}

	eng, err := engine.New(st, client, provider, &engine.Config{Logger: logger, SeedProjects: seed})
	if err != nil {
		_ = provider.Close()
		_ = st.Close()
		return nil, nil, fmt.Errorf("failed to create sync engine: %w", err)
	}

	if err := eng.Start(); err != nil {
		_ = provider.Close()
		_ = st.Close()
		return nil, nil, fmt.Errorf("failed to start sync engine: %w", err)
	}

	// Quick reachability probe so the first drain doesn't have to
	// discover an unreachable server the slow way.
	probeCtx, cancelProbe := context.WithTimeout(context.Background(), 2*time.Second)
	if err := client.Health(probeCtx); err != nil {
		eng.SetOnline(false)
	}
	cancelProbe()

	a := &app{Store: st, Provider: provider, Engine: eng, Logger: logger}
	cleanup := func() {
		a.Engine.Stop()
		_ = a.Provider.Close()
		_ = a.Store.Close()
	}
	return a, cleanup, nil
}

// newLogger routes internal logs to the rotating log file when one is
// configured, keeping command output clean.
func newLogger(dataDir string) *log.Logger {
	logFile := viper.GetString("log_file")
	if logFile == "" {
		logFile = filepath.Join(dataDir, "devfocus.log")
	}
	var out io.Writer = &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}
	if os.Getenv("DEVFOCUS_DEBUG") != "" {
		out = io.MultiWriter(out, os.Stderr)
	}
	return log.New(out, "[devfocus] ", log.LstdFlags)
}

// syncAndReport drains the queue once and prints the resulting sync
// state. Used by mutating commands so a reachable server is caught up
// before the process exits.
func syncAndReport(a *app) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.Engine.Drain(ctx)
	fmt.Printf("%s\n", ui.SyncBadge(string(a.Engine.Status()), a.Engine.PendingCount()))
}
