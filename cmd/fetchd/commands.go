package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/fetchd"
	"github.com/loykin/fetchd/internal/config"
	"github.com/loykin/fetchd/internal/state"
	"github.com/loykin/fetchd/pkg/client"
)

var version = "dev"

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
}

// StatusFlags holds flags for the status command.
type StatusFlags struct {
	APIUrl     string
	APITimeout time.Duration
	History    int
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}

	root := &cobra.Command{
		Use:   "fetchd",
		Short: "Media-fetching host daemon with a self-supervising restart policy",
		Long: `Fetchd hosts the media-fetching service and supervises its own process:
it intercepts critical failures and memory pressure, enforces a daily
restart limit with a cooldown window, and exits with code 0 so the hosting
process manager can relaunch it.

Examples:
  fetchd serve --config=config.toml
  fetchd status --config=config.toml
  fetchd status --api-url=http://127.0.0.1:8080/api`,
	}
	root.PersistentFlags().StringVar(&globalFlags.ConfigPath, "config", "", "path to TOML config file (optional)")

	root.AddCommand(
		createServeCommand(globalFlags),
		createStatusCommand(globalFlags),
		createVersionCommand(),
	)
	return root
}

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the daemon",
		Long: `Run the fetchd daemon in the foreground until a termination signal or a
supervisor-initiated exit. Exit code 0 means the process manager should
relaunch; exit code 1 means automatic recovery is exhausted.

Examples:
  fetchd serve --config=config.toml
  fetchd serve config.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := globalFlags.ConfigPath
			if len(args) > 0 {
				configPath = args[0]
			}
			return runServe(configPath)
		},
	}
}

func runServe(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if _, err := cfg.Log.Setup(); err != nil {
		return err
	}
	d, err := fetchd.New(cfg)
	if err != nil {
		return err
	}
	return d.Run(context.Background())
}

func createStatusCommand(globalFlags *GlobalFlags) *cobra.Command {
	flags := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show supervisor status",
		Long: `Show the supervisor's restart bookkeeping. With --api-url the running
daemon is queried; otherwise the persisted state and pid files are read.

Examples:
  fetchd status --config=config.toml
  fetchd status --api-url=http://127.0.0.1:8080/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.APIUrl != "" {
				return statusFromAPI(flags)
			}
			return statusFromFiles(globalFlags.ConfigPath)
		},
	}
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "", "running daemon URL (e.g. http://host:8080/api)")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	cmd.Flags().IntVar(&flags.History, "history", 0, "also print the last N supervisor decisions")
	return cmd
}

func statusFromAPI(flags *StatusFlags) error {
	c := client.New(flags.APIUrl, flags.APITimeout)
	ctx, cancel := context.WithTimeout(context.Background(), flags.APITimeout)
	defer cancel()

	st, err := c.Status(ctx)
	if err != nil {
		return err
	}
	printJSON(st)

	if flags.History > 0 {
		events, err := c.History(ctx, flags.History)
		if err != nil {
			return err
		}
		printJSON(events)
	}
	return nil
}

func statusFromFiles(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	store := state.New(cfg.Supervisor.StateFile, cfg.Supervisor.PIDFile)
	st, ok := store.Load()
	if !ok {
		fmt.Println("no persisted supervisor state")
		return nil
	}
	printJSON(st)
	if pid, err := state.ReadPIDFile(cfg.Supervisor.PIDFile); err == nil {
		fmt.Printf("pid file: %d\n", pid)
	}
	return nil
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("fetchd", version)
		},
	}
}

func loadConfig(path string) (*config.FileConfig, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("%+v\n", v)
		return
	}
	fmt.Println(string(b))
}
