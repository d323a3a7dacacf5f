package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oakmund/convoy/internal/config"
	"github.com/oakmund/convoy/internal/logging"
	"github.com/oakmund/convoy/internal/snapshot"
	"github.com/oakmund/convoy/internal/workflow"
	"github.com/oakmund/convoy/internal/workflow/engine"
)

var runCmd = &cobra.Command{
	Use:   "run <workflow>",
	Short: "Execute a workflow definition",
	Long:  `Loads a workflow YAML file, executes it with the built-in actions, and prints the projected outputs. Bare names are resolved against the project's workflows directory.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := projectConfig(cmd)
		if err != nil {
			return err
		}
		requestID, err := cmd.Flags().GetString("request-id")
		if err != nil {
			return err
		}
		return runWorkflow(cmd, cfg, args[0], requestID)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("request-id", "", "Request id for the execution (random when empty)")
}

func runWorkflow(cmd *cobra.Command, cfg *config.Config, name, requestID string) error {
	spec, err := workflow.LoadSpecFile(resolveWorkflowPath(cfg, name), builtinActions())
	if err != nil {
		return err
	}

	store, closeStore, err := openSnapshotStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	opts := []engine.Option{engine.WithSnapshotStore(store)}
	if logger, logErr := logging.New(cfg.LogsDir()); logErr == nil {
		defer logger.Close()
		opts = append(opts, engine.WithLogger(logger))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, execErr := engine.New(opts...).Execute(ctx, spec, nil, workflow.RunContext{RequestID: requestID})
	if result != nil {
		printResult(cmd, result)
	}
	return execErr
}

func printResult(cmd *cobra.Command, result *engine.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "request: %s\nstatus:  %s\n", result.RequestID, result.Status)
	if len(result.Outputs) > 0 {
		encoded, err := json.MarshalIndent(result.Outputs, "", "  ")
		if err == nil {
			fmt.Fprintf(out, "outputs:\n%s\n", encoded)
		}
	}
	for key, err := range result.OutputErrors {
		fmt.Fprintf(out, "output %s: %v\n", key, err)
	}
	if result.PersistErr != nil {
		fmt.Fprintf(out, "snapshot: %v\n", result.PersistErr)
	}
}

// resolveWorkflowPath treats bare names as files under the project's
// workflows directory; anything with a path separator or extension-bearing
// existing path is used as-is.
func resolveWorkflowPath(cfg *config.Config, name string) string {
	if strings.ContainsRune(name, os.PathSeparator) {
		return name
	}
	if _, err := os.Stat(name); err == nil {
		return name
	}
	candidate := name
	if filepath.Ext(candidate) == "" {
		candidate += ".yaml"
	}
	return filepath.Join(cfg.WorkflowsDir(), candidate)
}

// openSnapshotStore builds the store selected in config.yaml. The returned
// closer is always safe to call.
func openSnapshotStore(cfg *config.Config) (snapshot.Store, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Project.Snapshots.Store {
	case "", "memory":
		return snapshot.NewMemoryStore(), noop, nil
	case "sqlite":
		path := cfg.Project.Snapshots.DSN
		if path == "" {
			path = filepath.Join(cfg.StateDir(), "snapshots.db")
		}
		store, err := snapshot.NewSQLiteStore(path)
		if err != nil {
			return nil, noop, err
		}
		return store, store.Close, nil
	case "redis":
		address := cfg.Project.Snapshots.DSN
		if address == "" {
			address = "localhost:6379"
		}
		return snapshot.NewRedisStore(address, "", 0), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown snapshot store %q", cfg.Project.Snapshots.Store)
	}
}
