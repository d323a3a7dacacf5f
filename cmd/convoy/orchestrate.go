package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oakmund/convoy/internal/agent"
	"github.com/oakmund/convoy/internal/logging"
	"github.com/oakmund/convoy/internal/orchestrator"
	sigbus "github.com/oakmund/convoy/internal/signal"
	"github.com/oakmund/convoy/internal/telemetry"
)

var orchestrateCmd = &cobra.Command{
	Use:   "orchestrate",
	Short: "Run the agent reconciler until interrupted",
	Long:  `Reads the declarative agent list, spawns the configured agent processes, and keeps them converged to the desired state: crashed agents are restarted, removed ones are stopped. Runs until SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := projectConfig(cmd)
		if err != nil {
			return err
		}

		logger, err := logging.New(cfg.LogsDir())
		if err != nil {
			return fmt.Errorf("open log: %w", err)
		}
		defer logger.Close()

		router := sigbus.NewRouter(sigbus.NewTopicRegistry(), sigbus.RouterWithLogger(logger))
		source := agent.NewFileSource(cfg.AgentsFilePath())

		orch, err := orchestrator.New(source,
			orchestrator.WithRouter(router),
			orchestrator.WithLogger(logger),
			orchestrator.WithMetrics(telemetry.New()),
			orchestrator.WithReconcileInterval(cfg.Project.Orchestrator.ReconcileInterval),
			orchestrator.WithTypeFilter(cfg.Project.Orchestrator.AgentTypes...),
		)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Fprintf(cmd.OutOrStdout(), "orchestrating agents from %s (ctrl-c to stop)\n", cfg.AgentsFilePath())
		if err := orch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(orchestrateCmd)
}
