package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oakmund/convoy/internal/config"
)

var rootCmd = &cobra.Command{
	Use:           "convoy",
	Short:         "Convoy runs agent fleets and dependency-graph workflows",
	Long:          `Convoy is a control plane for long-lived agent processes: a reconciler keeps agents converged to their declared configuration, and a workflow engine executes multi-step plans over them with retries and partial-failure tolerance.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("dir", ".", "Directory containing the Convoy project")
}

// projectConfig resolves the --dir flag into a loaded project config.
func projectConfig(cmd *cobra.Command) (*config.Config, error) {
	dir, err := cmd.Flags().GetString("dir")
	if err != nil {
		return nil, err
	}
	return config.NewConfig(dir)
}
