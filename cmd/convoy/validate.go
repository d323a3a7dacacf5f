package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oakmund/convoy/internal/workflow"
)

var validateCmd = &cobra.Command{
	Use:   "validate <workflow>",
	Short: "Check a workflow definition for consistency",
	Long:  `Parses a workflow YAML file, verifies its dependency graph (unknown steps, duplicate ids, cycles), and prints the execution layers.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := projectConfig(cmd)
		if err != nil {
			return err
		}
		spec, err := workflow.LoadSpecFile(resolveWorkflowPath(cfg, args[0]), builtinActions())
		if err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
		layers, err := spec.Layers()
		if err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s is valid (%d steps, %d layers)\n", spec.Name(), len(spec.Steps()), len(layers))
		for idx, layer := range layers {
			fmt.Fprintf(out, "  layer %d: %s\n", idx, strings.Join(layer, ", "))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
