package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oakmund/convoy/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the .convoy project directory",
	Long:  `Creates .convoy/ with its logs, state, and workflows subdirectories and writes a default config.yaml unless one already exists.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := cmd.Flags().GetString("dir")
		if err != nil {
			return err
		}
		if err := config.InitConvoyDir(dir); err != nil {
			return fmt.Errorf("init project: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Initialized Convoy project in %s/%s\n", dir, config.ConvoyDir)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
