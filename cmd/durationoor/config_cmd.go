package main

import (
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long:  `Print the merged configuration (files, environment and defaults) as YAML with secrets redacted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := cfg.Render()
		if err != nil {
			return err
		}

		_, err = cmd.OutOrStdout().Write(out)

		return err
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
