package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Compile all node durations into the shared record",
	RunE:  runCompile,
}

func init() {
	rootCmd.AddCommand(compileCmd)
}

func runCompile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	c, err := setup(ctx, log, cfg, true)
	if err != nil {
		return err
	}
	defer c.Close()

	compiled, err := c.tracker.Compile(ctx)
	if err != nil {
		return fmt.Errorf("compiling durations: %w", err)
	}

	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Compiled %d tests from %d node files into %s\n",
		len(compiled.Durations), len(compiled.NodeFiles),
		c.tracker.Store().CompiledFilePath())

	for _, s := range compiled.Skipped {
		fmt.Fprintf(out, "  skipped %s: %s\n", filepath.Base(s.Path), s.Err)
	}

	return nil
}
