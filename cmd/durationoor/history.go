package main

import (
	"fmt"
	"io"
	"time"

	"github.com/ethpandaops/durationoor/pkg/history"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var (
	historyTest         string
	historyCompilations bool
	historyLimit        int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show compilation history",
	Long:  `Show how a test's compiled duration changed over time, or list recent compilations.`,
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVar(&historyTest, "test", "", "test id to show the history of")
	historyCmd.Flags().BoolVar(&historyCompilations, "compilations", false,
		"list recent compilations")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of rows")

	historyCmd.MarkFlagsMutuallyExclusive("test", "compilations")
	historyCmd.MarkFlagsOneRequired("test", "compilations")
}

func runHistory(cmd *cobra.Command, args []string) error {
	if !cfg.History.Enabled {
		return fmt.Errorf("history is not enabled in config")
	}

	ctx := cmd.Context()

	c, err := setup(ctx, log, cfg, true)
	if err != nil {
		return err
	}
	defer c.Close()

	if historyCompilations {
		comps, err := c.history.ListCompilations(ctx, historyLimit)
		if err != nil {
			return err
		}

		renderCompilations(cmd.OutOrStdout(), comps)

		return nil
	}

	entries, err := c.history.ListTestHistory(ctx, historyTest, historyLimit)
	if err != nil {
		return err
	}

	renderTestHistory(cmd.OutOrStdout(), historyTest, entries)

	return nil
}

func formatUnix(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}

func renderCompilations(w io.Writer, comps []history.Compilation) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Compilations")
	t.AppendHeader(table.Row{"Compiled At", "ID", "Node", "Node Files", "Skipped", "Tests"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Node Files", Align: text.AlignRight},
		{Name: "Skipped", Align: text.AlignRight},
		{Name: "Tests", Align: text.AlignRight},
	})

	for _, c := range comps {
		t.AppendRow(table.Row{
			formatUnix(c.CompiledAt), c.CompileID, c.NodeID, c.NodeFiles, c.SkippedFiles, c.Tests,
		})
	}

	t.SetStyle(table.StyleLight)
	t.Render()
}

func renderTestHistory(w io.Writer, name string, entries []history.TestDuration) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(name)
	t.AppendHeader(table.Row{"Compiled At", "Seconds", "Duration", "Nodes"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Seconds", Align: text.AlignRight},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Nodes", Align: text.AlignRight},
	})

	for _, e := range entries {
		t.AppendRow(table.Row{
			formatUnix(e.CompiledAt), fmt.Sprintf("%.3f", e.Seconds), humanSeconds(e.Seconds), e.Nodes,
		})
	}

	t.SetStyle(table.StyleLight)
	t.Render()
}
