package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/docker/go-units"
	"github.com/ethpandaops/durationoor/pkg/durations"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var (
	showJSON  bool
	showLimit int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the compiled test durations",
	RunE:  runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().BoolVar(&showJSON, "json", false, "print the raw JSON record")
	showCmd.Flags().IntVar(&showLimit, "limit", 0,
		"only show the N slowest tests (0 shows all)")
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	c, err := setup(ctx, log, cfg, false)
	if err != nil {
		return err
	}
	defer c.Close()

	rec := c.tracker.Compiled(ctx)

	if showJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")

		return enc.Encode(rec)
	}

	renderDurations(cmd.OutOrStdout(), rec, showLimit)

	return nil
}

type testDuration struct {
	name    string
	seconds float64
}

// slowestFirst orders a record by duration descending, then test id.
func slowestFirst(rec durations.Record) []testDuration {
	out := make([]testDuration, 0, len(rec))
	for name, secs := range rec {
		out = append(out, testDuration{name: name, seconds: secs})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].seconds != out[j].seconds {
			return out[i].seconds > out[j].seconds
		}

		return out[i].name < out[j].name
	})

	return out
}

// humanSeconds renders a duration in seconds for humans.
func humanSeconds(secs float64) string {
	d := time.Duration(secs * float64(time.Second))
	if d < time.Second {
		return fmt.Sprintf("%.0fms", secs*1000)
	}

	return units.HumanDuration(d)
}

func renderDurations(w io.Writer, rec durations.Record, limit int) {
	sorted := slowestFirst(rec)

	var total float64
	for _, td := range sorted {
		total += td.seconds
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("Compiled test durations (%d tests)", len(sorted)))
	t.AppendHeader(table.Row{"Test", "Seconds", "Duration"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Test", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Seconds", Align: text.AlignRight},
		{Name: "Duration", Align: text.AlignRight},
	})

	if limit > 0 && limit < len(sorted) {
		sorted = sorted[:limit]
	}

	for _, td := range sorted {
		t.AppendRow(table.Row{td.name, fmt.Sprintf("%.3f", td.seconds), humanSeconds(td.seconds)})
	}

	t.AppendFooter(table.Row{"TOTAL", fmt.Sprintf("%.3f", total), humanSeconds(total)})
	t.SetStyle(table.StyleLight)
	t.Render()
}
