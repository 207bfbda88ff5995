package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethpandaops/durationoor/pkg/durations"
	"github.com/ethpandaops/durationoor/pkg/report"
	"github.com/ethpandaops/durationoor/pkg/tracker"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	saveReportPath    string
	saveDurationsPath string
	saveCompile       bool
	saveBestEffort    bool
)

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save this node's test durations",
	Long: `Save the test durations of this node, read from a pytest-json-report
file or a plain durations JSON file. The durations are compiled afterwards
when --compile is set or when this is the last node of the CI job.

Failures are logged and the command exits 0 so a broken duration store never
fails the test run. Pass --best-effort=false to exit non-zero instead.`,
	RunE: runSave,
}

func init() {
	rootCmd.AddCommand(saveCmd)
	saveCmd.Flags().StringVar(&saveReportPath, "report", "",
		"pytest-json-report file (defaults to report.path from the config)")
	saveCmd.Flags().StringVar(&saveDurationsPath, "durations", "",
		"plain JSON object mapping test ids to seconds")
	saveCmd.Flags().BoolVar(&saveCompile, "compile", false,
		"compile all node durations after saving")
	saveCmd.Flags().BoolVar(&saveBestEffort, "best-effort", true,
		"log failures instead of exiting non-zero")

	saveCmd.MarkFlagsMutuallyExclusive("report", "durations")
}

func runSave(cmd *cobra.Command, args []string) error {
	err := save(cmd.Context())
	if err != nil && saveBestEffort {
		log.WithError(err).Warn("Failed to record test durations")

		return nil
	}

	return err
}

func save(ctx context.Context) error {
	c, err := setup(ctx, log, cfg, true)
	if err != nil {
		return err
	}
	defer c.Close()

	rec, err := loadDurations()

	switch {
	case errors.Is(err, report.ErrNoReport):
		log.WithError(err).Warn("No test durations to save")
	case err != nil:
		return err
	case len(rec) == 0:
		log.Warn("No test durations to save")
	default:
		if err := c.tracker.SaveNode(ctx, rec); err != nil {
			return fmt.Errorf("saving node durations: %w", err)
		}
	}

	if !shouldCompile(os.LookupEnv) {
		return nil
	}

	compiled, err := c.tracker.Compile(ctx)
	if err != nil {
		return fmt.Errorf("compiling durations: %w", err)
	}

	log.WithFields(logrus.Fields{
		"tests":      len(compiled.Durations),
		"node_files": len(compiled.NodeFiles),
		"skipped":    len(compiled.Skipped),
	}).Info("Test durations compiled")

	return nil
}

func loadDurations() (durations.Record, error) {
	if saveDurationsPath != "" {
		rec, err := report.LoadRecord(saveDurationsPath)
		if err != nil {
			return nil, fmt.Errorf("loading durations: %w", err)
		}

		return rec, nil
	}

	path := saveReportPath
	if path == "" {
		path = cfg.Report.Path
	}

	rec, err := report.LoadPytestJSON(path)
	if err != nil {
		return nil, fmt.Errorf("loading report: %w", err)
	}

	return rec, nil
}

// shouldCompile reports whether this save should be followed by a compile.
func shouldCompile(lookup func(string) (string, bool)) bool {
	if saveCompile {
		return true
	}

	if !cfg.Report.CompileOnLastNode {
		return false
	}

	index, _ := lookup(cfg.Store.NodeIndexEnv)
	total, _ := lookup(cfg.Store.NodeTotalEnv)

	return tracker.IsLastNode(index, total)
}
