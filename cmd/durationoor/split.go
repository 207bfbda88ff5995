package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ethpandaops/durationoor/pkg/split"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	splitSplits    int
	splitGroup     int
	splitStrategy  string
	splitTestsFile string
)

var splitCmd = &cobra.Command{
	Use:   "split [tests...]",
	Short: "Print the tests assigned to one group",
	Long: `Split the given tests into --splits groups balanced by their compiled
durations and print the test ids of group --group (0-indexed), one per line.
Tests are read from the arguments, or from --tests-file ("-" for stdin).`,
	RunE: runSplit,
}

func init() {
	rootCmd.AddCommand(splitCmd)
	splitCmd.Flags().IntVar(&splitSplits, "splits", 1, "number of groups")
	splitCmd.Flags().IntVar(&splitGroup, "group", 0, "0-indexed group to print")
	splitCmd.Flags().StringVar(&splitStrategy, "strategy", "",
		"split strategy (duration, alpha); defaults to split.strategy from the config")
	splitCmd.Flags().StringVar(&splitTestsFile, "tests-file", "",
		"file listing test ids, one per line")
}

func runSplit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	name := cfg.Split.Strategy
	if splitStrategy != "" {
		name = splitStrategy
	}

	strategy, err := split.ParseStrategy(name)
	if err != nil {
		return err
	}

	tests := args

	if splitTestsFile != "" {
		fromFile, err := readTestsFile(cmd.InOrStdin(), splitTestsFile)
		if err != nil {
			return err
		}

		tests = append(tests, fromFile...)
	}

	c, err := setup(ctx, log, cfg, false)
	if err != nil {
		return err
	}
	defer c.Close()

	shard, err := split.Compute(tests, c.tracker.Compiled(ctx), splitSplits, splitGroup, strategy)
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"group":    shard.Group,
		"included": len(shard.Included),
		"excluded": len(shard.Excluded),
		"expected": humanSeconds(shard.Duration),
	}).Info("Computed test split")

	out := cmd.OutOrStdout()
	for _, t := range shard.Included {
		fmt.Fprintln(out, t)
	}

	return nil
}

// readTestsFile reads test ids from path, one per line. Blank lines and
// lines starting with # are ignored. "-" reads from stdin.
func readTestsFile(stdin io.Reader, path string) ([]string, error) {
	r := stdin

	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening tests file: %w", err)
		}
		defer func() { _ = f.Close() }()

		r = f
	}

	return readTests(r)
}

func readTests(r io.Reader) ([]string, error) {
	var tests []string

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		tests = append(tests, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading tests: %w", err)
	}

	return tests, nil
}
