package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/skobkin/freqpilot/internal/history"
	"github.com/skobkin/freqpilot/internal/record"
)

var (
	historyDB      string
	historyLimit   int
	historySamples string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded runs",
	Long: `History lists the most recent runs stored in the SQLite history database,
or prints the time series of one run with --samples.`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().StringVar(&historyDB, "db", "", "History database path (default: APP_HISTORY_DB)")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to list")
	historyCmd.Flags().StringVar(&historySamples, "samples", "", "Print the time series of the run with this ID")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	path := historyDB
	if path == "" {
		path = cfg.Output.HistoryDB
	}
	if path == "" {
		return fmt.Errorf("no history database: pass --db or set APP_HISTORY_DB")
	}

	ctx := cmd.Context()
	store, err := history.Open(ctx, path, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	if historySamples != "" {
		id, err := uuid.Parse(historySamples)
		if err != nil {
			return fmt.Errorf("parse run id: %w", err)
		}
		rows, err := store.Samples(ctx, id)
		if err != nil {
			return err
		}
		for _, row := range rows {
			fmt.Fprintln(out, record.FormatRow(row))
		}
		return nil
	}

	runs, err := store.ListRuns(ctx, historyLimit)
	if err != nil {
		return err
	}
	renderRuns(out, runs)
	return nil
}

func renderRuns(out io.Writer, runs []history.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(out, faintStyle.Render("no runs recorded"))
		return
	}
	for _, run := range runs {
		state := goodStyle.Render(run.State)
		if run.State != "window_expired" && run.State != "capture_exhausted" {
			state = badStyle.Render(run.State)
		}
		fmt.Fprintf(out, "%s %s %s\n",
			titleStyle.Render(run.ID.String()),
			run.StartedAt.Local().Format(time.DateTime),
			state)
		fmt.Fprintln(out, field("actuator", fmt.Sprintf("%s, threshold %.1f ms, window %.0fs", run.Actuator, run.ThresholdMS, run.WindowSeconds)))
		fmt.Fprintln(out, field("source", run.Source))
		fmt.Fprintln(out, field("frames", fmt.Sprintf("%d", run.Frames)))
		if run.AvgTotalMS != nil && run.AvgCPUMS != nil {
			fmt.Fprintln(out, field("latency", fmt.Sprintf("avg %.3f ms total, %.3f ms cpu", *run.AvgTotalMS, *run.AvgCPUMS)))
		} else {
			fmt.Fprintln(out, field("latency", faintStyle.Render("no frames")))
		}
		fmt.Fprintln(out, field("clocks", fmt.Sprintf("cpu %s, gpu %s", formatHz(run.LastCPUHz), formatHz(run.LastGPUHz))))
		fmt.Fprintln(out)
	}
}
