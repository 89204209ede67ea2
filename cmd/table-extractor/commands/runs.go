package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/spherical/table-extractor/cmd/table-extractor/ui"
	"github.com/spherical/table-extractor/internal/app"
	"github.com/spherical/table-extractor/internal/store"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect the history of extraction runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	Args:  cobra.NoArgs,
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print one run, including its rows, as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

func init() {
	runsListCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "maximum number of runs to list")
	runsCmd.AddCommand(runsListCmd, runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

func openRuns(cmd *cobra.Command) (*store.RunRepository, func(), error) {
	cfg, err := loadConfigUnvalidated()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	runs, db, err := app.OpenRunStore(cmd.Context(), cfg.Store)
	if err != nil {
		return nil, nil, err
	}
	if runs == nil {
		return nil, nil, fmt.Errorf("run history is disabled (set store.driver or DATABASE_URL)")
	}
	return runs, func() { db.Close() }, nil
}

func runRunsList(cmd *cobra.Command, args []string) error {
	runs, closeFn, err := openRuns(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	list, err := runs.List(cmd.Context(), runsLimit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(list) == 0 {
		ui.Info("No runs recorded yet")
		return nil
	}

	rows := make([][]string, 0, len(list))
	for _, run := range list {
		rows = append(rows, []string{
			run.ID.String(),
			run.CreatedAt.Local().Format(time.DateTime),
			string(run.Status),
			strconv.Itoa(run.PagesTotal),
			strconv.Itoa(run.PagesFailed),
			strconv.Itoa(run.RowCount),
			(time.Duration(run.DurationMillis) * time.Millisecond).String(),
			run.DocumentPath,
		})
	}
	ui.Table(cmd.OutOrStdout(), []string{"ID", "CREATED", "STATUS", "PAGES", "FAILED", "ROWS", "DURATION", "DOCUMENT"}, rows)
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", args[0], err)
	}

	runs, closeFn, err := openRuns(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	run, err := runs.GetByID(cmd.Context(), id)
	if err != nil {
		return fmt.Errorf("get run: %w", err)
	}
	return writeOutput(run, "", cmd.OutOrStdout())
}
