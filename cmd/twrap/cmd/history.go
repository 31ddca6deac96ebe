package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/twrap/internal/history"
)

var (
	historyDriver string
	historyDSN    string
	historyJob    string
	historyLimit  int
	historyOutput string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded runs",
	Long: `Lists runs stored by the record action, newest first.

Example:
  twrap history --driver sqlite3 --dsn /var/lib/twrap/history.db --job etl`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().StringVar(&historyDriver, "driver", "", "sqlite3 or postgres (default from history.driver)")
	historyCmd.Flags().StringVar(&historyDSN, "dsn", "", "database path or DSN (default from history.dsn)")
	historyCmd.Flags().StringVar(&historyJob, "job", "", "only runs of this job")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of runs")
	historyCmd.Flags().StringVarP(&historyOutput, "output", "o", "table", "output format: table, json or yaml")
}

func runHistory(cmd *cobra.Command, args []string) error {
	driver, dsn := historyDriver, historyDSN
	if cfg, err := loadConfig(); err == nil {
		if driver == "" {
			driver = cfg.History.Driver
		}
		if dsn == "" {
			dsn = cfg.History.DSN
		}
	}
	if dsn == "" {
		return fmt.Errorf("no history database: set --dsn or history.dsn")
	}

	store, err := history.Open(driver, dsn)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	runs, err := store.Recent(ctx, historyJob, historyLimit)
	if err != nil {
		return err
	}

	switch historyOutput {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	case "yaml":
		return yaml.NewEncoder(cmd.OutOrStdout()).Encode(runs)
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Finished", "Team", "Group", "Job", "Exit", "Cause", "Attempts", "Duration", "Execution")
	for _, r := range runs {
		table.Append(
			r.FinishedAt.Local().Format(time.DateTime),
			r.Team,
			r.Group,
			r.Job,
			strconv.Itoa(r.ExitCode),
			r.Cause,
			strconv.Itoa(r.Attempts),
			(time.Duration(r.Duration) * time.Second).String(),
			r.ExecutionID,
		)
	}
	if err := table.Render(); err != nil {
		return err
	}
	fmt.Printf("\nTotal runs: %d\n", len(runs))
	return nil
}
