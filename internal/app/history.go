package app

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/databackup-cli/databackup/internal/output"
	"github.com/databackup-cli/databackup/internal/store"
)

var (
	historyFlagLimit     int
	historyFlagOlderThan time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show past backup and restore runs",
	Long: `Without arguments, list the most recent runs with their tallies. With a run
ID (or a unique prefix of one), list every item the run processed.`,
	Example: `  databackup history
  databackup history 3f2a9c1b
  databackup history prune --older-than 720h`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		if len(args) == 1 {
			return showRun(cmd.OutOrStdout(), st, args[0])
		}
		return listRuns(cmd.OutOrStdout(), st, historyFlagLimit)
	},
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete runs older than a given age",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := st.PruneRuns(time.Now().Add(-historyFlagOlderThan))
		if err != nil {
			return fmt.Errorf("failed to prune history: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d run(s).\n", n)
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyFlagLimit, "limit", 20, "number of runs to list")
	historyPruneCmd.Flags().DurationVar(&historyFlagOlderThan, "older-than", 90*24*time.Hour, "delete runs started before this age")
	historyCmd.AddCommand(historyPruneCmd)
}

func listRuns(w io.Writer, st *store.Store, limit int) error {
	runs, err := st.ListRuns(limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	summaries := make([]output.RunSummary, 0, len(runs))
	for _, r := range runs {
		counts, err := st.CountItems(r.ID)
		if err != nil {
			return fmt.Errorf("failed to count items of run %s: %w", r.ID, err)
		}
		summaries = append(summaries, output.RunSummary{Run: r, Counts: counts})
	}
	fmt.Fprint(w, output.RenderRunTable(summaries))
	return nil
}

func showRun(w io.Writer, st *store.Store, id string) error {
	run, err := st.GetRun(id)
	if err != nil {
		return err
	}
	items, err := st.ListItems(run.ID)
	if err != nil {
		return fmt.Errorf("failed to list items: %w", err)
	}
	counts, err := st.CountItems(run.ID)
	if err != nil {
		return fmt.Errorf("failed to count items: %w", err)
	}

	fmt.Fprintf(w, "Run:     %s\n", run.ID)
	fmt.Fprintf(w, "Kind:    %s\n", run.Kind)
	fmt.Fprintf(w, "Started: %s\n", run.StartedAt.Local().Format(time.DateTime))
	if !run.FinishedAt.IsZero() {
		fmt.Fprintf(w, "Took:    %s\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Second))
	}
	fmt.Fprintf(w, "Result:  %s\n\n", output.RenderCounts(counts))
	fmt.Fprint(w, output.RenderItemTable(items))
	return nil
}
