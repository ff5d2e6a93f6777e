package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kilianp07/evrange/infra/history"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "List recorded training runs or show one",
	Args:  cobra.MaximumNArgs(1),
	RunE:  listRuns,
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "maximum number of runs to list")
	rootCmd.AddCommand(runsCmd)
}

func listRuns(cmd *cobra.Command, args []string) error {
	cfg, flush, err := setup()
	if err != nil {
		return err
	}
	defer flush()

	store, err := history.NewSQLiteStore(cfg.History.Path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		r, err := store.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "run:         %s\nstatus:      %s\nstarted:     %s\nduration:    %s\n",
			r.RunID, r.Status, r.StartedAt.Format("2006-01-02 15:04:05"), r.FinishedAt.Sub(r.StartedAt))
		fmt.Fprintf(out, "windows:     %d over %d features\nepochs:      %d (%s), best %d\n",
			r.Windows, r.FeatureCount, r.Epochs, r.StopReason, r.BestEpoch)
		fmt.Fprintf(out, "val loss:    %.6f\ntest RMSE:   %.2f km\ntest MAE:    %.2f km\nbundle:      %s\n",
			r.BestValLoss, r.TestRMSEKm, r.TestMAEKm, r.ArtifactDir)
		if r.Error != "" {
			fmt.Fprintf(out, "error:       %s\n", r.Error)
		}
		return nil
	}

	runs, err := store.List(cmd.Context(), runsLimit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tSTATUS\tEPOCHS\tVAL LOSS\tRMSE KM")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.6f\t%.2f\n", r.RunID, r.StartedAt.Format("2006-01-02 15:04"), r.Status, r.Epochs, r.BestValLoss, r.TestRMSEKm)
	}
	return tw.Flush()
}
