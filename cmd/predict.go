package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/evrange/app"
)

var predictCmd = &cobra.Command{
	Use:   "predict <telemetry.csv>",
	Short: "Predict the remaining range for every window of a CSV file",
	Args:  cobra.ExactArgs(1),
	RunE:  predictFile,
}

func init() {
	rootCmd.AddCommand(predictCmd)
}

func predictFile(cmd *cobra.Command, args []string) error {
	cfg, flush, err := setup()
	if err != nil {
		return err
	}
	defer flush()

	preds, bundle, err := app.PredictFile(cmd.Context(), cfg, args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "# model %s, %d-step windows\n", bundle.Manifest.RunID, bundle.Manifest.SequenceLength)
	fmt.Fprintln(out, "window_end_row,predicted_remaining_range_km")
	for i, km := range preds {
		fmt.Fprintf(out, "%d,%.3f\n", i+bundle.Manifest.SequenceLength-1, km)
	}
	return nil
}
