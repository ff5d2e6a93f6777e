package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/evrange/app"
)

var trainData string

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a range model and save the artifact bundle",
	RunE:  train,
}

func init() {
	trainCmd.Flags().StringVarP(&trainData, "data", "d", "", "telemetry file, overrides data.source.path")
	rootCmd.AddCommand(trainCmd)
}

func train(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, flush, err := setup()
	if err != nil {
		return err
	}
	defer flush()

	rep, err := app.Train(ctx, cfg, trainData)
	if err != nil {
		return err
	}
	res := rep.Result
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s: %d epochs (%s), best epoch %d, val loss %.6f\n",
		rep.Summary.RunID, len(res.History), res.StopReason, res.BestEpoch, res.BestValLoss)
	if res.HasKm {
		fmt.Fprintf(out, "test RMSE %.2f km, MAE %.2f km\n", res.TestRMSEKm, res.TestMAEKm)
	}
	fmt.Fprintf(out, "bundle: %s\n", rep.ArtifactDir)
	if rep.PlotPath != "" {
		fmt.Fprintf(out, "loss curves: %s\n", rep.PlotPath)
	}
	return nil
}
