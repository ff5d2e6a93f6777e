package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/evrange/infra/audit"
)

var (
	auditVehicle string
	auditSince   time.Duration
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show served predictions from the audit log",
	Args:  cobra.NoArgs,
	RunE:  showAudit,
}

func init() {
	auditCmd.Flags().StringVar(&auditVehicle, "vehicle", "", "only show this vehicle")
	auditCmd.Flags().DurationVar(&auditSince, "since", 0, "only show predictions newer than this (e.g. 1h)")
	rootCmd.AddCommand(auditCmd)
}

func showAudit(cmd *cobra.Command, _ []string) error {
	cfg, flush, err := setup()
	if err != nil {
		return err
	}
	defer flush()

	log, err := audit.NewLog(cfg.Audit)
	if err != nil {
		return err
	}
	defer func() { _ = log.Close() }()

	q := audit.Query{VehicleID: auditVehicle}
	if auditSince > 0 {
		q.Start = time.Now().Add(-auditSince)
	}
	recs, err := log.Query(q)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSOURCE\tVEHICLE\tRANGE KM\tLATENCY MS\tERROR")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.1f\t%.1f\t%s\n", r.Timestamp.Format(time.RFC3339), r.Source, r.VehicleID, r.RangeKm, r.LatencyMS, r.Error)
	}
	return tw.Flush()
}
