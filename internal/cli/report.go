package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"bloompos/backend/internal/config"
	"bloompos/backend/internal/inventory"
)

type ReportOptions struct {
	*RootOptions
	WarnDays int
}

func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the inventory aging report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.WarnDays, "warn-days", 0, "expiry warning window in days, 0 for expiry day only (default EXPIRY_WARNING_DAYS)")
	return cmd
}

func runReport(opts *ReportOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	cfg := config.Load()
	if cmd.Flags().Changed("warn-days") {
		cfg.ExpiryWarningDays = opts.WarnDays
	}

	a, err := opts.open(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer a.Close()

	report, err := a.Service.InventoryReport(ctx, time.Time{})
	if err != nil {
		return WrapExitError(ExitFailure, "failed to build report", err)
	}

	return emit(cmd.OutOrStdout(), opts.Format, report, func(w io.Writer) error {
		fmt.Fprintf(w, "Inventory as of %s (warning window %d days)\n\n", report.GeneratedAt.Format("2006-01-02 15:04"), report.WarningDays)
		writeStatuses(w, "Expired", report.Expired)
		writeStatuses(w, "Expiring soon", report.ExpiringSoon)
		writeStatuses(w, "Low stock", report.LowStock)

		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PRODUCT\tON HAND\tMINIMUM\tLOW")
		for _, p := range report.Products {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%t\n", p.ProductID, p.QuantityOnHand, p.MinimumThreshold, p.Low)
		}
		return tw.Flush()
	})
}

func writeStatuses(w io.Writer, title string, statuses []inventory.BatchStatus) {
	fmt.Fprintf(w, "%s: %d\n", title, len(statuses))
	for _, s := range statuses {
		fmt.Fprintf(w, "  %s %s qty=%d %s\n", s.Batch.ID, s.Batch.ProductID, s.Batch.QuantityOnHand, s.Lifespan.State)
	}
	fmt.Fprintln(w)
}
