package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"bloompos/backend/internal/config"
	"bloompos/backend/internal/domain"
	"bloompos/backend/internal/service"
)

var cliActor = domain.Actor{Username: "bloomctl", Role: "admin"}

type ReceiveOptions struct {
	*RootOptions
	ProductID    string
	ProductName  string
	Category     string
	Quantity     int
	UnitPrice    string
	LifespanDays int
	Threshold    int
	Supplier     string
	ReceivedAt   string
}

func NewReceiveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReceiveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Record a new stock batch",
		Long: `Record a delivery as a new batch. Batches are never merged, so each
keeps its own received date and expiry.

Examples:
  bloomctl receive --product rose-red --name "Red Rose" --qty 100 --price 45 --lifespan 7
  bloomctl receive --product ribbon-satin --category non_perishable --qty 20 --price 75`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReceive(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ProductID, "product", "", "product id (required)")
	_ = cmd.MarkFlagRequired("product")
	cmd.Flags().StringVar(&opts.ProductName, "name", "", "product display name")
	cmd.Flags().StringVar(&opts.Category, "category", domain.CategoryPerishable, "perishable|non_perishable")
	cmd.Flags().IntVar(&opts.Quantity, "qty", 0, "quantity received (required)")
	_ = cmd.MarkFlagRequired("qty")
	cmd.Flags().StringVar(&opts.UnitPrice, "price", "0", "unit price")
	cmd.Flags().IntVar(&opts.LifespanDays, "lifespan", 0, "shelf life in days (perishables)")
	cmd.Flags().IntVar(&opts.Threshold, "threshold", 0, "minimum stock threshold")
	cmd.Flags().StringVar(&opts.Supplier, "supplier", "", "supplier name")
	cmd.Flags().StringVar(&opts.ReceivedAt, "received", "", "received date (YYYY-MM-DD, default now)")

	return cmd
}

func runReceive(opts *ReceiveOptions, cmd *cobra.Command) error {
	price, err := decimal.NewFromString(opts.UnitPrice)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --price", err)
	}
	req := domain.ReceiveStockRequest{
		ProductID:        opts.ProductID,
		ProductName:      opts.ProductName,
		Category:         opts.Category,
		Quantity:         opts.Quantity,
		UnitPrice:        price,
		MinimumThreshold: opts.Threshold,
		Supplier:         opts.Supplier,
	}
	if cmd.Flags().Changed("lifespan") {
		lifespan := opts.LifespanDays
		req.LifespanDays = &lifespan
	}
	if opts.ReceivedAt != "" {
		receivedAt, err := time.Parse(time.DateOnly, opts.ReceivedAt)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --received", err)
		}
		req.ReceivedAt = &receivedAt
	}

	ctx := service.WithActor(cmd.Context(), cliActor)
	a, err := opts.open(ctx, config.Load(), cmd.ErrOrStderr())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer a.Close()

	batch, err := a.Service.ReceiveStock(ctx, req)
	if err != nil {
		return WrapExitError(ExitFailure, "receive failed", err)
	}

	return emit(cmd.OutOrStdout(), opts.Format, batch, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "received %s: %d x %s @ %s\n", batch.ID, batch.QuantityOnHand, batch.ProductID, batch.UnitPrice.StringFixed(2))
		return err
	})
}

func NewRetireExpiredCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retire-expired",
		Short: "Move expired batches into spoilage records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRetireExpired(rootOpts, cmd)
		},
	}
}

func runRetireExpired(opts *RootOptions, cmd *cobra.Command) error {
	ctx := service.WithActor(cmd.Context(), cliActor)
	a, err := opts.open(ctx, config.Load(), cmd.ErrOrStderr())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer a.Close()

	resp, err := a.Service.RetireExpired(ctx, time.Time{})
	if err != nil {
		return WrapExitError(ExitFailure, "retire failed", err)
	}

	return emit(cmd.OutOrStdout(), opts.Format, resp, func(w io.Writer) error {
		fmt.Fprintf(w, "retired %d batch(es)\n", len(resp.Retired))
		for _, r := range resp.Retired {
			fmt.Fprintf(w, "  %s %s qty=%d expired=%s\n", r.BatchID, r.ProductID, r.Quantity, r.ExpiredAt.Format(time.DateOnly))
		}
		return nil
	})
}
