package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"bloompos/backend/internal/app"
	"bloompos/backend/internal/config"
)

// Opener builds the application for one command invocation.
type Opener func(ctx context.Context, cfg config.Config) (*app.App, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string // "json" | "text"
	Open   Opener
}

var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the bloomctl CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bloomctl",
		Short: "bloomctl - flower shop stock and order tooling",
		Long:  "Operate the bloompos stock ledger from the shell: receive batches, retire spoilage and read the aging report.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewAdvisoriesCommand(opts))
	cmd.AddCommand(NewReportCommand(opts))
	cmd.AddCommand(NewReceiveCommand(opts))
	cmd.AddCommand(NewRetireExpiredCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))

	return cmd
}

func (o *RootOptions) open(ctx context.Context, cfg config.Config, stderr io.Writer) (*app.App, error) {
	if o.Open != nil {
		return o.Open(ctx, cfg)
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	return app.Build(ctx, cfg, logger)
}
