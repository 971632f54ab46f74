package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"bloompos/backend/internal/inventory"
)

type AdvisoriesOptions struct {
	*RootOptions
	Date string
}

func NewAdvisoriesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AdvisoriesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "advisories",
		Short: "List seasonal and holiday stocking advisories",
		Long: `List the advisories active on a date.

Exactly one season advisory is always returned; holiday advisories are
added when the date falls inside a holiday window.

Examples:
  bloomctl advisories
  bloomctl advisories --date 2025-11-28 --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdvisories(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Date, "date", "", "date to evaluate (YYYY-MM-DD, default today)")
	return cmd
}

func runAdvisories(opts *AdvisoriesOptions, cmd *cobra.Command) error {
	date := time.Now().UTC()
	if opts.Date != "" {
		parsed, err := time.Parse(time.DateOnly, opts.Date)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --date", err)
		}
		date = parsed
	}

	var advisories []inventory.Advisory
	for advisory := range inventory.Advisories(date) {
		advisories = append(advisories, advisory)
	}

	return emit(cmd.OutOrStdout(), opts.Format, advisories, func(w io.Writer) error {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KIND\tCODE\tTITLE\tFLOWERS")
		for _, a := range advisories {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.Kind, a.Code, a.Title, strings.Join(a.Flowers, ", "))
		}
		return tw.Flush()
	})
}
