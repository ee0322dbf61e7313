package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"stockroom/backend/internal/report"
)

// NewAggregateCommand creates the aggregate command.
func NewAggregateCommand(rootOpts *RootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Print quantity and amount sold per item",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := rootOpts.svc.AggregateSales(cmd.Context())
			if err != nil {
				return err
			}
			switch format {
			case "csv":
				return report.WriteAggregateCSV(cmd.OutOrStdout(), rows)
			case "json":
				return writeJSON(cmd.OutOrStdout(), rows)
			default:
				return fmt.Errorf("invalid format %q: must be json or csv", format)
			}
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "output format (json|csv)")
	return cmd
}
