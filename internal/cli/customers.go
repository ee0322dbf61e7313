package cli

import (
	"github.com/spf13/cobra"

	"stockroom/backend/internal/domain"
)

// NewCustomersCommand creates the customers command.
func NewCustomersCommand(rootOpts *RootOptions) *cobra.Command {
	var query string

	cmd := &cobra.Command{
		Use:   "customers",
		Short: "List customers seen in sales, credit sales and receipts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				dir domain.CustomerDirectory
				err error
			)
			if cmd.Flags().Changed("search") {
				dir, err = rootOpts.svc.SearchCustomers(cmd.Context(), query)
			} else {
				dir, err = rootOpts.svc.ScanCustomers(cmd.Context())
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), dir)
		},
	}
	cmd.Flags().StringVar(&query, "search", "", "match names or phone numbers containing this text")
	return cmd
}
