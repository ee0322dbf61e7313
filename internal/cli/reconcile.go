package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

const (
	StepIDs     = "ids"
	StepHistory = "history"
	StepSales   = "sales"
	StepSold    = "sold"
	StepDates   = "dates"
	StepAll     = "all"
)

// ValidSteps lists the reconcile steps in the order "all" runs them.
var ValidSteps = []string{StepIDs, StepHistory, StepSales, StepSold, StepDates, StepAll}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	var step string
	var fallbackToday bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Repair references between stock, sales and history",
		Long: `Run one reconciliation job, or all of them in startup order.

ids      assign ids to stock items without one
history  link stock history entries to stock items
sales    link sales to stock items by name
sold     mark items that appear in sales or sale history as sold
dates    fill dateSold from legacy timestamps`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd, rootOpts, step, fallbackToday)
		},
	}
	cmd.Flags().StringVar(&step, "step", StepAll, "step to run (ids|history|sales|sold|dates|all)")
	cmd.Flags().BoolVar(&fallbackToday, "fallback-today", false, "date sales with no usable timestamp as today")
	return cmd
}

func runReconcile(cmd *cobra.Command, opts *RootOptions, step string, fallbackToday bool) error {
	if !isValidStep(step) {
		return fmt.Errorf("invalid step %q: must be one of %v", step, ValidSteps)
	}
	ctx := cmd.Context()
	svc := opts.svc
	out := map[string]any{}

	if step == StepIDs || step == StepAll {
		n, err := svc.EnsureStockHasIDs(ctx)
		if err != nil {
			return fmt.Errorf("ids: %w", err)
		}
		out["idsAssigned"] = n
	}
	if step == StepHistory || step == StepAll {
		res, err := svc.LinkHistoryToStock(ctx)
		if err != nil {
			return fmt.Errorf("history: %w", err)
		}
		out["history"] = res
	}
	if step == StepSales || step == StepAll {
		res, err := svc.LinkSalesToStock(ctx)
		if err != nil {
			return fmt.Errorf("sales: %w", err)
		}
		out["sales"] = map[string]any{"updatedCount": res.UpdatedCount, "unmatchedNames": res.UnmatchedNames}
	}
	if step == StepSold || step == StepAll {
		n, err := svc.MigrateHasBeenSold(ctx)
		if err != nil {
			return fmt.Errorf("sold: %w", err)
		}
		out["markedHasBeenSold"] = n
	}
	if step == StepDates || step == StepAll {
		n, err := svc.FixMissingSaleDates(ctx, fallbackToday)
		if err != nil {
			return fmt.Errorf("dates: %w", err)
		}
		out["salesDated"] = n
	}

	return writeJSON(cmd.OutOrStdout(), out)
}

func isValidStep(step string) bool {
	for _, s := range ValidSteps {
		if s == step {
			return true
		}
	}
	return false
}
