package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/spice-rules/internal/common"
)

func recategorizeCmd() *cobra.Command {
	var filters filterFlags

	cmd := &cobra.Command{
		Use:   "recategorize",
		Short: "Re-run rules over existing transactions",
		Long: `Re-evaluate uncategorized and rule-matched transactions against the
current rules. Manually categorized and failed transactions are left alone.

Examples:
  # Recategorize everything from 2024
  spice recategorize --from 2024-01-01 --to 2024-12-31

  # Recategorize one category
  spice recategorize --category Miscellaneous`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			filter, err := filters.build(ctx, a)
			if err != nil {
				return err
			}
			summary, err := a.engine.Recategorize(ctx, filter)
			printSummary(cmd, "Recategorized", summary.Processed, summary.Matched+summary.Unchanged, summary.Unmatched, summary.Failed)
			return err
		},
	}

	cmd.Flags().StringVar(&filters.from, "from", "", "Start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&filters.to, "to", "", "End date (YYYY-MM-DD)")
	cmd.Flags().StringVarP(&filters.category, "category", "c", "", "Only transactions in this category")
	cmd.Flags().StringVar(&filters.account, "in-account", "", "Only transactions of this source account")

	return cmd
}

func replaceCmd() *cobra.Command {
	var (
		filters filterFlags
		from    string
		to      string
	)

	cmd := &cobra.Command{
		Use:   "replace",
		Short: "Move transactions from one category to another",
		Long: `Move every non-failed transaction in one category to another, keeping
its status. Rules are not changed.

Example:
  spice replace --from-category Misc --to-category Groceries --from 2024-01-01`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			fromID, err := a.categoryID(ctx, from)
			if err != nil {
				return err
			}
			toID, err := a.categoryID(ctx, to)
			if err != nil {
				return err
			}
			if fromID == toID {
				return common.NewUserError("source and target category are the same", common.ErrInvalidConfig)
			}

			filter, err := filters.build(ctx, a)
			if err != nil {
				return err
			}
			result, err := a.engine.ReplaceCategory(ctx, fromID, toID, filter)
			if err != nil {
				return fmt.Errorf("failed to replace category: %w", err)
			}
			printBulk(cmd, result)
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from-category", "", "Category to move transactions out of")
	cmd.Flags().StringVar(&to, "to-category", "", "Category to move transactions into")
	cmd.Flags().StringVar(&filters.from, "from", "", "Start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&filters.to, "to", "", "End date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&filters.account, "in-account", "", "Only transactions of this source account")
	_ = cmd.MarkFlagRequired("from-category")
	_ = cmd.MarkFlagRequired("to-category")

	return cmd
}
