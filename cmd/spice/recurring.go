package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/spice-rules/internal/cli"
	"github.com/Veraticus/spice-rules/internal/recurring"
)

func recurringCmd() *cobra.Command {
	var (
		filters    filterFlags
		activeOnly bool
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "recurring",
		Short: "Find recurring expenses",
		Long: `Group categorized transactions by normalized description and report the
ones that repeat monthly, quarterly or yearly, with their annual cost.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			txnFilter, err := filters.build(ctx, a)
			if err != nil {
				return err
			}
			result, err := a.recurring().Detect(ctx, recurring.Filter{
				StartDate:  txnFilter.StartDate,
				EndDate:    txnFilter.EndDate,
				CategoryID: txnFilter.CategoryID,
				AccountID:  txnFilter.AccountID,
				ActiveOnly: activeOnly,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}

			if len(result.Patterns) == 0 {
				fmt.Fprintln(out, cli.InfoStyle.Render("No recurring expenses found."))
				return nil
			}

			names, err := a.categoryNames(ctx)
			if err != nil {
				return err
			}

			w := cli.NewTable(out)
			fmt.Fprintln(w, "DESCRIPTION\tEVERY\tAVERAGE\tPER YEAR\tCATEGORY\tLAST SEEN\tSTATUS")
			for _, p := range result.Patterns {
				status := cli.SuccessStyle.Render("active")
				if !p.Active {
					status = cli.SubtleStyle.Render("lapsed")
				}
				catID := p.CategoryID
				fmt.Fprintf(w, "%s\t%s (%.0fd)\t%.2f\t%.2f\t%s\t%s\t%s\n",
					p.NormalizedDescription, p.PatternType, p.IntervalDays, p.AverageAmount, p.TotalAnnualCost,
					nameOf(names, &catID), p.LastTransactionDate.Format(dateLayout), status)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			s := result.Summary
			fmt.Fprintln(out, cli.RenderBox("Recurring total",
				fmt.Sprintf("%d patterns (%d active)\n%.2f per month\n%.2f per year",
					len(result.Patterns), s.ActiveCount, s.TotalMonthlyCost, s.TotalAnnualCost)))
			return nil
		},
	}

	cmd.Flags().StringVar(&filters.from, "from", "", "Start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&filters.to, "to", "", "End date (YYYY-MM-DD)")
	cmd.Flags().StringVarP(&filters.category, "category", "c", "", "Only this category")
	cmd.Flags().StringVar(&filters.account, "in-account", "", "Only this source account")
	cmd.Flags().BoolVar(&activeOnly, "active", false, "Hide patterns whose last payment is overdue")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print patterns and summary as JSON")

	return cmd
}
