package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/spice-rules/internal/cli"
	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/service"
)

func failuresCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "failures",
		Short: "Review transactions whose categorization failed",
		Long: `A transaction fails when its winning rule points at a deleted category
or account. Failed transactions are skipped until acknowledged or given a
manual category.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List failed transactions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			failed, err := a.store.Fetch(ctx, service.TransactionFilter{
				Statuses: []model.TransactionStatus{model.StatusFailed},
			})
			if err != nil {
				return fmt.Errorf("failed to list failures: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(failed) == 0 {
				fmt.Fprintln(out, cli.FormatSuccess("No failed transactions."))
				return nil
			}
			w := cli.NewTable(out)
			fmt.Fprintln(w, "ID\tDATE\tAMOUNT\tDESCRIPTION\tRULE")
			for _, t := range failed {
				rule := "-"
				if t.MatchedRuleID != nil {
					rule = fmt.Sprint(*t.MatchedRuleID)
				}
				fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\t%s\n", t.ID, t.Date.Format(dateLayout), t.Amount, t.Description, rule)
			}
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "ack <transaction-id>...",
		Short: "Acknowledge failures so rules evaluate the transactions again",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, id := range args {
				if err := a.engine.AcknowledgeFailure(ctx, id); err != nil {
					return common.NewUserError(fmt.Sprintf("could not acknowledge %s", id), err)
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Acknowledged %d failures", len(args))))
			return nil
		},
	})

	return cmd
}

func overrideCmd() *cobra.Command {
	var (
		category string
		account  string
	)

	cmd := &cobra.Command{
		Use:   "override <transaction-id>",
		Short: "Categorize a transaction by hand",
		Long:  `Set a manual category. Rules never change a manually categorized transaction again.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			catID, err := a.categoryID(ctx, category)
			if err != nil {
				return err
			}
			var acctID *int64
			if account != "" {
				id, err := a.accountID(ctx, account)
				if err != nil {
					return err
				}
				acctID = &id
			}

			if err := a.engine.SetManualCategory(ctx, args[0], catID, acctID); err != nil {
				return common.NewUserError(fmt.Sprintf("could not categorize %s", args[0]), err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Categorized %s manually", args[0])))
			return nil
		},
	}

	cmd.Flags().StringVarP(&category, "category", "c", "", "Category name or ID")
	cmd.Flags().StringVar(&account, "account", "", "Counterparty account name or ID")
	_ = cmd.MarkFlagRequired("category")

	return cmd
}
