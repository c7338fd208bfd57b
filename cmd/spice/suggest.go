package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/spice-rules/internal/cli"
	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/suggest"
)

func suggestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "suggest",
		Short: "Let a suggestion provider configure rules",
		Long: `Ask the configured provider (llm.provider: bayes, openai or anthropic)
which category an unconfigured rule belongs to. Confident answers configure
the rule directly; the rest wait for review with 'suggest apply' or
'suggest reject'.`,
	}

	cmd.AddCommand(discoverCmd())
	cmd.AddCommand(runSuggestCmd())
	cmd.AddCommand(applySuggestionCmd())
	cmd.AddCommand(rejectSuggestionCmd())

	return cmd
}

func discoverCmd() *cobra.Command {
	var (
		minOccurrences int
		dryRun         bool
	)

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Create unconfigured rules for recurring uncategorized descriptions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			integ, err := a.integrator()
			if err != nil {
				return err
			}
			found, err := integ.Discover(ctx, suggest.DiscoverOptions{MinOccurrences: minOccurrences, DryRun: dryRun})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(found) == 0 {
				fmt.Fprintln(out, cli.InfoStyle.Render("No new rule candidates."))
				return nil
			}
			w := cli.NewTable(out)
			fmt.Fprintln(w, "ID\tPATTERN\tSEEN")
			for _, d := range found {
				id := "-"
				if d.Rule.ID != 0 {
					id = fmt.Sprint(d.Rule.ID)
				}
				fmt.Fprintf(w, "%s\t%s\t%d\n", id, d.Rule.Pattern, d.Occurrences)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if dryRun {
				fmt.Fprintln(out, cli.FormatInfo(fmt.Sprintf("Dry run: %d candidates", len(found))))
			} else {
				fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Created %d unconfigured rules; run 'spice suggest run' next", len(found))))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&minOccurrences, "min", 0, "Minimum times a description must appear (default engine.discover_min_occurrences)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show candidates without creating rules")

	return cmd
}

func runSuggestCmd() *cobra.Command {
	var (
		limit        int
		applyHistory bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Request suggestions for every unconfigured rule",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			integ, err := a.integrator()
			if err != nil {
				return err
			}
			report, err := integ.Run(ctx, suggest.RunOptions{Limit: limit, ApplyHistory: applyHistory})
			if err != nil && report.Processed == 0 {
				return err
			}

			out := cmd.OutOrStdout()
			if report.Processed == 0 {
				fmt.Fprintln(out, cli.InfoStyle.Render("No unconfigured rules to suggest for."))
				return nil
			}

			w := cli.NewTable(out)
			fmt.Fprintln(w, "RULE\tPATTERN\tSUGGESTION\tCONFIDENCE\tRESULT")
			for _, r := range report.Results {
				result := string(r.Status)
				if r.Err != nil {
					result = cli.ErrorStyle.Render(r.Err.Error())
				} else if r.HistoryUpdated > 0 {
					result += fmt.Sprintf(" (%d updated)", r.HistoryUpdated)
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
					r.RuleID, r.Pattern, r.Category, cli.FormatConfidence(r.Confidence, a.cfg.AutoApplyThreshold), result)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("%s %d auto-applied, %d pending review, %d failed",
				cli.RobotIcon, report.AutoApplied, report.Pending, report.Failed)))
			return err
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum rules to ask about")
	cmd.Flags().BoolVar(&applyHistory, "apply-history", false, "Re-categorize past transactions with auto-applied rules")

	return cmd
}

func applySuggestionCmd() *cobra.Command {
	var (
		category     string
		applyHistory bool
	)

	cmd := &cobra.Command{
		Use:   "apply <rule-id>",
		Short: "Accept a pending suggestion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			opts := suggest.ApplyOptions{ApplyHistory: applyHistory}
			if category != "" {
				catID, err := a.categoryID(ctx, category)
				if err != nil {
					return err
				}
				opts.CategoryID = &catID
			}

			integ := suggest.New(a.store, nil, a.engine, suggest.ConfigFrom(a.cfg, a.logger))
			result, err := integ.Apply(ctx, id, opts)
			if err != nil {
				return common.NewUserError(fmt.Sprintf("could not apply suggestion for rule %d", id), err)
			}
			printBulk(cmd, result)
			return nil
		},
	}

	cmd.Flags().StringVarP(&category, "category", "c", "", "Use this category instead of the suggested one")
	cmd.Flags().BoolVar(&applyHistory, "apply-history", false, "Re-categorize past transactions with the rule")

	return cmd
}

func rejectSuggestionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject <rule-id>",
		Short: "Reject a pending suggestion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			integ := suggest.New(a.store, nil, a.engine, suggest.ConfigFrom(a.cfg, a.logger))
			if err := integ.Reject(ctx, id); err != nil {
				return common.NewUserError(fmt.Sprintf("could not reject suggestion for rule %d", id), err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Rejected suggestion for rule %d; it will not be suggested again", id)))
			return nil
		},
	}
}
