package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/spice-rules/internal/cli"
	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/rulesfile"
	"github.com/Veraticus/spice-rules/internal/service"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage enhancement rules",
		Long: `Rules map a description pattern to a category and, optionally, a
counterparty account. EXACT and CONTAINS patterns are compared with the
normalized description; REGEX patterns are matched case-insensitively.`,
	}

	cmd.AddCommand(listRulesCmd())
	cmd.AddCommand(createRuleCmd())
	cmd.AddCommand(updateRuleCmd())
	cmd.AddCommand(deleteRuleCmd())
	cmd.AddCommand(previewRuleCmd())
	cmd.AddCommand(countRuleCmd())
	cmd.AddCommand(applyRuleCmd())
	cmd.AddCommand(importRulesCmd())
	cmd.AddCommand(exportRulesCmd())

	return cmd
}

func listRulesCmd() *cobra.Command {
	var (
		invalidOnly  bool
		unconfigured bool
		pending      bool
		source       string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			filter := service.RuleFilter{
				InvalidOnly:      invalidOnly,
				UnconfiguredOnly: unconfigured,
				IncludeInvalid:   true,
			}
			if pending {
				filter.Statuses = []model.SuggestionStatus{model.SuggestionPending}
			}
			if source != "" {
				src, err := model.ParseRuleSource(strings.ToUpper(source))
				if err != nil {
					return common.NewUserError("unknown rule source", err)
				}
				filter.Source = src
			}

			rules, err := a.store.ListRules(ctx, filter)
			if err != nil {
				return fmt.Errorf("failed to list rules: %w", err)
			}
			names, err := a.categoryNames(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(rules) == 0 {
				fmt.Fprintln(out, cli.InfoStyle.Render("No rules found. Use 'spice rules create' to add one."))
				return nil
			}

			w := cli.NewTable(out)
			fmt.Fprintln(w, "ID\tPATTERN\tTYPE\tCATEGORY\tSOURCE\tUSES\tSTATE")
			for _, r := range rules {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
					r.ID, r.Pattern, r.MatchType, nameOf(names, r.CategoryID), r.Source, r.UsageCount, cli.FormatRuleState(r))
				if r.Invalid {
					fmt.Fprintf(w, "\t%s\t\t\t\t\t\n", cli.SubtleStyle.Render(r.InvalidReason))
				}
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&invalidOnly, "invalid", false, "Only show rules whose pattern cannot match")
	cmd.Flags().BoolVar(&unconfigured, "unconfigured", false, "Only show rules without a category")
	cmd.Flags().BoolVar(&pending, "pending", false, "Only show suggestions awaiting review")
	cmd.Flags().StringVar(&source, "source", "", "Only show rules from a source (MANUAL, AI_AUTO, AI_SUGGESTED)")

	return cmd
}

// ruleFlags are the editable fields of a rule.
type ruleFlags struct {
	pattern   string
	matchType string
	category  string
	account   string
	from      string
	to        string
	minAmount float64
	maxAmount float64
}

func (f *ruleFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.pattern, "pattern", "p", "", "Description pattern")
	cmd.Flags().StringVarP(&f.matchType, "match-type", "t", string(model.MatchContains), "EXACT, CONTAINS or REGEX")
	cmd.Flags().StringVarP(&f.category, "category", "c", "", "Category name or ID")
	cmd.Flags().StringVar(&f.account, "account", "", "Counterparty account name or ID")
	cmd.Flags().Float64Var(&f.minAmount, "min", 0, "Minimum amount (inclusive)")
	cmd.Flags().Float64Var(&f.maxAmount, "max", 0, "Maximum amount (inclusive)")
	cmd.Flags().StringVar(&f.from, "valid-from", "", "First day the rule applies (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.to, "valid-to", "", "Last day the rule applies (YYYY-MM-DD)")
}

// apply copies every flag the user set onto rule.
func (f *ruleFlags) apply(ctx context.Context, cmd *cobra.Command, a *app, rule *model.EnhancementRule) error {
	changed := cmd.Flags().Changed

	if changed("pattern") {
		rule.Pattern = f.pattern
	}
	if changed("match-type") || rule.MatchType == "" {
		mt, err := model.ParseMatchType(strings.ToUpper(f.matchType))
		if err != nil {
			return common.NewUserError("match type must be EXACT, CONTAINS or REGEX", err)
		}
		rule.MatchType = mt
	}
	if changed("category") {
		if f.category == "" {
			rule.CategoryID = nil
		} else {
			id, err := a.categoryID(ctx, f.category)
			if err != nil {
				return err
			}
			rule.CategoryID = &id
		}
	}
	if changed("account") {
		if f.account == "" {
			rule.CounterpartyAccountID = nil
		} else {
			id, err := a.accountID(ctx, f.account)
			if err != nil {
				return err
			}
			rule.CounterpartyAccountID = &id
		}
	}
	if changed("min") {
		v := f.minAmount
		rule.MinAmount = &v
	}
	if changed("max") {
		v := f.maxAmount
		rule.MaxAmount = &v
	}
	if changed("valid-from") || changed("valid-to") {
		start, end, err := dateRange(f.from, f.to)
		if err != nil {
			return err
		}
		if changed("valid-from") {
			rule.ValidFrom = start
		}
		if changed("valid-to") {
			if end != nil {
				day := end.Truncate(24 * time.Hour)
				end = &day
			}
			rule.ValidTo = end
		}
	}
	return nil
}

func reportRule(cmd *cobra.Command, verb string, rule model.EnhancementRule) {
	out := cmd.OutOrStdout()
	if rule.Invalid {
		fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("%s rule %d, but it is invalid and will not match: %s", verb, rule.ID, rule.InvalidReason)))
		return
	}
	fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("%s rule %d (%s %q)", verb, rule.ID, rule.MatchType, rule.Pattern)))
}

func createRuleCmd() *cobra.Command {
	var flags ruleFlags

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a rule",
		Long: `Create a rule. Without --category the rule is stored unconfigured and
will be offered to the suggestion provider by 'spice suggest run'.

Examples:
  spice rules create -p netflix -c Streaming
  spice rules create -p "^uber( eats)?" -t REGEX -c Transport --max 80`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			rule := model.EnhancementRule{Source: model.SourceManual}
			if err := flags.apply(ctx, cmd, a, &rule); err != nil {
				return err
			}
			if err := a.engine.CreateRule(ctx, &rule); err != nil {
				return common.NewUserError("could not create rule", err)
			}
			reportRule(cmd, "Created", rule)
			return nil
		},
	}
	flags.register(cmd)
	_ = cmd.MarkFlagRequired("pattern")

	return cmd
}

func updateRuleCmd() *cobra.Command {
	var flags ruleFlags

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a rule",
		Long:  `Update the fields given as flags. Pass an empty value to clear --category, --account or a date.`,
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

			rule, err := a.store.GetRule(ctx, id)
			if err != nil {
				return common.NewUserError(fmt.Sprintf("rule %d does not exist", id), err)
			}
			if err := flags.apply(ctx, cmd, a, rule); err != nil {
				return err
			}
			if err := a.engine.UpdateRule(ctx, rule); err != nil {
				return common.NewUserError("could not update rule", err)
			}
			reportRule(cmd, "Updated", *rule)
			return nil
		},
	}
	flags.register(cmd)

	return cmd
}

func deleteRuleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a rule",
		Long:  `Delete a rule. Transactions it already categorized keep their category.`,
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

			if err := a.engine.DeleteRule(ctx, id); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Deleted rule %d", id)))
			return nil
		},
	}
}

func previewRuleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preview <transaction-id>",
		Short: "Show which rules match a transaction and which one wins",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			txn, err := a.store.GetTransaction(ctx, args[0])
			if err != nil {
				return common.NewUserError(fmt.Sprintf("transaction %q does not exist", args[0]), err)
			}
			preview, err := a.engine.Preview(ctx, *txn)
			if err != nil {
				return err
			}
			names, err := a.categoryNames(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, cli.FormatTitle(txn.Description))
			fmt.Fprintf(out, "Normalized: %s\n", txn.NormalizedDescription)
			if !preview.Matched {
				fmt.Fprintln(out, cli.FormatInfo("No configured rule matches this transaction"))
			} else {
				fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Rule %d (%q) wins: %s", *preview.RuleID, preview.RulePattern, nameOf(names, preview.CategoryID))))
			}

			if len(preview.Candidates) > 0 {
				w := cli.NewTable(out)
				fmt.Fprintln(w, "\nID\tPATTERN\tTYPE\tSOURCE\tCATEGORY")
				for _, r := range preview.Candidates {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", r.ID, r.Pattern, r.MatchType, r.Source, nameOf(names, r.CategoryID))
				}
				return w.Flush()
			}
			return nil
		},
	}
}

func countRuleCmd() *cobra.Command {
	var (
		flags   ruleFlags
		filters filterFlags
	)

	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count transactions a pattern would match without saving it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			var rule model.EnhancementRule
			if err := flags.apply(ctx, cmd, a, &rule); err != nil {
				return err
			}
			filter, err := filters.build(ctx, a)
			if err != nil {
				return err
			}

			n, err := a.engine.CountMatching(ctx, rule, filter)
			if err != nil {
				return common.NewUserError("could not evaluate pattern", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo(fmt.Sprintf("%d transactions match %s %q", n, rule.MatchType, rule.Pattern)))
			return nil
		},
	}
	flags.register(cmd)
	_ = cmd.MarkFlagRequired("pattern")
	cmd.Flags().StringVar(&filters.from, "from", "", "Only count transactions on or after this date")
	cmd.Flags().StringVar(&filters.to, "to", "", "Only count transactions on or before this date")
	cmd.Flags().StringVar(&filters.account, "in-account", "", "Only count transactions of this source account")

	return cmd
}

func applyRuleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply <id>",
		Short: "Apply a rule to existing transactions",
		Long: `Re-evaluate every transaction the rule matches. Conflict resolution
still runs, so a more specific or more trusted rule keeps winning.`,
		Args: cobra.ExactArgs(1),
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

			result, err := a.engine.ApplyRule(ctx, id)
			if err != nil {
				return common.NewUserError(fmt.Sprintf("could not apply rule %d", id), err)
			}
			printBulk(cmd, result)
			return nil
		},
	}
}

func printBulk(cmd *cobra.Command, result model.BulkResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, cli.FormatSuccess(result.Message))
	if result.FailedCount > 0 {
		fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("%d transactions failed; see 'spice failures list'", result.FailedCount)))
	}
}

func importRulesCmd() *cobra.Command {
	var createMissing bool

	cmd := &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Import rules from a YAML file",
		Long: `Import rules exported by 'spice rules export'. The whole file is checked
first; one bad rule rejects the file. Rules already present are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open rules file: %w", err)
			}
			defer func() { _ = f.Close() }()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := rulesfile.Import(ctx, f, a.engine, a.store, rulesfile.ImportOptions{CreateMissing: createMissing})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Imported %d rules (%d already present)", result.Created, result.Duplicate)))
			if result.Invalid > 0 {
				fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("%d imported rules are invalid; see 'spice rules list --invalid'", result.Invalid)))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&createMissing, "create-missing", false, "Create categories and accounts the file references")

	return cmd
}

func exportRulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [file.yaml]",
		Short: "Export all rules as YAML",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) == 0 {
				_, err := rulesfile.Export(ctx, a.store, a.store, cmd.OutOrStdout())
				return err
			}

			f, err := os.Create(args[0])
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", args[0], err)
			}
			n, err := rulesfile.Export(ctx, a.store, a.store, f)
			if closeErr := f.Close(); err == nil {
				err = closeErr
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), cli.FormatSuccess(fmt.Sprintf("Exported %d rules to %s", n, args[0])))
			return nil
		},
	}
}
