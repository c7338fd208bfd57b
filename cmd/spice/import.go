package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/spice-rules/internal/cli"
	"github.com/Veraticus/spice-rules/internal/jobs"
	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/ofx"
	"github.com/Veraticus/spice-rules/internal/service"
)

const pollInterval = 250 * time.Millisecond

func importCmd() *cobra.Command {
	var (
		dryRun bool
		noWait bool
	)

	cmd := &cobra.Command{
		Use:   "import <file.ofx|dir>...",
		Short: "Import and categorize OFX/QFX statements",
		Long: `Import transactions from OFX or QFX files, or every such file in a
directory. Transactions already imported are skipped. New transactions are
categorized immediately; when that takes longer than engine.sync_budget the
rest continues as a job you can follow with 'spice jobs status'.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			files, err := collectStatements(args)
			if err != nil {
				return err
			}

			parser := ofx.NewParser(nil)
			var txns []model.Transaction
			for _, path := range files {
				parsed, err := parseStatement(ctx, parser, path)
				if err != nil {
					return err
				}
				txns = append(txns, parsed...)
			}

			if dryRun {
				w := cli.NewTable(out)
				fmt.Fprintln(w, "DATE\tACCOUNT\tAMOUNT\tDESCRIPTION")
				for _, t := range txns {
					fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\n", t.Date.Format(dateLayout), t.AccountID, t.Amount, t.Description)
				}
				if err := w.Flush(); err != nil {
					return err
				}
				fmt.Fprintln(out, cli.FormatInfo(fmt.Sprintf("Dry run: %d transactions from %d files", len(txns), len(files))))
				return nil
			}

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			inserted, err := a.store.SaveTransactions(ctx, txns)
			if err != nil {
				return fmt.Errorf("failed to save transactions: %w", err)
			}
			fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Imported %d new transactions (%d already known)", inserted, len(txns)-inserted)))

			ids := make([]string, 0, len(txns))
			for _, t := range txns {
				ids = append(ids, t.ID)
			}
			pending, err := a.store.Fetch(ctx, service.TransactionFilter{
				IDs:      ids,
				Statuses: []model.TransactionStatus{model.StatusUncategorized},
			})
			if err != nil {
				return fmt.Errorf("failed to load imported transactions: %w", err)
			}
			return categorizeImported(ctx, cmd, a, pending, !noWait)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Parse and show transactions without saving them")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Return once the job is queued instead of following it")

	return cmd
}

func categorizeImported(ctx context.Context, cmd *cobra.Command, a *app, txns []model.Transaction, wait bool) error {
	out := cmd.OutOrStdout()
	if len(txns) == 0 {
		return nil
	}

	store, err := openJobStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	coord, err := a.startCoordinator(ctx, store)
	if err != nil {
		return err
	}
	// Queued work always drains before the job store closes.
	defer func() {
		if err := coord.Stop(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("Failed to stop job workers", "error", err)
		}
	}()

	result, err := coord.Process(ctx, txns)
	if err != nil {
		return fmt.Errorf("failed to categorize transactions: %w", err)
	}
	printSummary(cmd, "Categorized", result.Processed, result.Matched, result.Unmatched, result.Failed)

	if result.Job == nil {
		return nil
	}
	job := *result.Job
	fmt.Fprintln(out, cli.FormatInfo(fmt.Sprintf("%d transactions queued as job %s", job.Total, job.ID)))
	if !wait {
		// The process still finishes the queued job before exiting.
		return nil
	}

	interrupts := cli.NewInterruptHandler(cmd.ErrOrStderr())
	interrupts.SetHint(fmt.Sprintf("Finishing queued work. Check it later with: spice jobs status %s", job.ID))
	waitCtx, stop := interrupts.HandleInterrupts(ctx)
	defer stop()

	bar := cli.NewJobProgress(out, job.Total, "Categorizing")
	final, err := coord.Wait(waitCtx, job.ID, pollInterval, func(s jobs.Status) {
		bar.Update(s.Processed)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	bar.Done()

	printJob(cmd, final)
	return nil
}

func printSummary(cmd *cobra.Command, verb string, processed, matched, unmatched, failed int) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("%s %d transactions: %d matched, %d without a rule", verb, processed, matched, unmatched)))
	if failed > 0 {
		fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("%d transactions failed; see 'spice failures list'", failed)))
	}
}

// collectStatements expands directories into the OFX/QFX files they hold.
func collectStatements(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to access %s: %w", arg, err)
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}

		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to read directory %s: %w", arg, err)
		}
		for _, e := range entries {
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if !e.IsDir() && (ext == ".ofx" || ext == ".qfx") {
				files = append(files, filepath.Join(arg, e.Name()))
			}
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no OFX or QFX files found")
	}
	return files, nil
}

func parseStatement(ctx context.Context, parser *ofx.Parser, path string) ([]model.Transaction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	txns, err := parser.Parse(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return txns, nil
}
