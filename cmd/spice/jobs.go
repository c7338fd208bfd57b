package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/spice-rules/internal/cli"
	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/jobs"
)

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect background categorization jobs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job's progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openJobStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			status, err := store.Get(cmd.Context(), args[0])
			if isNotFound(err) {
				return common.NewUserError(fmt.Sprintf("no job with ID %s", args[0]), err)
			}
			if err != nil {
				return err
			}
			printJob(cmd, status)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List recent jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openJobStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			all, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			w := cli.NewTable(cmd.OutOrStdout())
			fmt.Fprintln(w, "JOB\tSTATE\tPROCESSED\tFAILED\tCREATED")
			for _, s := range all {
				fmt.Fprintf(w, "%s\t%s\t%d/%d\t%d\t%s\n",
					s.ID, s.State, s.Processed, s.Total, s.Failed, s.CreatedAt.Local().Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	})

	return cmd
}

func printJob(cmd *cobra.Command, s jobs.Status) {
	lines := fmt.Sprintf("State:     %s\nProcessed: %d of %d\nRemaining: %d\nFailed:    %d",
		s.State, s.Processed, s.Total, s.Remaining, s.Failed)
	if s.CompletedAt != nil && s.StartedAt != nil {
		lines += fmt.Sprintf("\nDuration:  %s", s.CompletedAt.Sub(*s.StartedAt).Round(time.Millisecond))
	}
	if s.Error != "" {
		lines += "\nError:     " + cli.ErrorStyle.Render(s.Error)
	}
	fmt.Fprintln(cmd.OutOrStdout(), cli.RenderBox("Job "+s.ID, lines))
}
