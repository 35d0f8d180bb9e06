package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect the job queue",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Count queued jobs by kind and status",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, runCtx, cleanup, err := ctx.open(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			counts, err := application.JobStats(runCtx)
			if err != nil {
				return err
			}
			if len(counts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
				return nil
			}

			rows := make([][]string, 0, len(counts))
			for _, c := range counts {
				rows = append(rows, []string{string(c.Kind), string(c.Status), humanize.Comma(int64(c.Jobs))})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Kind", "Status", "Jobs"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	})
	return cmd
}
