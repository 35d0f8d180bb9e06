package main

import (
	"github.com/spf13/cobra"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var withWorker bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, runCtx, cleanup, err := ctx.open(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			return application.Serve(runCtx, withWorker)
		},
	}
	cmd.Flags().BoolVar(&withWorker, "with-worker", false, "Also drain the job queue in this process")
	return cmd
}

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Materialize builders and poll the farm",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, runCtx, cleanup, err := ctx.open(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			return application.RunWorker(runCtx)
		},
	}
}
