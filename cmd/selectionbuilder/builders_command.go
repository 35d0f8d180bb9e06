package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"SelectionBuilder/internal/domain"
)

func newBuildersCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "builders",
		Short: "Inspect builders",
	}
	cmd.AddCommand(newBuildersListCommand(ctx))
	return cmd
}

func newBuildersListCommand(ctx *commandContext) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's builders",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(user) == "" {
				return errors.New("--user is required")
			}
			application, runCtx, cleanup, err := ctx.open(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			builders, err := application.Builders.List(runCtx, user)
			if err != nil {
				return err
			}
			if len(builders) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No builders")
				return nil
			}

			rows := make([][]string, 0, len(builders))
			for _, b := range builders {
				articles := "-"
				if count, err := application.Builders.LatestArticleCount(runCtx, user, b.ID); err == nil {
					articles = humanize.Comma(int64(count.ArticleCount))
				} else if !errors.Is(err, domain.ErrNotFound) {
					return err
				}
				rows = append(rows, []string{
					b.ID,
					b.Name,
					b.Project,
					b.Model,
					strconv.Itoa(b.Version),
					articles,
					humanize.Time(b.UpdatedAt),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Name", "Project", "Model", "Version", "Articles", "Updated"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "Owning user id")
	return cmd
}
