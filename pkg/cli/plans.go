package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sakconstructions/storefront/pkg/app"
	"github.com/sakconstructions/storefront/pkg/catalog"
)

func newPlansCommand(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plans",
		Short: "Manage the plan catalog",
	}
	cmd.AddCommand(newPlansImportCommand(open), newPlansListCommand(open))
	return cmd
}

// newPlansImportCommand upserts plans from a YAML manifest keyed by slug
func newPlansImportCommand(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "import <manifest.yaml>",
		Short: "Create or update plans from a YAML manifest, matched by slug",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open manifest: %w", err)
			}
			defer f.Close()

			return withApp(cmd, open, func(a *app.App) error {
				result, err := a.Catalog.ImportPlans(cmd.Context(), f)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported plans: %d created, %d updated\n", result.Created, result.Updated)
				return nil
			})
		},
	}
}

func newPlansListCommand(open Opener) *cobra.Command {
	var (
		category string
		all      bool
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List plans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(a *app.App) error {
				list, err := a.Catalog.ListPlans(cmd.Context(), catalog.PlanListRequest{
					Category:           category,
					IncludeUnpublished: all,
					Limit:              limit,
				})
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tSLUG\tTITLE\tBASIC\tSTANDARD\tPREMIUM\tPUBLISHED")
				for _, p := range list.Items {
					fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%d\t%t\n",
						p.ID, p.Slug, p.Title, p.BasicPrice, p.StandardPrice, p.PremiumPrice, p.Published)
				}
				if err := w.Flush(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d of %d plans\n", len(list.Items), list.Total)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "only plans in this category")
	cmd.Flags().BoolVar(&all, "all", false, "include unpublished plans")
	cmd.Flags().IntVar(&limit, "limit", catalog.MaxLimit, "maximum plans to show")
	return cmd
}
