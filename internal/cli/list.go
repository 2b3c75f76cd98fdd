package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/oci-lxc/deployer/pkg/catalog"
)

func newListCmd() *cobra.Command {
	var catalogSource string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List applications in a catalog",
		Long: `List every application the catalog defines, with its phases.

Examples:
  lxc-deployer list
  lxc-deployer list --catalog git::https://github.com/org/catalog.git`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			cat := catalog.New(catalog.Options{})
			loader, err := cat.Resolve(ctx, catalogSource)
			if err != nil {
				return err
			}

			ids, err := loader.List()
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				fmt.Println("No applications found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "APPLICATION\tPHASES\tDESCRIPTION")
			for _, id := range ids {
				def, err := loader.Load(id)
				if err != nil {
					fmt.Fprintf(w, "%s\t(invalid)\t%v\n", id, err)
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", def.ID, strings.Join(def.PhaseNames(), ","), def.Description)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&catalogSource, "catalog", ".", "Catalog source (directory, git::URL, or OCI reference)")

	return cmd
}
