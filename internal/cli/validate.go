package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oci-lxc/deployer/pkg/catalog"
	"github.com/oci-lxc/deployer/pkg/schema/application"
)

func newValidateCmd() *cobra.Command {
	var (
		catalogSource string
		file          string
	)

	cmd := &cobra.Command{
		Use:   "validate [application]",
		Short: "Validate an application definition",
		Long: `Validate an application definition without deploying.

The definition's extends chain is flattened, shared template references are
resolved, and every template is checked: target kinds, condition syntax,
parameter and output declarations, and placeholder satisfiability.

Examples:
  lxc-deployer validate nginx
  lxc-deployer validate nginx --catalog ./catalog
  lxc-deployer validate -f ./applications/nginx/application.yaml`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			if file != "" {
				root := filepath.Dir(filepath.Dir(filepath.Dir(file)))
				loader := application.NewLoader(root)
				if _, err := loader.LoadFile(file); err != nil {
					return formatValidationError(err)
				}
				fmt.Println("Application definition is valid!")
				return nil
			}

			if len(args) == 0 {
				return fmt.Errorf("an application id or -f is required")
			}

			cat := catalog.New(catalog.Options{})
			loader, err := cat.Resolve(ctx, catalogSource)
			if err != nil {
				return err
			}
			def, err := loader.Load(args[0])
			if err != nil {
				return formatValidationError(err)
			}

			fmt.Println("Application definition is valid!")
			fmt.Printf("  id:     %s\n", def.ID)
			fmt.Printf("  phases: %s\n", strings.Join(def.PhaseNames(), ", "))
			return nil
		},
	}

	cmd.Flags().StringVar(&catalogSource, "catalog", ".", "Catalog source (directory, git::URL, or OCI reference)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to a definition file if not resolving by id")

	return cmd
}
