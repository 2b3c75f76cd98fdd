package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/oci-lxc/deployer/pkg/catalog"
	"github.com/oci-lxc/deployer/pkg/oci"
	"github.com/oci-lxc/deployer/pkg/schema/application"
)

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage catalog sources and bundles",
		Long:  `Commands for syncing remote catalogs and distributing application bundles.`,
	}

	cmd.AddCommand(newCatalogSyncCmd())
	cmd.AddCommand(newCatalogPushCmd())
	cmd.AddCommand(newCatalogPullCmd())

	return cmd
}

func newCatalogSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync <source>",
		Short: "Refresh a remote catalog in the local cache",
		Long: `Discard the cached copy of a remote catalog and fetch it again.
Local directory sources need no syncing.

Examples:
  lxc-deployer catalog sync git::https://github.com/org/catalog.git//apps?ref=main
  lxc-deployer catalog sync registry.example.com/apps/nginx:1.0`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			cat := catalog.New(catalog.Options{})
			dir, err := cat.Sync(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("[success] Catalog synced to %s\n", dir)
			return nil
		},
	}

	return cmd
}

func newCatalogPushCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push <directory> <reference>",
		Short: "Package an application directory and push it as an OCI bundle",
		Long: `Archive an application directory into a bundle artifact and push it
to an OCI registry. The directory must hold a valid application definition;
the bundle config records the application id and phases so registries can
display them without pulling the layer.

Examples:
  lxc-deployer catalog push ./applications/nginx registry.example.com/apps/nginx:1.0
  lxc-deployer catalog push ./applications/gitlab ghcr.io/org/gitlab:16.4`,
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			reference := args[1]
			ctx := context.Background()

			defFile, err := findDefinitionFile(dir)
			if err != nil {
				return err
			}

			// Validate before packaging; a broken bundle helps nobody.
			loader := application.NewLoader(filepath.Dir(filepath.Dir(dir)))
			def, err := loader.LoadFile(defFile)
			if err != nil {
				return formatValidationError(err)
			}

			client := oci.NewClient()
			artifact, err := client.BuildBundle(dir, oci.BundleConfig{
				ApplicationID: def.ID,
				Extends:       def.Extends,
				Phases:        def.PhaseNames(),
				Description:   def.Description,
			})
			if err != nil {
				return err
			}
			artifact.Reference = reference

			fmt.Printf("Pushing %s (%d bytes)...\n", reference, artifact.Layers[0].Size)
			if err := client.Push(ctx, artifact); err != nil {
				return err
			}
			fmt.Printf("[success] Pushed %s\n", reference)
			return nil
		},
	}

	return cmd
}

func newCatalogPullCmd() *cobra.Command {
	var destDir string

	cmd := &cobra.Command{
		Use:   "pull <reference>",
		Short: "Pull an OCI bundle into a local directory",
		Long: `Download a bundle artifact and unpack its application directory.

Examples:
  lxc-deployer catalog pull registry.example.com/apps/nginx:1.0
  lxc-deployer catalog pull ghcr.io/org/gitlab:16.4 -d ./bundles/gitlab`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			reference := args[0]
			ctx := context.Background()

			dest := destDir
			if dest == "" {
				ref, err := oci.ParseReference(reference)
				if err != nil {
					return err
				}
				dest = filepath.Base(ref.Repository)
			}
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return fmt.Errorf("failed to create %s: %w", dest, err)
			}

			client := oci.NewClient()
			if err := client.Pull(ctx, reference, dest); err != nil {
				return err
			}
			fmt.Printf("[success] Pulled %s into %s\n", reference, dest)
			return nil
		},
	}

	cmd.Flags().StringVarP(&destDir, "dest", "d", "", "Destination directory (defaults to the repository name)")

	return cmd
}

// findDefinitionFile locates the definition document inside an application
// directory.
func findDefinitionFile(dir string) (string, error) {
	for _, name := range []string{"application.json", "application.yaml", "application.yml"} {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no application definition found in %s", dir)
}
