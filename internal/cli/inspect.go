package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/oci-lxc/deployer/pkg/catalog"
	"github.com/oci-lxc/deployer/pkg/schema/application"
)

func newInspectCmd() *cobra.Command {
	var (
		catalogSource string
		outputFormat  string
	)

	cmd := &cobra.Command{
		Use:   "inspect <application>",
		Short: "Show an application's resolved definition",
		Long: `Show an application definition after extends flattening and shared
template resolution, i.e. exactly what the executor would run.

Examples:
  lxc-deployer inspect nginx
  lxc-deployer inspect nginx -o json
  lxc-deployer inspect gitlab --catalog git::https://github.com/org/catalog.git`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			cat := catalog.New(catalog.Options{})
			loader, err := cat.Resolve(ctx, catalogSource)
			if err != nil {
				return err
			}
			def, err := loader.Load(args[0])
			if err != nil {
				return formatValidationError(err)
			}

			switch strings.ToLower(outputFormat) {
			case "json":
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(inspectView(def))
			case "yaml", "":
				enc := yaml.NewEncoder(os.Stdout)
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(inspectView(def))
			default:
				return fmt.Errorf("unknown output format %q (yaml, json)", outputFormat)
			}
		},
	}

	cmd.Flags().StringVar(&catalogSource, "catalog", ".", "Catalog source (directory, git::URL, or OCI reference)")
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "yaml", "Output format (yaml, json)")

	return cmd
}

// inspectView shapes a definition for display, keeping phase order stable.
func inspectView(def *application.Definition) map[string]interface{} {
	phases := map[string]interface{}{}
	for name, templates := range def.Phases {
		var tpls []map[string]interface{}
		for _, tpl := range templates {
			view := map[string]interface{}{
				"name":       tpl.Name,
				"execute_on": string(tpl.Target()),
				"commands":   len(tpl.Commands),
			}
			if tpl.If != "" {
				view["if"] = tpl.If
			}
			if len(tpl.Parameters) > 0 {
				var params []string
				for _, p := range tpl.Parameters {
					label := p.ID
					if p.Required {
						label += " (required)"
					}
					params = append(params, label)
				}
				view["parameters"] = params
			}
			if len(tpl.Outputs) > 0 {
				var outs []string
				for _, o := range tpl.Outputs {
					outs = append(outs, o.ID)
				}
				view["outputs"] = outs
			}
			tpls = append(tpls, view)
		}
		phases[name] = tpls
	}

	view := map[string]interface{}{
		"id":     def.ID,
		"phases": phases,
	}
	if def.Description != "" {
		view["description"] = def.Description
	}
	if def.Extends != "" {
		view["extends"] = def.Extends
	}
	return view
}
