package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newContextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Inspect recorded deployment context",
		Long:  `Commands for listing and managing per-node deployment records.`,
	}

	cmd.AddCommand(newContextListCmd())
	cmd.AddCommand(newContextGetCmd())
	cmd.AddCommand(newContextSetCmd())
	cmd.AddCommand(newContextDeleteCmd())

	return cmd
}

func newContextListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <node>",
		Short: "List deployment records for a node",
		Long: `List every deployment record the context store holds for a node.

Examples:
  lxc-deployer context list pve1`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			cs, err := contextStoreFromFlags(cmd)
			if err != nil {
				return err
			}

			recs, err := cs.ListDeployments(ctx, args[0])
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Printf("No deployments recorded for node %q.\n", args[0])
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VMID\tAPPLICATION\tHOSTNAME\tPHASE\tSTATUS\tFINISHED")
			for _, rec := range recs {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
					rec.VMID, rec.Application, rec.Hostname, rec.Phase, rec.Status,
					rec.FinishedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}

	return cmd
}

func newContextGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <node> <vmid>",
		Short: "Show one deployment record",
		Long: `Print a container's deployment record, including the values its
pipeline captured.

Examples:
  lxc-deployer context get pve1 101`,
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			vmid, err := parseVMID(args[1])
			if err != nil {
				return err
			}

			cs, err := contextStoreFromFlags(cmd)
			if err != nil {
				return err
			}

			rec, err := cs.GetDeployment(ctx, args[0], vmid)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		},
	}

	return cmd
}

func newContextSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <node> <vmid> <key=value>...",
		Short: "Set values on a deployment record",
		Long: `Overwrite values on a container's deployment record. Later phases read
these values the same way they read pipeline-captured outputs, so this is the
escape hatch for correcting a stale value by hand.

Examples:
  lxc-deployer context set pve1 101 container_ip=10.0.0.99`,
		Args:         cobra.MinimumNArgs(3),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			vmid, err := parseVMID(args[1])
			if err != nil {
				return err
			}
			values, err := parseSetFlags(args[2:])
			if err != nil {
				return err
			}

			cs, err := contextStoreFromFlags(cmd)
			if err != nil {
				return err
			}

			rec, err := cs.GetDeployment(ctx, args[0], vmid)
			if err != nil {
				return err
			}
			if rec.Values == nil {
				rec.Values = make(map[string]string, len(values))
			}
			for k, v := range values {
				rec.Values[k] = v
			}

			if err := cs.SaveDeployment(ctx, rec); err != nil {
				return err
			}
			fmt.Printf("[success] Updated %d value(s) on %s/%d\n", len(values), args[0], vmid)
			return nil
		},
	}

	return cmd
}

func newContextDeleteCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <node> <vmid>",
		Short: "Delete a deployment record",
		Long: `Remove a container's deployment record from the context store. This
does not touch the container itself; run the application's remove phase for
that.

Examples:
  lxc-deployer context delete pve1 101 --force`,
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			vmid, err := parseVMID(args[1])
			if err != nil {
				return err
			}

			if !force {
				fmt.Printf("Delete deployment record for %s/%d? [y/N]: ", args[0], vmid)
				var response string
				_, _ = fmt.Scanln(&response)
				if response != "y" && response != "yes" {
					fmt.Println("Cancelled.")
					return nil
				}
			}

			cs, err := contextStoreFromFlags(cmd)
			if err != nil {
				return err
			}

			if err := cs.DeleteDeployment(ctx, args[0], vmid); err != nil {
				return err
			}
			fmt.Printf("[success] Deleted deployment record %s/%d\n", args[0], vmid)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Skip confirmation prompt")

	return cmd
}

func parseVMID(s string) (int, error) {
	var vmid int
	if _, err := fmt.Sscanf(s, "%d", &vmid); err != nil || vmid <= 0 {
		return 0, fmt.Errorf("invalid vmid %q", s)
	}
	return vmid, nil
}
