package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newNodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Work with the node inventory",
		Long:  `Commands for listing and checking the Proxmox nodes in the inventory.`,
	}

	cmd.AddCommand(newNodeListCmd())
	cmd.AddCommand(newNodeCheckCmd())

	return cmd
}

func newNodeListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List inventory nodes",
		Args:    cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := loadInventory()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NODE\tADDRESS\tUSER")
			for _, n := range inv.Nodes {
				address := n.Host
				if n.Local {
					address = "(local)"
				} else if n.Port != 0 {
					address = fmt.Sprintf("%s:%d", n.Host, n.Port)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", n.Name, address, n.User)
			}
			return w.Flush()
		},
	}

	return cmd
}

func newNodeCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <node>",
		Short: "Check connectivity to a node",
		Long: `Connect to a node and run a trivial command, verifying the inventory
entry is reachable and pct is available.

Examples:
  lxc-deployer node check pve1`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			inv, err := loadInventory()
			if err != nil {
				return err
			}
			n, err := inv.Get(args[0])
			if err != nil {
				return err
			}

			tgt, err := n.Target()
			if err != nil {
				return err
			}
			if closer, ok := tgt.(io.Closer); ok {
				defer closer.Close()
			}

			res, err := tgt.Run(ctx, "pveversion 2>/dev/null || uname -a")
			if err != nil {
				return fmt.Errorf("node %q unreachable: %w", n.Name, err)
			}
			if res.ExitCode != 0 {
				return fmt.Errorf("node %q check exited %d: %s", n.Name, res.ExitCode, res.StderrTail(5))
			}

			fmt.Printf("[success] Node %q reachable via %s\n", n.Name, tgt.Describe())
			fmt.Printf("  %s\n", strings.TrimSpace(res.Stdout))
			return nil
		},
	}

	return cmd
}
