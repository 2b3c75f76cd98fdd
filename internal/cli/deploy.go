package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/user"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/oci-lxc/deployer/internal/logging"
	"github.com/oci-lxc/deployer/pkg/catalog"
	"github.com/oci-lxc/deployer/pkg/contextstore"
	"github.com/oci-lxc/deployer/pkg/engine"
	"github.com/oci-lxc/deployer/pkg/engine/executor"
	"github.com/oci-lxc/deployer/pkg/errors"
)

func newDeployCmd() *cobra.Command {
	var (
		catalogSource string
		nodeName      string
		vmid          int
		hostname      string
		setFlags      []string
		autoApprove   bool
		dryRun        bool
	)

	cmd := &cobra.Command{
		Use:     "deploy <application>",
		Aliases: []string{"install"},
		Short:   "Deploy an application into an LXC container",
		Long: `Deploy an application by running its install phase against a Proxmox node.

The application is resolved from the catalog source, which can be:
  - A local catalog directory (e.g., ./catalog)
  - A git source (e.g., git::https://github.com/org/catalog.git//apps?ref=main)
  - An OCI bundle reference (e.g., registry.example.com/apps/nginx:1.0)

Parameter values are bound in precedence order: --set flags, values recorded
by a previous phase, then declared defaults. Missing required parameters fail
the run before anything executes.

Examples:
  lxc-deployer deploy nginx --node pve1 --vmid 101
  lxc-deployer deploy gitlab --node pve1 --vmid 210 --hostname git.internal --set edition=ce
  lxc-deployer deploy nginx --catalog git::https://github.com/org/catalog.git --node pve1 --vmid 101`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides, err := parseSetFlags(setFlags)
			if err != nil {
				return err
			}

			return runPhase(cmd, phaseRun{
				Application: args[0],
				Phase:       "install",
				Catalog:     catalogSource,
				Node:        nodeName,
				VMID:        vmid,
				Hostname:    hostname,
				Overrides:   overrides,
				AutoApprove: autoApprove,
				DryRun:      dryRun,
			})
		},
	}

	cmd.Flags().StringVar(&catalogSource, "catalog", ".", "Catalog source (directory, git::URL, or OCI reference)")
	cmd.Flags().StringVar(&nodeName, "node", "", "Proxmox node from the inventory (required)")
	cmd.Flags().IntVar(&vmid, "vmid", 0, "Container vmid (required)")
	cmd.Flags().StringVar(&hostname, "hostname", "", "Container hostname, exposed to templates")
	cmd.Flags().StringArrayVar(&setFlags, "set", nil, "Set parameter (key=value)")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "Skip confirmation prompt")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show the execution plan without running anything")
	_ = cmd.MarkFlagRequired("node")
	_ = cmd.MarkFlagRequired("vmid")

	return cmd
}

func newRunCmd() *cobra.Command {
	var (
		catalogSource string
		nodeName      string
		vmid          int
		hostname      string
		setFlags      []string
		autoApprove   bool
		dryRun        bool
	)

	cmd := &cobra.Command{
		Use:   "run <application> <phase>",
		Short: "Run one lifecycle phase of a deployed application",
		Long: `Run a single lifecycle phase (update, remove, backup, ...) against a
container. Values recorded by earlier phases are available to the phase's
templates, so an update phase can reference outputs captured at install time.

Examples:
  lxc-deployer run nginx update --node pve1 --vmid 101
  lxc-deployer run gitlab backup --node pve1 --vmid 210 --set target=/mnt/backups`,
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides, err := parseSetFlags(setFlags)
			if err != nil {
				return err
			}

			return runPhase(cmd, phaseRun{
				Application: args[0],
				Phase:       args[1],
				Catalog:     catalogSource,
				Node:        nodeName,
				VMID:        vmid,
				Hostname:    hostname,
				Overrides:   overrides,
				AutoApprove: autoApprove,
				DryRun:      dryRun,
			})
		},
	}

	cmd.Flags().StringVar(&catalogSource, "catalog", ".", "Catalog source (directory, git::URL, or OCI reference)")
	cmd.Flags().StringVar(&nodeName, "node", "", "Proxmox node from the inventory (required)")
	cmd.Flags().IntVar(&vmid, "vmid", 0, "Container vmid (required)")
	cmd.Flags().StringVar(&hostname, "hostname", "", "Container hostname, exposed to templates")
	cmd.Flags().StringArrayVar(&setFlags, "set", nil, "Set parameter (key=value)")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "Skip confirmation prompt")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show the execution plan without running anything")
	_ = cmd.MarkFlagRequired("node")
	_ = cmd.MarkFlagRequired("vmid")

	return cmd
}

// phaseRun collects everything one phase invocation needs.
type phaseRun struct {
	Application string
	Phase       string
	Catalog     string
	Node        string
	VMID        int
	Hostname    string
	Overrides   map[string]string
	AutoApprove bool
	DryRun      bool
}

// runPhase is the shared pipeline behind deploy and run: resolve the
// catalog, connect to the node, take the node lock, execute the phase, and
// persist the deployment record.
func runPhase(cmd *cobra.Command, opts phaseRun) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := newLogger()

	cat := catalog.New(catalog.Options{})
	loader, err := cat.Resolve(ctx, opts.Catalog)
	if err != nil {
		return fmt.Errorf("failed to resolve catalog %q: %w", opts.Catalog, err)
	}

	eng := engine.New(loader, logger)
	def, err := eng.Validate(opts.Application)
	if err != nil {
		return formatValidationError(err)
	}

	templates, ok := def.Phase(opts.Phase)
	if !ok {
		return fmt.Errorf("application %q has no %q phase (defined: %s)",
			def.ID, opts.Phase, strings.Join(def.PhaseNames(), ", "))
	}

	inv, err := loadInventory()
	if err != nil {
		return err
	}
	node, err := inv.Get(opts.Node)
	if err != nil {
		return err
	}

	// Display execution plan
	fmt.Printf("Application: %s\n", def.ID)
	fmt.Printf("Phase:       %s\n", opts.Phase)
	fmt.Printf("Node:        %s\n", opts.Node)
	fmt.Printf("Container:   %d\n", opts.VMID)
	fmt.Println()
	fmt.Println("Templates to run:")
	for _, tpl := range templates {
		line := fmt.Sprintf("  %s (%s)", tpl.Name, tpl.Target())
		if tpl.If != "" {
			line += fmt.Sprintf(" [if: %s]", tpl.If)
		}
		fmt.Println(line)
	}
	fmt.Println()

	if opts.DryRun {
		fmt.Println("Dry run: no commands were executed.")
		return nil
	}

	if !opts.AutoApprove && isInteractive() {
		fmt.Print("Proceed? [Y/n]: ")
		var response string
		_, _ = fmt.Scanln(&response)
		response = strings.ToLower(strings.TrimSpace(response))
		if response != "" && response != "y" && response != "yes" {
			fmt.Println("Cancelled.")
			return nil
		}
		fmt.Println()
	}

	cs, err := contextStoreFromFlags(cmd)
	if err != nil {
		return err
	}

	lock, err := cs.LockNode(ctx, opts.Node, lockHolder(), opts.Phase)
	if err != nil {
		return fmt.Errorf("failed to lock node %q: %w", opts.Node, err)
	}
	defer func() {
		if unlockErr := lock.Unlock(context.Background()); unlockErr != nil {
			logger.Warn("failed to release node lock", "node", opts.Node, "error", unlockErr)
		}
	}()

	host, err := node.Target()
	if err != nil {
		return err
	}
	if closer, ok := host.(io.Closer); ok {
		defer closer.Close()
	}

	// Re-runs see the values earlier phases captured.
	var priorValues map[string]string
	if prev, err := cs.GetDeployment(ctx, opts.Node, opts.VMID); err == nil {
		priorValues = prev.Values
	} else if !errors.Is(err, errors.ErrCodeNotFound) {
		return err
	}

	result, runErr := eng.Run(ctx, engine.RunOptions{
		ApplicationID: opts.Application,
		Phase:         opts.Phase,
		Host:          host,
		VMID:          opts.VMID,
		Hostname:      opts.Hostname,
		Node:          opts.Node,
		Overrides:     opts.Overrides,
		Values:        priorValues,
	})
	if result == nil {
		return runErr
	}

	// At debug level, replay what the scripts printed.
	if logger.Enabled(ctx, slog.LevelDebug) {
		w := logging.NewWriter(logger)
		for _, tpl := range result.Templates {
			for _, cmdRec := range tpl.Commands {
				for _, line := range strings.Split(cmdRec.Stdout, "\n") {
					_, _ = io.WriteString(w, line)
				}
			}
		}
	}

	printPhaseReport(result)

	rec := &contextstore.DeploymentRecord{
		RunID:       result.RunID,
		Application: opts.Application,
		Node:        opts.Node,
		VMID:        opts.VMID,
		Hostname:    opts.Hostname,
		Phase:       opts.Phase,
		Status:      string(result.Status),
		Values:      result.Values,
		StartedAt:   result.StartedAt,
		FinishedAt:  result.FinishedAt,
	}
	if err := cs.SaveDeployment(ctx, rec); err != nil {
		logger.Warn("failed to save deployment record", "node", opts.Node, "vmid", opts.VMID, "error", err)
	}

	if runErr != nil {
		return fmt.Errorf("phase %q failed: %w", opts.Phase, runErr)
	}
	return nil
}

// printPhaseReport renders the per-template pipeline report.
func printPhaseReport(result *executor.Result) {
	fmt.Println()
	for _, tpl := range result.Templates {
		marker := " "
		switch tpl.Status {
		case executor.StatusSucceeded:
			marker = "+"
		case executor.StatusFailed:
			marker = "!"
		case executor.StatusSkipped:
			marker = "-"
		}
		fmt.Printf("  %s %-30s %s\n", marker, tpl.Name, tpl.Status)
		if tpl.Error != "" {
			fmt.Printf("      %s\n", tpl.Error)
		}
	}
	fmt.Println()
	fmt.Printf("Phase %s: %s (%s)\n", result.Phase, result.Status,
		result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond))
}

// lockHolder identifies this process in lock metadata.
func lockHolder() string {
	hostname, _ := os.Hostname()
	username := "unknown"
	if u, err := user.Current(); err == nil {
		username = u.Username
	}
	return fmt.Sprintf("%s@%s", username, hostname)
}
