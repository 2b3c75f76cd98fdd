// Package engine wires the definition loader, parameter binder, condition
// gates, and executor into the deployment pipeline entry point.
package engine

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/oci-lxc/deployer/pkg/engine/executor"
	"github.com/oci-lxc/deployer/pkg/errors"
	"github.com/oci-lxc/deployer/pkg/schema/application"
	"github.com/oci-lxc/deployer/pkg/store"
	"github.com/oci-lxc/deployer/pkg/target"
)

// Engine runs application lifecycle phases against a Proxmox host.
type Engine struct {
	loader *application.Loader
	logger *slog.Logger
}

// New creates an engine reading definitions through the given loader.
func New(loader *application.Loader, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{loader: loader, logger: logger}
}

// RunOptions describes one phase invocation.
type RunOptions struct {
	// ApplicationID selects the definition from the catalog.
	ApplicationID string
	// Phase selects the template list to run (install, update, ...).
	Phase string
	// Host is the Proxmox host target; guest commands are dispatched through
	// it via pct exec into VMID.
	Host target.Target
	// VMID is the guest container id.
	VMID int
	// Hostname is the guest's hostname, seeded as a builtin.
	Hostname string
	// Node is the Proxmox node name, seeded as a builtin.
	Node string
	// Overrides are caller-supplied parameter values. They take precedence
	// over store values and declared defaults.
	Overrides map[string]string
	// Values pre-seeds the value store, typically with the outputs of a
	// previous phase so later phases can reference them.
	Values map[string]string
}

// Run loads the application, seeds the builtin values, and executes the
// requested phase's pipeline. The run id ties log lines and the result
// report together.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (*executor.Result, error) {
	runID := uuid.New().String()
	logger := e.logger.With("run_id", runID)

	def, err := e.loader.Load(opts.ApplicationID)
	if err != nil {
		return nil, err
	}

	templates, ok := def.Phase(opts.Phase)
	if !ok {
		return nil, errors.NotFoundError("phase", opts.Phase).
			WithDetail("application", opts.ApplicationID).
			WithDetail("defined_phases", def.PhaseNames())
	}

	st := store.New()
	for k, v := range opts.Values {
		st.Set(k, v)
	}
	st.Set("application_id", def.ID)
	st.Set("vm_id", strconv.Itoa(opts.VMID))
	st.Set("hostname", opts.Hostname)
	st.Set("node", opts.Node)

	logger.Info("starting phase",
		"application", def.ID,
		"phase", opts.Phase,
		"vm_id", opts.VMID,
		"templates", len(templates))

	exec := executor.New(executor.NewDispatcher(opts.Host, opts.VMID), logger)
	result, runErr := exec.Run(ctx, templates, executor.Options{
		Application: def.ID,
		Phase:       opts.Phase,
		Overrides:   opts.Overrides,
		Store:       st,
	})
	result.RunID = runID

	logger.Info("phase finished",
		"application", def.ID,
		"phase", opts.Phase,
		"status", result.Status,
		"duration", result.FinishedAt.Sub(result.StartedAt))
	return result, runErr
}

// Validate loads and structurally validates an application without running
// anything. The loader already validates on load; this is the explicit
// entry point for the validate command.
func (e *Engine) Validate(id string) (*application.Definition, error) {
	return e.loader.Load(id)
}
