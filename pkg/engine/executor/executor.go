// Package executor runs a phase's template pipeline against its execution
// targets, one template at a time, fail-fast.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oci-lxc/deployer/pkg/engine/binder"
	"github.com/oci-lxc/deployer/pkg/engine/condition"
	"github.com/oci-lxc/deployer/pkg/engine/output"
	"github.com/oci-lxc/deployer/pkg/errors"
	"github.com/oci-lxc/deployer/pkg/schema/application"
	"github.com/oci-lxc/deployer/pkg/store"
	"github.com/oci-lxc/deployer/pkg/target"
)

// Status tracks a template (or the whole pipeline) through its lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSkipped   Status = "skipped"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusSkipped, StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CommandRecord captures one command's execution for the pipeline report.
type CommandRecord struct {
	Index    int           `json:"index"`
	Target   target.Kind   `json:"target"`
	Script   string        `json:"script"`
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	Duration time.Duration `json:"duration"`
}

// TemplateRecord captures one template's run: its terminal status, each
// executed command, and the output values it settled into the store.
type TemplateRecord struct {
	Name     string            `json:"name"`
	Status   Status            `json:"status"`
	Commands []CommandRecord   `json:"commands,omitempty"`
	Outputs  map[string]string `json:"outputs,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// Result is the full pipeline report for one phase run.
type Result struct {
	RunID       string            `json:"run_id,omitempty"`
	Application string            `json:"application"`
	Phase       string            `json:"phase"`
	Status      Status            `json:"status"`
	Templates   []TemplateRecord  `json:"templates"`
	Values      map[string]string `json:"values"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
}

// Dispatcher maps a template's declared target kind to a live execution
// target. The guest target is usually the host wrapped in pct exec.
type Dispatcher struct {
	Host  target.Target
	Guest target.Target
}

// NewDispatcher builds the standard pair: scripts for the Proxmox host run
// on host directly, scripts for the guest run through pct exec into vmid.
func NewDispatcher(host target.Target, vmid int) Dispatcher {
	return Dispatcher{
		Host:  host,
		Guest: target.NewLXC(host, vmid),
	}
}

// For returns the target for the given kind.
func (d Dispatcher) For(kind target.Kind) (target.Target, error) {
	switch kind {
	case target.KindProxmox:
		return d.Host, nil
	case target.KindLXC:
		if d.Guest == nil {
			return nil, errors.New(errors.ErrCodeTarget, "no guest container target is configured")
		}
		return d.Guest, nil
	}
	return nil, errors.New(errors.ErrCodeTarget, fmt.Sprintf("unknown execution target %q", kind))
}

// Options configures one pipeline run.
type Options struct {
	Application string
	Phase       string
	Overrides   map[string]string
	Store       *store.Store
	StderrTail  int
}

// Executor drives template pipelines.
type Executor struct {
	targets Dispatcher
	logger  *slog.Logger
}

// New creates an executor. A nil logger falls back to slog's default.
func New(targets Dispatcher, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{targets: targets, logger: logger}
}

// Run executes the templates in order against the pipeline's store.
//
// The first failure stops the pipeline: the failing template is recorded as
// failed and every later template stays pending. A skipped template (gate
// evaluated false) does not stop anything. The returned result is always
// populated, alongside the error that stopped the run, if any.
func (e *Executor) Run(ctx context.Context, templates []application.Template, opts Options) (*Result, error) {
	st := opts.Store
	if st == nil {
		st = store.New()
	}
	if opts.StderrTail == 0 {
		opts.StderrTail = 20
	}

	result := &Result{
		Application: opts.Application,
		Phase:       opts.Phase,
		Status:      StatusRunning,
		Templates:   make([]TemplateRecord, len(templates)),
		StartedAt:   time.Now(),
	}
	for i := range templates {
		result.Templates[i] = TemplateRecord{Name: templates[i].Name, Status: StatusPending}
	}

	var runErr error
	for i := range templates {
		tpl := &templates[i]
		rec := &result.Templates[i]

		if err := ctx.Err(); err != nil {
			runErr = errors.Wrap(errors.ErrCodeCancelled, "pipeline cancelled", err)
			rec.Status = StatusCancelled
			rec.Error = runErr.Error()
			break
		}

		rec.Status = StatusRunning
		e.logger.Info("running template",
			"application", opts.Application,
			"phase", opts.Phase,
			"template", tpl.Name,
			"position", fmt.Sprintf("%d/%d", i+1, len(templates)))

		if err := e.runTemplate(ctx, tpl, rec, st, opts); err != nil {
			if errors.Is(err, errors.ErrCodeCancelled) {
				rec.Status = StatusCancelled
			} else {
				rec.Status = StatusFailed
			}
			rec.Error = err.Error()
			runErr = err
			e.logger.Error("template failed", "template", tpl.Name, "error", err)
			break
		}

		if rec.Status == StatusSkipped {
			e.logger.Info("template skipped", "template", tpl.Name, "condition", tpl.If)
			continue
		}
		rec.Status = StatusSucceeded
	}

	result.FinishedAt = time.Now()
	result.Values = st.Snapshot()
	switch {
	case runErr == nil:
		result.Status = StatusSucceeded
	case errors.Is(runErr, errors.ErrCodeCancelled):
		result.Status = StatusCancelled
	default:
		result.Status = StatusFailed
	}
	return result, runErr
}

func (e *Executor) runTemplate(ctx context.Context, tpl *application.Template, rec *TemplateRecord, st *store.Store, opts Options) error {
	// Bind into a scratch copy first: the gate gets to see the template's
	// own parameters, but a skipped template must leave the shared store
	// untouched and must not fail on an unresolvable parameter.
	scratch := st.Clone()
	bindErr := binder.Bind(tpl, opts.Overrides, scratch)

	if tpl.If != "" {
		expr, err := condition.Parse(tpl.If)
		if err != nil {
			return errors.ConditionError(tpl.If, err)
		}
		ok, err := expr.Eval(scratch.Get)
		if err != nil {
			return errors.ConditionError(tpl.If, err)
		}
		if !ok {
			rec.Status = StatusSkipped
			return nil
		}
	}

	if bindErr != nil {
		return bindErr
	}
	for _, k := range scratch.Keys() {
		v, _ := scratch.Get(k)
		st.Set(k, v)
	}

	captured := make(map[string]string)
	for j := range tpl.Commands {
		cmdRec, cmdCaptured, err := e.runCommand(ctx, tpl, j, st, opts)
		if cmdRec != nil {
			rec.Commands = append(rec.Commands, *cmdRec)
		}
		if err != nil {
			return err
		}
		// Later commands in this template may reference these already.
		for id, value := range cmdCaptured {
			captured[id] = value
			st.Set(id, value)
		}
	}

	if err := output.Finalize(tpl, captured, st); err != nil {
		return err
	}

	rec.Outputs = make(map[string]string, len(tpl.Outputs))
	for _, out := range tpl.Outputs {
		if v, ok := st.Get(out.ID); ok {
			rec.Outputs[out.ID] = v
		}
	}
	return nil
}

func (e *Executor) runCommand(ctx context.Context, tpl *application.Template, j int, st *store.Store, opts Options) (*CommandRecord, map[string]string, error) {
	script, err := binder.Expand(tpl.Commands[j].Script, st, tpl.Name, j)
	if err != nil {
		return nil, nil, err
	}

	kind := tpl.CommandTarget(j)
	tgt, err := e.targets.For(kind)
	if err != nil {
		return nil, nil, err
	}

	e.logger.Debug("dispatching command",
		"template", tpl.Name, "command", j, "target", tgt.Describe())

	res, err := tgt.Run(ctx, script)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, errors.Wrap(errors.ErrCodeCancelled, "pipeline cancelled", ctx.Err())
		}
		return nil, nil, errors.TargetError(tgt.Describe(), err)
	}

	cmdRec := &CommandRecord{
		Index:    j,
		Target:   kind,
		Script:   script,
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		Duration: res.Duration,
	}

	if res.ExitCode != 0 {
		return cmdRec, nil, errors.ExecutionError(tpl.Name, j, res.ExitCode, res.StderrTail(opts.StderrTail))
	}

	captured, err := output.Parse(tpl, res.Stdout)
	if err != nil {
		return cmdRec, nil, err
	}
	return cmdRec, captured, nil
}
