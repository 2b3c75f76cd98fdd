package executor

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oci-lxc/deployer/pkg/errors"
	"github.com/oci-lxc/deployer/pkg/schema/application"
	"github.com/oci-lxc/deployer/pkg/store"
	"github.com/oci-lxc/deployer/pkg/target"
)

// fakeTarget returns scripted results keyed by substring match against the
// expanded script, and records every script it ran.
type fakeTarget struct {
	name    string
	scripts []string
	respond func(script string) *target.Result
	err     error
}

func (f *fakeTarget) Run(ctx context.Context, script string) (*target.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.scripts = append(f.scripts, script)
	if f.err != nil {
		return nil, f.err
	}
	if f.respond != nil {
		if res := f.respond(script); res != nil {
			return res, nil
		}
	}
	return &target.Result{ExitCode: 0}, nil
}

func (f *fakeTarget) Describe() string { return f.name }

func dispatcher(host, guest *fakeTarget) Dispatcher {
	return Dispatcher{Host: host, Guest: guest}
}

func seededStore() *store.Store {
	st := store.New()
	st.Set("vm_id", "101")
	st.Set("hostname", "web01")
	return st
}

func TestRun_OutputChaining(t *testing.T) {
	host := &fakeTarget{
		name: "host",
		respond: func(script string) *target.Result {
			if script == "emit-ip" {
				return &target.Result{Stdout: `{"id": "container_ip", "value": "10.0.0.42"}`}
			}
			return nil
		},
	}
	guest := &fakeTarget{name: "guest"}

	templates := []application.Template{
		{
			Name:     "discover",
			Outputs:  []application.Output{{ID: "container_ip"}},
			Commands: []application.Command{{Script: "emit-ip"}},
		},
		{
			Name:      "announce",
			ExecuteOn: target.KindLXC,
			Commands:  []application.Command{{Script: "echo {{ container_ip }} > /etc/announce"}},
		},
	}

	exec := New(dispatcher(host, guest), nil)
	result, err := exec.Run(context.Background(), templates, Options{
		Application: "app", Phase: "install", Store: seededStore(),
	})
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, result.Status)
	require.Len(t, guest.scripts, 1)
	assert.Equal(t, "echo 10.0.0.42 > /etc/announce", guest.scripts[0])
	assert.Equal(t, "10.0.0.42", result.Values["container_ip"])
}

func TestRun_WithinTemplateChaining(t *testing.T) {
	host := &fakeTarget{
		name: "host",
		respond: func(script string) *target.Result {
			if script == "generate" {
				return &target.Result{Stdout: `{"id": "token", "value": "abc123"}`}
			}
			return nil
		},
	}

	templates := []application.Template{
		{
			Name:    "register",
			Outputs: []application.Output{{ID: "token"}},
			Commands: []application.Command{
				{Script: "generate"},
				{Script: "register --token {{ token }}"},
			},
		},
	}

	exec := New(dispatcher(host, nil), nil)
	_, err := exec.Run(context.Background(), templates, Options{Store: seededStore()})
	require.NoError(t, err)

	require.Len(t, host.scripts, 2)
	assert.Equal(t, "register --token abc123", host.scripts[1])
}

func TestRun_FailFast(t *testing.T) {
	host := &fakeTarget{
		name: "host",
		respond: func(script string) *target.Result {
			if script == "fail-here" {
				return &target.Result{ExitCode: 3, Stderr: "boom\n"}
			}
			return nil
		},
	}

	templates := []application.Template{
		{Name: "first", Commands: []application.Command{{Script: "ok"}}},
		{Name: "second", Commands: []application.Command{{Script: "fail-here"}}},
		{Name: "third", Commands: []application.Command{{Script: "never"}}},
	}

	exec := New(dispatcher(host, nil), nil)
	result, err := exec.Run(context.Background(), templates, Options{Store: seededStore()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeExecution))

	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, StatusSucceeded, result.Templates[0].Status)
	assert.Equal(t, StatusFailed, result.Templates[1].Status)
	assert.Equal(t, StatusPending, result.Templates[2].Status)
	assert.NotContains(t, host.scripts, "never")

	// The failing command is still recorded, with its exit code.
	require.Len(t, result.Templates[1].Commands, 1)
	assert.Equal(t, 3, result.Templates[1].Commands[0].ExitCode)
}

func TestRun_ConditionSkip(t *testing.T) {
	host := &fakeTarget{name: "host"}

	templates := []application.Template{
		{Name: "gated", If: `edition == "ee"`, Commands: []application.Command{{Script: "enterprise-only"}}},
		{Name: "always", Commands: []application.Command{{Script: "common"}}},
	}

	st := seededStore()
	st.Set("edition", "ce")

	exec := New(dispatcher(host, nil), nil)
	result, err := exec.Run(context.Background(), templates, Options{Store: st})
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, result.Status)
	assert.Equal(t, StatusSkipped, result.Templates[0].Status)
	assert.Equal(t, StatusSucceeded, result.Templates[1].Status)
	assert.Equal(t, []string{"common"}, host.scripts)
}

func TestRun_SkippedTemplateMissingParameterDoesNotFail(t *testing.T) {
	host := &fakeTarget{name: "host"}

	templates := []application.Template{
		{
			Name:       "gated",
			If:         `enable_extra == "yes"`,
			Parameters: []application.Parameter{{ID: "extra_token", Required: true}},
			Commands:   []application.Command{{Script: "use {{ extra_token }}"}},
		},
		{Name: "always", Commands: []application.Command{{Script: "common"}}},
	}

	exec := New(dispatcher(host, nil), nil)
	result, err := exec.Run(context.Background(), templates, Options{Store: seededStore()})
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, result.Status)
	assert.Equal(t, StatusSkipped, result.Templates[0].Status)
	assert.Equal(t, StatusSucceeded, result.Templates[1].Status)
	assert.Equal(t, []string{"common"}, host.scripts)
}

func TestRun_SkippedTemplateLeavesStoreUntouched(t *testing.T) {
	host := &fakeTarget{name: "host"}

	templates := []application.Template{
		{
			Name:       "gated",
			If:         `edition == "ee"`,
			Parameters: []application.Parameter{{ID: "mode", Default: "fast"}},
			Commands:   []application.Command{{Script: "run {{ mode }}"}},
		},
	}

	st := seededStore()
	exec := New(dispatcher(host, nil), nil)
	result, err := exec.Run(context.Background(), templates, Options{Store: st})
	require.NoError(t, err)

	assert.Equal(t, StatusSkipped, result.Templates[0].Status)
	assert.False(t, st.Has("mode"))
	assert.NotContains(t, result.Values, "mode")
}

func TestRun_ConditionSeesBoundParameters(t *testing.T) {
	host := &fakeTarget{name: "host"}

	templates := []application.Template{
		{
			Name:       "gated",
			If:         `mode == "fast"`,
			Parameters: []application.Parameter{{ID: "mode", Default: "fast"}},
			Commands:   []application.Command{{Script: "run-fast"}},
		},
	}

	exec := New(dispatcher(host, nil), nil)
	result, err := exec.Run(context.Background(), templates, Options{Store: seededStore()})
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, result.Templates[0].Status)
}

func TestRun_MissingRequiredParameter(t *testing.T) {
	host := &fakeTarget{name: "host"}

	templates := []application.Template{
		{
			Name:       "needs-input",
			Parameters: []application.Parameter{{ID: "edition", Required: true}},
			Commands:   []application.Command{{Script: "echo {{ edition }}"}},
		},
	}

	exec := New(dispatcher(host, nil), nil)
	result, err := exec.Run(context.Background(), templates, Options{Store: seededStore()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeMissingParameter))
	assert.Equal(t, StatusFailed, result.Status)
	assert.Empty(t, host.scripts)
}

func TestRun_OverrideReachesScript(t *testing.T) {
	host := &fakeTarget{name: "host"}

	templates := []application.Template{
		{
			Name:       "configure",
			Parameters: []application.Parameter{{ID: "edition", Default: "ce"}},
			Commands:   []application.Command{{Script: "install --edition {{ edition }}"}},
		},
	}

	exec := New(dispatcher(host, nil), nil)
	_, err := exec.Run(context.Background(), templates, Options{
		Store:     seededStore(),
		Overrides: map[string]string{"edition": "ee"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"install --edition ee"}, host.scripts)
}

func TestRun_PerCommandTargetOverride(t *testing.T) {
	host := &fakeTarget{name: "host"}
	guest := &fakeTarget{name: "guest"}

	templates := []application.Template{
		{
			Name:      "mixed",
			ExecuteOn: target.KindLXC,
			Commands: []application.Command{
				{Script: "inside-guest"},
				{Script: "on-host", ExecuteOn: target.KindProxmox},
			},
		},
	}

	exec := New(dispatcher(host, guest), nil)
	_, err := exec.Run(context.Background(), templates, Options{Store: seededStore()})
	require.NoError(t, err)

	assert.Equal(t, []string{"inside-guest"}, guest.scripts)
	assert.Equal(t, []string{"on-host"}, host.scripts)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	host := &fakeTarget{
		name: "host",
		respond: func(script string) *target.Result {
			cancel()
			return &target.Result{ExitCode: 0}
		},
	}

	templates := []application.Template{
		{Name: "first", Commands: []application.Command{{Script: "ok"}}},
		{Name: "second", Commands: []application.Command{{Script: "never"}}},
	}

	exec := New(dispatcher(host, nil), nil)
	result, err := exec.Run(ctx, templates, Options{Store: seededStore()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeCancelled))
	assert.Equal(t, StatusCancelled, result.Status)
	assert.Equal(t, StatusCancelled, result.Templates[1].Status)
}

func TestRun_MalformedOutputFailsTemplate(t *testing.T) {
	host := &fakeTarget{
		name: "host",
		respond: func(script string) *target.Result {
			return &target.Result{Stdout: "definitely not json"}
		},
	}

	templates := []application.Template{
		{
			Name:     "emit",
			Outputs:  []application.Output{{ID: "value"}},
			Commands: []application.Command{{Script: "emit"}},
		},
	}

	exec := New(dispatcher(host, nil), nil)
	result, err := exec.Run(context.Background(), templates, Options{Store: seededStore()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidOutput))
	assert.Equal(t, StatusFailed, result.Templates[0].Status)
}

func TestRun_NoGuestConfigured(t *testing.T) {
	host := &fakeTarget{name: "host"}

	templates := []application.Template{
		{Name: "guest-only", ExecuteOn: target.KindLXC, Commands: []application.Command{{Script: "inside"}}},
	}

	exec := New(Dispatcher{Host: host}, nil)
	result, err := exec.Run(context.Background(), templates, Options{Store: seededStore()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeTarget))
	assert.Equal(t, StatusFailed, result.Status)
}

func TestRun_ExecutionErrorCarriesStderrTail(t *testing.T) {
	var lines string
	for i := 1; i <= 30; i++ {
		lines += fmt.Sprintf("line %d\n", i)
	}
	host := &fakeTarget{
		name: "host",
		respond: func(script string) *target.Result {
			return &target.Result{ExitCode: 1, Stderr: lines}
		},
	}

	templates := []application.Template{
		{Name: "noisy", Commands: []application.Command{{Script: "fail"}}},
	}

	exec := New(dispatcher(host, nil), nil)
	_, err := exec.Run(context.Background(), templates, Options{Store: seededStore(), StderrTail: 5})
	require.Error(t, err)

	depErr := err.(*errors.Error)
	tail := depErr.Details["stderr"].(string)
	assert.Contains(t, tail, "line 30")
	assert.NotContains(t, tail, "line 24")
}
