package target

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind_Valid(t *testing.T) {
	assert.True(t, KindProxmox.Valid())
	assert.True(t, KindLXC.Valid())
	assert.False(t, Kind("").Valid())
	assert.False(t, Kind("vm").Valid())
}

func TestResult_StderrTail(t *testing.T) {
	r := &Result{Stderr: "one\ntwo\nthree\nfour\n"}

	assert.Equal(t, "three\nfour", r.StderrTail(2))
	assert.Equal(t, "one\ntwo\nthree\nfour", r.StderrTail(10))
	assert.Equal(t, "", (&Result{}).StderrTail(5))
}

// recordingTarget captures the script a wrapper hands to its host.
type recordingTarget struct {
	script string
	result *Result
}

func (r *recordingTarget) Run(ctx context.Context, script string) (*Result, error) {
	r.script = script
	if r.result != nil {
		return r.result, nil
	}
	return &Result{}, nil
}

func (r *recordingTarget) Describe() string { return "recording" }

func TestLXC_WrapsScriptInHeredoc(t *testing.T) {
	host := &recordingTarget{}
	guest := NewLXC(host, 101)

	_, err := guest.Run(context.Background(), "apt-get install -y nginx\n")
	require.NoError(t, err)

	assert.Equal(t,
		"pct exec 101 -- /bin/sh -s <<'LXC_DEPLOYER_EOF'\napt-get install -y nginx\nLXC_DEPLOYER_EOF\n",
		host.script)
	assert.Equal(t, "lxc:101 via recording", guest.Describe())
}

func TestLXC_MarkerAvoidsCollision(t *testing.T) {
	host := &recordingTarget{}
	guest := NewLXC(host, 7)

	_, err := guest.Run(context.Background(), "echo LXC_DEPLOYER_EOF")
	require.NoError(t, err)

	assert.Contains(t, host.script, "<<'LXC_DEPLOYER_EOF_X'")
	assert.True(t, strings.HasSuffix(host.script, "\nLXC_DEPLOYER_EOF_X\n"))
}

func TestLXC_PassesResultThrough(t *testing.T) {
	host := &recordingTarget{result: &Result{Stdout: `{"id":"x","value":"1"}`, ExitCode: 0}}
	guest := NewLXC(host, 7)

	res, err := guest.Run(context.Background(), "emit")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"x","value":"1"}`, res.Stdout)
}

func TestLocal_RunsScript(t *testing.T) {
	local := NewLocal()

	res, err := local.Run(context.Background(), "echo out; echo err >&2")
	require.NoError(t, err)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
	assert.Equal(t, 0, res.ExitCode)
}

func TestLocal_NonZeroExitIsNotAnError(t *testing.T) {
	local := NewLocal()

	res, err := local.Run(context.Background(), "exit 3")
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
}

func TestLocal_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	local := NewLocal()
	_, err := local.Run(ctx, "sleep 5")
	require.Error(t, err)
}
