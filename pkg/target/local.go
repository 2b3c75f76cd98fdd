package target

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

// Local executes scripts on the machine the engine itself runs on. This is
// the proxmox target when lxc-deployer is installed directly on the PVE node.
type Local struct {
	// Shell is the interpreter fed the script on stdin. Defaults to /bin/sh.
	Shell string
}

// NewLocal creates a local shell target.
func NewLocal() *Local {
	return &Local{Shell: "/bin/sh"}
}

func (t *Local) Describe() string {
	return "local"
}

// Run executes the script with the configured shell, capturing stdout and
// stderr separately. Context cancellation kills the process.
func (t *Local) Run(ctx context.Context, script string) (*Result, error) {
	shell := t.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	start := time.Now()

	cmd := exec.CommandContext(ctx, shell, "-s")
	cmd.Stdin = strings.NewReader(script)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, err
	}

	return result, nil
}
