// Package target models the execution targets a deployment pipeline can
// dispatch commands to: the Proxmox host shell (local or over SSH) and the
// guest LXC container reached through the host via pct exec.
//
// Targets are capabilities, not a type hierarchy: anything implementing
// Target can stand in for a real host, which is how the engine tests run
// whole pipelines against scripted in-memory fakes.
package target

import (
	"context"
	"strings"
	"time"
)

// Kind names the execution target a template or command runs on.
type Kind string

const (
	// KindProxmox runs commands on the Proxmox host shell.
	KindProxmox Kind = "proxmox"
	// KindLXC runs commands inside the guest container.
	KindLXC Kind = "lxc"
)

// Valid reports whether k is a recognized target kind.
func (k Kind) Valid() bool {
	return k == KindProxmox || k == KindLXC
}

// Result holds the captured outcome of one command execution.
//
// By convention the script's stdout carries only the machine-readable JSON
// payload the output collector parses; all human-readable progress text goes
// to stderr. The engine enforces nothing here — it just captures both
// channels separately.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// StderrTail returns the last n lines of captured stderr, for attaching to
// execution errors without dumping the full transcript.
func (r *Result) StderrTail(n int) string {
	s := strings.TrimRight(r.Stderr, "\n")
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// Target executes shell scripts against one execution endpoint.
//
// Run feeds the script to the endpoint's POSIX shell on stdin and blocks
// until it exits. A non-zero exit status is not an error: it is reported in
// the Result so the caller can attach script diagnostics. Run returns an
// error only for transport failures and context cancellation.
type Target interface {
	Run(ctx context.Context, script string) (*Result, error)

	// Describe returns a short human-readable identifier for logs and errors.
	Describe() string
}
