package target

import (
	"context"
	"fmt"
	"strings"
)

// LXC executes scripts inside a guest container by re-dispatching through a
// host target with pct exec. The guest never needs its own connection: the
// script body rides a quoted heredoc on the host shell's stdin.
type LXC struct {
	host Target
	vmid int
}

// NewLXC wraps a Proxmox host target so scripts run inside container vmid.
func NewLXC(host Target, vmid int) *LXC {
	return &LXC{host: host, vmid: vmid}
}

func (t *LXC) Describe() string {
	return fmt.Sprintf("lxc:%d via %s", t.vmid, t.host.Describe())
}

// Run wraps the script in a pct exec invocation on the host. The heredoc is
// quoted so the host shell performs no expansion on the guest script.
func (t *LXC) Run(ctx context.Context, script string) (*Result, error) {
	marker := heredocMarker(script)
	wrapped := fmt.Sprintf("pct exec %d -- /bin/sh -s <<'%s'\n%s\n%s\n", t.vmid, marker, strings.TrimRight(script, "\n"), marker)
	return t.host.Run(ctx, wrapped)
}

// heredocMarker returns a delimiter guaranteed not to occur at the start of
// any line in the script.
func heredocMarker(script string) string {
	marker := "LXC_DEPLOYER_EOF"
	for strings.Contains(script, marker) {
		marker += "_X"
	}
	return marker
}
