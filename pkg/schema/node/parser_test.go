package node

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oci-lxc/deployer/pkg/errors"
)

func TestParseBytes(t *testing.T) {
	src := `
node "pve1" {
  host             = "10.0.0.10"
  user             = "root"
  private_key_path = "~/.ssh/id_ed25519"
}

node "pve2" {
  host = "10.0.0.11"
  port = 2222
  user = "deployer"
}

node "workstation" {
  local = true
}
`
	inv, err := ParseBytes([]byte(src), "nodes.hcl")
	require.NoError(t, err)
	require.Len(t, inv.Nodes, 3)

	pve1, err := inv.Get("pve1")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.10", pve1.Host)
	assert.Equal(t, "root", pve1.User)
	assert.Equal(t, "~/.ssh/id_ed25519", pve1.PrivateKeyPath)
	assert.Equal(t, 0, pve1.Port)
	assert.False(t, pve1.Local)

	pve2, err := inv.Get("pve2")
	require.NoError(t, err)
	assert.Equal(t, 2222, pve2.Port)

	ws, err := inv.Get("workstation")
	require.NoError(t, err)
	assert.True(t, ws.Local)

	assert.Equal(t, []string{"pve1", "pve2", "workstation"}, inv.Names())
}

func TestParseBytes_HostKeyAttributes(t *testing.T) {
	src := `
node "pinned" {
  host                 = "10.0.0.10"
  host_key_fingerprint = "SHA256:Qn0SGN70cXJsNn8VkMBUHlTTYjAH9RBkeJZBSJUSPmo"
}

node "lab" {
  host     = "10.0.0.11"
  insecure = true
}

node "custom" {
  host             = "10.0.0.12"
  known_hosts_path = "/etc/deployer/known_hosts"
}
`
	inv, err := ParseBytes([]byte(src), "nodes.hcl")
	require.NoError(t, err)

	pinned, err := inv.Get("pinned")
	require.NoError(t, err)
	assert.Equal(t, "SHA256:Qn0SGN70cXJsNn8VkMBUHlTTYjAH9RBkeJZBSJUSPmo", pinned.HostKeyFingerprint)
	assert.False(t, pinned.Insecure)

	lab, err := inv.Get("lab")
	require.NoError(t, err)
	assert.True(t, lab.Insecure)

	custom, err := inv.Get("custom")
	require.NoError(t, err)
	assert.Equal(t, "/etc/deployer/known_hosts", custom.KnownHostsPath)
}

func TestParseBytes_EnvInterpolation(t *testing.T) {
	t.Setenv("PVE_PASSWORD", "hunter2")
	t.Setenv("PVE_HOST", "pve.lab")

	src := `
node "pve1" {
  host     = env.PVE_HOST
  user     = "root"
  password = env.PVE_PASSWORD
}
`
	inv, err := ParseBytes([]byte(src), "nodes.hcl")
	require.NoError(t, err)

	n, err := inv.Get("pve1")
	require.NoError(t, err)
	assert.Equal(t, "pve.lab", n.Host)
	assert.Equal(t, "hunter2", n.Password)
}

func TestParseBytes_SyntaxError(t *testing.T) {
	_, err := ParseBytes([]byte(`node "pve1" {`), "nodes.hcl")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeParse))
}

func TestParseBytes_DuplicateName(t *testing.T) {
	src := `
node "pve1" { host = "a" }
node "pve1" { host = "b" }
`
	_, err := ParseBytes([]byte(src), "nodes.hcl")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeValidation))
	assert.Contains(t, err.Error(), "pve1")
}

func TestParseBytes_RemoteWithoutHost(t *testing.T) {
	_, err := ParseBytes([]byte(`node "pve1" { user = "root" }`), "nodes.hcl")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeValidation))
	assert.Contains(t, err.Error(), "no host")
}

func TestParseBytes_UnknownEnvVar(t *testing.T) {
	src := `node "pve1" { host = env.DEFINITELY_NOT_SET_ANYWHERE_12345 }`
	_, err := ParseBytes([]byte(src), "nodes.hcl")
	require.Error(t, err)
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nodes.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`node "pve1" { host = "10.0.0.10" }`), 0o644))

	inv, err := ParseFile(path)
	require.NoError(t, err)
	assert.Len(t, inv.Nodes, 1)
}

func TestParseFile_Missing(t *testing.T) {
	_, err := ParseFile(filepath.Join(t.TempDir(), "absent.hcl"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))
}

func TestInventory_GetUnknown(t *testing.T) {
	inv := &Inventory{Nodes: []Node{{Name: "pve1", Host: "a"}}}

	_, err := inv.Get("pve9")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))

	var depErr *errors.Error
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, []string{"pve1"}, depErr.Details["known_nodes"])
}

func TestNode_TargetLocal(t *testing.T) {
	n := &Node{Name: "workstation", Local: true}
	tgt, err := n.Target()
	require.NoError(t, err)
	assert.Equal(t, "local", tgt.Describe())
}
