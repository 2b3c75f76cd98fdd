package contextstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oci-lxc/deployer/pkg/contextstore/backend"
	"github.com/oci-lxc/deployer/pkg/contextstore/backend/local"
	"github.com/oci-lxc/deployer/pkg/errors"
)

func testStore(t *testing.T, passphrase string) *Store {
	t.Helper()
	b, err := local.NewBackend(map[string]string{"path": t.TempDir()})
	require.NoError(t, err)
	sealer, err := NewSealer(passphrase)
	require.NoError(t, err)
	return New(b, sealer)
}

func sampleRecord(vmid int) *DeploymentRecord {
	return &DeploymentRecord{
		RunID:       "run-1",
		Application: "nginx",
		Node:        "pve1",
		VMID:        vmid,
		Hostname:    "web01",
		Phase:       "install",
		Status:      "succeeded",
		Values:      map[string]string{"container_ip": "10.0.0.42"},
		StartedAt:   time.Now().Add(-time.Minute).UTC().Truncate(time.Second),
		FinishedAt:  time.Now().UTC().Truncate(time.Second),
	}
}

func TestStore_DeploymentRoundTrip(t *testing.T) {
	ctx := context.Background()
	cs := testStore(t, "")

	require.NoError(t, cs.SaveDeployment(ctx, sampleRecord(101)))

	rec, err := cs.GetDeployment(ctx, "pve1", 101)
	require.NoError(t, err)
	assert.Equal(t, "nginx", rec.Application)
	assert.Equal(t, "10.0.0.42", rec.Values["container_ip"])
}

func TestStore_GetDeploymentNotFound(t *testing.T) {
	cs := testStore(t, "")

	_, err := cs.GetDeployment(context.Background(), "pve1", 999)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))
}

func TestStore_SaveReplaces(t *testing.T) {
	ctx := context.Background()
	cs := testStore(t, "")

	require.NoError(t, cs.SaveDeployment(ctx, sampleRecord(101)))

	updated := sampleRecord(101)
	updated.Phase = "update"
	require.NoError(t, cs.SaveDeployment(ctx, updated))

	rec, err := cs.GetDeployment(ctx, "pve1", 101)
	require.NoError(t, err)
	assert.Equal(t, "update", rec.Phase)

	recs, err := cs.ListDeployments(ctx, "pve1")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestStore_ListSortedByVMID(t *testing.T) {
	ctx := context.Background()
	cs := testStore(t, "")

	for _, vmid := range []int{210, 101, 150} {
		require.NoError(t, cs.SaveDeployment(ctx, sampleRecord(vmid)))
	}

	recs, err := cs.ListDeployments(ctx, "pve1")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, []int{101, 150, 210}, []int{recs[0].VMID, recs[1].VMID, recs[2].VMID})
}

func TestStore_DeleteDeployment(t *testing.T) {
	ctx := context.Background()
	cs := testStore(t, "")

	require.NoError(t, cs.SaveDeployment(ctx, sampleRecord(101)))
	require.NoError(t, cs.DeleteDeployment(ctx, "pve1", 101))

	_, err := cs.GetDeployment(ctx, "pve1", 101)
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))
}

func TestStore_SealedRecordsAreOpaqueOnDisk(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	b, err := local.NewBackend(map[string]string{"path": dir})
	require.NoError(t, err)
	sealer, err := NewSealer("passphrase")
	require.NoError(t, err)
	cs := New(b, sealer)

	require.NoError(t, cs.SaveDeployment(ctx, sampleRecord(101)))

	raw, err := os.ReadFile(filepath.Join(dir, "nodes", "pve1", "deployments", "101.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "nginx")

	rec, err := cs.GetDeployment(ctx, "pve1", 101)
	require.NoError(t, err)
	assert.Equal(t, "nginx", rec.Application)
}

func TestStore_Secrets(t *testing.T) {
	ctx := context.Background()
	cs := testStore(t, "passphrase")

	require.NoError(t, cs.SetSecret(ctx, "deployment-ca", []byte("pem material")))

	value, err := cs.GetSecret(ctx, "deployment-ca")
	require.NoError(t, err)
	assert.Equal(t, []byte("pem material"), value)

	require.NoError(t, cs.DeleteSecret(ctx, "deployment-ca"))
	_, err = cs.GetSecret(ctx, "deployment-ca")
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))
}

func TestStore_LockNode(t *testing.T) {
	ctx := context.Background()
	cs := testStore(t, "")

	lock, err := cs.LockNode(ctx, "pve1", "alice@laptop", "install")
	require.NoError(t, err)

	_, err = cs.LockNode(ctx, "pve1", "bob@desktop", "update")
	require.Error(t, err)

	// Another node is unaffected.
	other, err := cs.LockNode(ctx, "pve2", "bob@desktop", "update")
	require.NoError(t, err)
	require.NoError(t, other.Unlock(ctx))

	require.NoError(t, lock.Unlock(ctx))
	relock, err := cs.LockNode(ctx, "pve1", "bob@desktop", "update")
	require.NoError(t, err)
	require.NoError(t, relock.Unlock(ctx))
}

func TestNewFromConfig(t *testing.T) {
	cs, err := NewFromConfig(backend.Config{
		Type:    "local",
		Options: map[string]string{"path": t.TempDir()},
	}, "")
	require.NoError(t, err)
	assert.Equal(t, "local", cs.Backend().Type())
}

func TestNewFromConfig_UnknownBackend(t *testing.T) {
	_, err := NewFromConfig(backend.Config{Type: "punchcards"}, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeBackend))
}
