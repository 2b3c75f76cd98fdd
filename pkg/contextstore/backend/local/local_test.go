package local

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oci-lxc/deployer/pkg/contextstore/backend"
)

func newTestBackend(t *testing.T) (backend.Backend, string) {
	t.Helper()
	dir := t.TempDir()
	b, err := NewBackend(map[string]string{"path": dir})
	require.NoError(t, err)
	return b, dir
}

func TestBackend_ReadWrite(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBackend(t)

	require.NoError(t, b.Write(ctx, "nodes/pve1/deployments/101.json", bytes.NewReader([]byte("data"))))

	rc, err := b.Read(ctx, "nodes/pve1/deployments/101.json")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
}

func TestBackend_ReadMissing(t *testing.T) {
	b, _ := newTestBackend(t)

	_, err := b.Read(context.Background(), "nope.json")
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestBackend_WriteLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	b, dir := newTestBackend(t)

	require.NoError(t, b.Write(ctx, "rec.json", bytes.NewReader([]byte("v1"))))
	require.NoError(t, b.Write(ctx, "rec.json", bytes.NewReader([]byte("v2"))))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "rec.json", entries[0].Name())
}

func TestBackend_DeleteMissingIsNoError(t *testing.T) {
	b, _ := newTestBackend(t)
	assert.NoError(t, b.Delete(context.Background(), "ghost.json"))
}

func TestBackend_ListAndExists(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBackend(t)

	require.NoError(t, b.Write(ctx, "nodes/pve1/deployments/101.json", bytes.NewReader([]byte("a"))))
	require.NoError(t, b.Write(ctx, "nodes/pve1/deployments/210.json", bytes.NewReader([]byte("b"))))
	require.NoError(t, b.Write(ctx, "nodes/pve2/deployments/150.json", bytes.NewReader([]byte("c"))))

	paths, err := b.List(ctx, "nodes/pve1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"nodes/pve1/deployments/101.json",
		"nodes/pve1/deployments/210.json",
	}, paths)

	paths, err = b.List(ctx, "nodes/pve3")
	require.NoError(t, err)
	assert.Empty(t, paths)

	ok, err := b.Exists(ctx, "nodes/pve2/deployments/150.json")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = b.Exists(ctx, "nodes/pve2/deployments/151.json")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBackend_LockConflict(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBackend(t)

	lock, err := b.Lock(ctx, "nodes/pve1", backend.LockInfo{Who: "alice", Operation: "install"})
	require.NoError(t, err)
	assert.NotEmpty(t, lock.ID())

	_, err = b.Lock(ctx, "nodes/pve1", backend.LockInfo{Who: "bob"})
	require.Error(t, err)
	var lockErr *backend.LockError
	require.ErrorAs(t, err, &lockErr)
	assert.Equal(t, "alice", lockErr.Info.Who)

	require.NoError(t, lock.Unlock(ctx))
	relock, err := b.Lock(ctx, "nodes/pve1", backend.LockInfo{Who: "bob"})
	require.NoError(t, err)
	require.NoError(t, relock.Unlock(ctx))
}

func TestBackend_StaleLockIsStolen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	// A lock left behind by a crashed run, well past the stale age.
	stale := backend.LockInfo{
		ID:      "dead-run",
		Path:    "nodes/pve1",
		Who:     "crashed@host",
		Created: time.Now().Add(-2 * backend.StaleLockAge),
	}
	data, err := json.Marshal(stale)
	require.NoError(t, err)
	lockPath := filepath.Join(dir, "nodes", "pve1.lock")
	require.NoError(t, os.MkdirAll(filepath.Dir(lockPath), 0o755))
	require.NoError(t, os.WriteFile(lockPath, data, 0o644))

	b, err := NewBackend(map[string]string{"path": dir})
	require.NoError(t, err)

	lock, err := b.Lock(ctx, "nodes/pve1", backend.LockInfo{Who: "fresh@host"})
	require.NoError(t, err)
	assert.Equal(t, "fresh@host", lock.Info().Who)
	require.NoError(t, lock.Unlock(ctx))
}

func TestBackend_FreshForeignLockIsRespected(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	held := backend.LockInfo{
		ID:      "other-process",
		Path:    "nodes/pve1",
		Who:     "other@host",
		Created: time.Now(),
	}
	data, err := json.Marshal(held)
	require.NoError(t, err)
	lockPath := filepath.Join(dir, "nodes", "pve1.lock")
	require.NoError(t, os.MkdirAll(filepath.Dir(lockPath), 0o755))
	require.NoError(t, os.WriteFile(lockPath, data, 0o644))

	b, err := NewBackend(map[string]string{"path": dir})
	require.NoError(t, err)

	_, err = b.Lock(ctx, "nodes/pve1", backend.LockInfo{Who: "me@host"})
	require.Error(t, err)
	var lockErr *backend.LockError
	require.ErrorAs(t, err, &lockErr)
	assert.Equal(t, "other@host", lockErr.Info.Who)
}
