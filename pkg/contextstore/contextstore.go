// Package contextstore persists per-host deployment context: which
// applications were deployed into which containers, the values their
// pipelines produced, and sealed secret material such as the deployment CA.
//
// Records live behind a pluggable blob backend (local disk by default, S3,
// GCS, Azure Blob, or AWS Secrets Manager) and are optionally encrypted at
// rest with a passphrase-derived key.
package contextstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"

	"github.com/oci-lxc/deployer/pkg/contextstore/backend"
	"github.com/oci-lxc/deployer/pkg/errors"
)

// Store provides high-level context operations over a backend.
type Store struct {
	backend backend.Backend
	sealer  *Sealer
}

// New creates a store over an already-constructed backend.
func New(b backend.Backend, sealer *Sealer) *Store {
	return &Store{backend: b, sealer: sealer}
}

// NewFromConfig builds the backend the config names and wraps it. The
// passphrase seals records at rest; empty means plaintext.
func NewFromConfig(cfg backend.Config, passphrase string) (*Store, error) {
	b, err := backend.Create(cfg)
	if err != nil {
		return nil, errors.BackendError(cfg.Type, "create", err)
	}
	sealer, err := NewSealer(passphrase)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeCrypto, "failed to configure record sealing", err)
	}
	return New(b, sealer), nil
}

// Backend returns the underlying backend.
func (s *Store) Backend() backend.Backend {
	return s.backend
}

// SaveDeployment writes (or replaces) the deployment record for the
// record's node and vmid.
func (s *Store) SaveDeployment(ctx context.Context, rec *DeploymentRecord) error {
	return s.writeSealed(ctx, deploymentPath(rec.Node, rec.VMID), rec)
}

// GetDeployment reads the deployment record for a container.
func (s *Store) GetDeployment(ctx context.Context, node string, vmid int) (*DeploymentRecord, error) {
	var rec DeploymentRecord
	if err := s.readSealed(ctx, deploymentPath(node, vmid), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// DeleteDeployment removes a container's deployment record.
func (s *Store) DeleteDeployment(ctx context.Context, node string, vmid int) error {
	if err := s.backend.Delete(ctx, deploymentPath(node, vmid)); err != nil {
		return errors.BackendError(s.backend.Type(), "delete", err)
	}
	return nil
}

// ListDeployments returns every deployment record for a node, sorted by
// vmid. Records that fail to decode are skipped rather than failing the
// whole listing.
func (s *Store) ListDeployments(ctx context.Context, node string) ([]*DeploymentRecord, error) {
	prefix := path.Join("nodes", node, "deployments")
	paths, err := s.backend.List(ctx, prefix)
	if err != nil {
		return nil, errors.BackendError(s.backend.Type(), "list", err)
	}

	var recs []*DeploymentRecord
	for _, p := range paths {
		var rec DeploymentRecord
		if err := s.readSealed(ctx, p, &rec); err != nil {
			continue
		}
		recs = append(recs, &rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].VMID < recs[j].VMID })
	return recs, nil
}

// SetSecret stores an arbitrary sealed blob under the given name. Used for
// host-scoped material like the deployment CA keypair.
func (s *Store) SetSecret(ctx context.Context, name string, value []byte) error {
	sealed, err := s.sealer.Seal(value)
	if err != nil {
		return errors.Wrap(errors.ErrCodeCrypto, fmt.Sprintf("failed to seal secret %q", name), err)
	}
	if err := s.backend.Write(ctx, secretPath(name), bytes.NewReader(sealed)); err != nil {
		return errors.BackendError(s.backend.Type(), "write", err)
	}
	return nil
}

// GetSecret reads a sealed blob. Returns a not-found error when the secret
// does not exist.
func (s *Store) GetSecret(ctx context.Context, name string) ([]byte, error) {
	reader, err := s.backend.Read(ctx, secretPath(name))
	if err != nil {
		if err == backend.ErrNotFound {
			return nil, errors.NotFoundError("secret", name)
		}
		return nil, errors.BackendError(s.backend.Type(), "read", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.BackendError(s.backend.Type(), "read", err)
	}

	value, err := s.sealer.Open(data)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeCrypto, fmt.Sprintf("failed to unseal secret %q", name), err)
	}
	return value, nil
}

// DeleteSecret removes a sealed blob.
func (s *Store) DeleteSecret(ctx context.Context, name string) error {
	if err := s.backend.Delete(ctx, secretPath(name)); err != nil {
		return errors.BackendError(s.backend.Type(), "delete", err)
	}
	return nil
}

// LockNode acquires the per-node deployment lock, serializing pipeline runs
// against one Proxmox node.
func (s *Store) LockNode(ctx context.Context, node, who, operation string) (backend.Lock, error) {
	lock, err := s.backend.Lock(ctx, path.Join("nodes", node), backend.LockInfo{
		Who:       who,
		Operation: operation,
	})
	if err != nil {
		return nil, errors.BackendError(s.backend.Type(), "lock", err)
	}
	return lock, nil
}

func (s *Store) writeSealed(ctx context.Context, p string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(errors.ErrCodeBackend, "failed to encode context record", err)
	}
	sealed, err := s.sealer.Seal(data)
	if err != nil {
		return errors.Wrap(errors.ErrCodeCrypto, "failed to seal context record", err)
	}
	if err := s.backend.Write(ctx, p, bytes.NewReader(sealed)); err != nil {
		return errors.BackendError(s.backend.Type(), "write", err)
	}
	return nil
}

func (s *Store) readSealed(ctx context.Context, p string, v interface{}) error {
	reader, err := s.backend.Read(ctx, p)
	if err != nil {
		if err == backend.ErrNotFound {
			return errors.NotFoundError("deployment record", p)
		}
		return errors.BackendError(s.backend.Type(), "read", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return errors.BackendError(s.backend.Type(), "read", err)
	}

	plain, err := s.sealer.Open(data)
	if err != nil {
		return errors.Wrap(errors.ErrCodeCrypto, "failed to unseal context record", err)
	}
	if err := json.Unmarshal(plain, v); err != nil {
		return errors.Wrap(errors.ErrCodeBackend, "failed to decode context record", err)
	}
	return nil
}

func deploymentPath(node string, vmid int) string {
	return path.Join("nodes", node, "deployments", strconv.Itoa(vmid)+".json")
}

func secretPath(name string) string {
	return path.Join("secrets", name+".json")
}
