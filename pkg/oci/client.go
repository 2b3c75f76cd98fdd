package oci

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"github.com/google/go-containerregistry/pkg/v1/static"
	"github.com/google/go-containerregistry/pkg/v1/types"

	stderrors "errors"

	"github.com/oci-lxc/deployer/pkg/errors"
)

// Client talks to OCI registries using the local keychain (docker login
// credentials) for authentication.
type Client struct {
	auth authn.Keychain
}

// NewClient creates a registry client.
func NewClient() *Client {
	return &Client{auth: authn.DefaultKeychain}
}

// Push uploads a bundle artifact to the registry.
func (c *Client) Push(ctx context.Context, artifact *Artifact) error {
	ref, err := name.ParseReference(artifact.Reference)
	if err != nil {
		return errors.Wrap(errors.ErrCodeOCI, fmt.Sprintf("invalid reference %q", artifact.Reference), err)
	}

	img := empty.Image
	for _, layer := range artifact.Layers {
		l := static.NewLayer(layer.Data, types.MediaType(MediaTypeBundleLayer))
		img, err = mutate.AppendLayers(img, l)
		if err != nil {
			return errors.Wrap(errors.ErrCodeOCI, "failed to append layer", err)
		}
	}

	if err := remote.Write(ref, img, remote.WithAuthFromKeychain(c.auth), remote.WithContext(ctx)); err != nil {
		return registryError(artifact.Reference, err)
	}
	return nil
}

// Pull downloads a bundle and extracts its layers into destDir, producing
// the same directory layout the catalog loader reads.
func (c *Client) Pull(ctx context.Context, reference string, destDir string) error {
	ref, err := name.ParseReference(reference)
	if err != nil {
		return errors.Wrap(errors.ErrCodeOCI, fmt.Sprintf("invalid reference %q", reference), err)
	}

	img, err := remote.Image(ref, remote.WithAuthFromKeychain(c.auth), remote.WithContext(ctx))
	if err != nil {
		return registryError(reference, err)
	}

	layers, err := img.Layers()
	if err != nil {
		return errors.Wrap(errors.ErrCodeOCI, "failed to get layers", err)
	}

	for _, layer := range layers {
		rc, err := layer.Uncompressed()
		if err != nil {
			return errors.Wrap(errors.ErrCodeOCI, "failed to uncompress layer", err)
		}
		if err := extractTar(rc, destDir); err != nil {
			rc.Close()
			return errors.Wrap(errors.ErrCodeOCI, "failed to extract layer", err)
		}
		rc.Close()
	}
	return nil
}

// PullConfig fetches only the artifact's config document, for inspecting a
// bundle without downloading its layers.
func (c *Client) PullConfig(ctx context.Context, reference string) ([]byte, error) {
	ref, err := name.ParseReference(reference)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeOCI, fmt.Sprintf("invalid reference %q", reference), err)
	}

	img, err := remote.Image(ref, remote.WithAuthFromKeychain(c.auth), remote.WithContext(ctx))
	if err != nil {
		return nil, registryError(reference, err)
	}

	configFile, err := img.ConfigFile()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeOCI, "failed to get config", err)
	}
	return json.Marshal(configFile)
}

// Exists reports whether the reference resolves in the registry.
func (c *Client) Exists(ctx context.Context, reference string) (bool, error) {
	ref, err := name.ParseReference(reference)
	if err != nil {
		return false, errors.Wrap(errors.ErrCodeOCI, fmt.Sprintf("invalid reference %q", reference), err)
	}

	if _, err := remote.Head(ref, remote.WithAuthFromKeychain(c.auth), remote.WithContext(ctx)); err != nil {
		return false, nil
	}
	return true, nil
}

// Tag retags an existing artifact without re-uploading its layers locally.
func (c *Client) Tag(ctx context.Context, srcRef, destRef string) error {
	src, err := name.ParseReference(srcRef)
	if err != nil {
		return errors.Wrap(errors.ErrCodeOCI, fmt.Sprintf("invalid source reference %q", srcRef), err)
	}
	dest, err := name.ParseReference(destRef)
	if err != nil {
		return errors.Wrap(errors.ErrCodeOCI, fmt.Sprintf("invalid destination reference %q", destRef), err)
	}

	img, err := remote.Image(src, remote.WithAuthFromKeychain(c.auth), remote.WithContext(ctx))
	if err != nil {
		return registryError(srcRef, err)
	}
	if err := remote.Write(dest, img, remote.WithAuthFromKeychain(c.auth), remote.WithContext(ctx)); err != nil {
		return registryError(destRef, err)
	}
	return nil
}

// BuildBundle packs an application directory into a pushable artifact. The
// config summarizes the bundle so registries can display it without pulling
// the layer.
func (c *Client) BuildBundle(dir string, cfg BundleConfig) (*Artifact, error) {
	tarData, err := createTarGz(dir)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeOCI, "failed to archive bundle", err)
	}

	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = "v1"
	}
	if cfg.SourceHash == "" {
		sum := sha256.Sum256(tarData)
		cfg.SourceHash = "sha256:" + hex.EncodeToString(sum[:])
	}
	if cfg.BuildTime == "" {
		cfg.BuildTime = time.Now().UTC().Format(time.RFC3339)
	}

	configData, err := json.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeOCI, "failed to marshal bundle config", err)
	}

	return &Artifact{
		Config: configData,
		Layers: []Layer{{
			MediaType: MediaTypeBundleLayer,
			Data:      tarData,
			Size:      int64(len(tarData)),
		}},
	}, nil
}

// registryError translates registry transport errors into actionable
// messages.
func registryError(reference string, err error) error {
	var transportErr *transport.Error
	if stderrors.As(err, &transportErr) {
		for _, diagnostic := range transportErr.Errors {
			switch diagnostic.Code {
			case transport.ManifestUnknownErrorCode:
				return errors.New(errors.ErrCodeOCI, fmt.Sprintf("artifact not found: %s does not exist or the tag is invalid", reference))
			case transport.NameUnknownErrorCode:
				return errors.New(errors.ErrCodeOCI, fmt.Sprintf("repository not found: %s does not exist in the registry", reference))
			case transport.UnauthorizedErrorCode:
				return errors.New(errors.ErrCodeOCI, fmt.Sprintf("authentication required: you may need to log in to access %s", reference))
			case transport.DeniedErrorCode:
				return errors.New(errors.ErrCodeOCI, fmt.Sprintf("access denied: you don't have permission to pull %s", reference))
			}
		}
		if transportErr.StatusCode == http.StatusNotFound {
			return errors.New(errors.ErrCodeOCI, fmt.Sprintf("artifact not found: %s does not exist in the registry", reference))
		}
	}
	return errors.Wrap(errors.ErrCodeOCI, fmt.Sprintf("registry operation on %s failed", reference), err)
}

// extractTar unpacks a tar stream under destDir, refusing entries that
// escape it.
func extractTar(r io.Reader, destDir string) error {
	tr := tar.NewReader(r)

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read tar header: %w", err)
		}

		target := filepath.Join(destDir, header.Name)
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return fmt.Errorf("invalid tar path: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("failed to create parent directory: %w", err)
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode))
			if err != nil {
				return fmt.Errorf("failed to create file: %w", err)
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return fmt.Errorf("failed to write file: %w", err)
			}
			f.Close()
		}
	}
	return nil
}

// createTarGz archives dir into an in-memory gzipped tar. Entries are
// written in sorted order so identical directories produce identical
// layers (and therefore identical digests).
func createTarGz(srcDir string) ([]byte, error) {
	var files []string
	err := filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}
		if strings.HasPrefix(filepath.Base(relPath), ".") {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		files = append(files, relPath)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	var out bytes.Buffer
	gw := gzip.NewWriter(&out)
	tw := tar.NewWriter(gw)

	for _, relPath := range files {
		path := filepath.Join(srcDir, relPath)
		info, err := os.Lstat(path)
		if err != nil {
			return nil, err
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return nil, fmt.Errorf("failed to create header: %w", err)
		}
		header.Name = filepath.ToSlash(relPath)

		if err := tw.WriteHeader(header); err != nil {
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
		if info.Mode().IsRegular() {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read file: %w", err)
			}
			if _, err := tw.Write(data); err != nil {
				return nil, fmt.Errorf("failed to copy file: %w", err)
			}
		}
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
