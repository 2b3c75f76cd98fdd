// Package catalog resolves application catalog sources to local directories
// the definition loader can read.
//
// A catalog source is one of:
//
//	/path/to/catalog                          local directory, used in place
//	git::https://host/org/repo.git//sub?ref=b git repository (shallow clone)
//	registry.example.com/apps/nginx:1.0       OCI bundle reference
//
// Remote sources are cached under the cache directory and refreshed by
// Sync.
package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/oci-lxc/deployer/pkg/errors"
	"github.com/oci-lxc/deployer/pkg/oci"
	"github.com/oci-lxc/deployer/pkg/schema/application"
)

// SourceType classifies a catalog source string.
type SourceType string

const (
	SourceLocal SourceType = "local"
	SourceGit   SourceType = "git"
	SourceOCI   SourceType = "oci"
)

// DetectSourceType classifies a source string. Anything that is not a git
// reference or an existing local path is treated as an OCI reference.
func DetectSourceType(source string) SourceType {
	if strings.HasPrefix(source, "git::") {
		return SourceGit
	}
	if strings.HasPrefix(source, "./") || strings.HasPrefix(source, "../") || strings.HasPrefix(source, "/") {
		return SourceLocal
	}
	if _, err := os.Stat(source); err == nil {
		return SourceLocal
	}
	return SourceOCI
}

// Catalog resolves sources and hands out loaders over them.
type Catalog struct {
	cacheDir  string
	ociClient *oci.Client
}

// Options configures a catalog resolver.
type Options struct {
	// CacheDir holds synced remote catalogs. Defaults to
	// ~/.lxc-deployer/cache/catalogs.
	CacheDir string
	// OCIClient pulls bundle artifacts. A nil client is constructed on
	// first use.
	OCIClient *oci.Client
}

// New creates a catalog resolver.
func New(opts Options) *Catalog {
	cacheDir := opts.CacheDir
	if cacheDir == "" {
		homeDir, _ := os.UserHomeDir()
		cacheDir = filepath.Join(homeDir, ".lxc-deployer", "cache", "catalogs")
	}
	return &Catalog{cacheDir: cacheDir, ociClient: opts.OCIClient}
}

// Resolve returns a loader over the catalog the source names, syncing
// remote sources into the cache if they are not present yet.
func (c *Catalog) Resolve(ctx context.Context, source string) (*application.Loader, error) {
	dir, err := c.resolveDir(ctx, source, false)
	if err != nil {
		return nil, err
	}
	return application.NewLoader(dir), nil
}

// Sync refreshes a remote source in the cache, discarding the previous copy.
// Local sources need no syncing; Sync is a no-op for them.
func (c *Catalog) Sync(ctx context.Context, source string) (string, error) {
	return c.resolveDir(ctx, source, true)
}

func (c *Catalog) resolveDir(ctx context.Context, source string, refresh bool) (string, error) {
	switch DetectSourceType(source) {
	case SourceLocal:
		abs, err := filepath.Abs(source)
		if err != nil {
			return "", errors.Wrap(errors.ErrCodeCatalog, fmt.Sprintf("failed to resolve path %q", source), err)
		}
		if _, err := os.Stat(abs); err != nil {
			return "", errors.NotFoundError("catalog directory", abs)
		}
		return abs, nil
	case SourceGit:
		return c.resolveGit(ctx, source, refresh)
	default:
		return c.resolveOCI(ctx, source, refresh)
	}
}

func (c *Catalog) resolveGit(ctx context.Context, source string, refresh bool) (string, error) {
	gitURL, subPath, gitRef, err := parseGitSource(source)
	if err != nil {
		return "", err
	}

	repoDir := filepath.Join(c.cacheDir, "git", cacheKey(gitURL), gitRef)

	if refresh {
		if err := os.RemoveAll(repoDir); err != nil {
			return "", errors.Wrap(errors.ErrCodeCatalog, "failed to clear cached catalog", err)
		}
	}

	if _, err := os.Stat(repoDir); os.IsNotExist(err) {
		if err := gitClone(ctx, gitURL, gitRef, repoDir); err != nil {
			return "", errors.Wrap(errors.ErrCodeCatalog, fmt.Sprintf("failed to clone %s", gitURL), err)
		}
	}

	dir := repoDir
	if subPath != "" {
		dir = filepath.Join(repoDir, filepath.FromSlash(subPath))
	}
	if _, err := os.Stat(dir); err != nil {
		return "", errors.NotFoundError("catalog path", subPath).WithDetail("repository", gitURL)
	}
	return dir, nil
}

func (c *Catalog) resolveOCI(ctx context.Context, source string, refresh bool) (string, error) {
	if c.ociClient == nil {
		c.ociClient = oci.NewClient()
	}

	bundleDir := filepath.Join(c.cacheDir, "oci", cacheKey(source))

	if refresh {
		if err := os.RemoveAll(bundleDir); err != nil {
			return "", errors.Wrap(errors.ErrCodeCatalog, "failed to clear cached bundle", err)
		}
	}

	if _, err := os.Stat(bundleDir); os.IsNotExist(err) {
		if err := os.MkdirAll(bundleDir, 0o755); err != nil {
			return "", errors.Wrap(errors.ErrCodeCatalog, "failed to create cache directory", err)
		}
		if err := c.ociClient.Pull(ctx, source, bundleDir); err != nil {
			os.RemoveAll(bundleDir)
			return "", err
		}
	}
	return bundleDir, nil
}

// parseGitSource splits git::https://host/repo.git//subpath?ref=branch into
// its parts. The ref defaults to main.
func parseGitSource(source string) (gitURL, subPath, gitRef string, err error) {
	parts := strings.SplitN(source, "::", 2)
	if len(parts) != 2 || parts[0] != "git" {
		return "", "", "", errors.New(errors.ErrCodeCatalog, fmt.Sprintf("invalid git source %q", source))
	}

	gitURL = parts[1]
	gitRef = "main"

	// Split off the query before looking for the subpath separator.
	query := ""
	if idx := strings.Index(gitURL, "?"); idx != -1 {
		query = gitURL[idx+1:]
		gitURL = gitURL[:idx]
	}

	// The subpath separator is the first "//" after the scheme's own.
	searchFrom := 0
	if idx := strings.Index(gitURL, "://"); idx != -1 {
		searchFrom = idx + 3
	}
	if sep := strings.Index(gitURL[searchFrom:], "//"); sep != -1 {
		subPath = gitURL[searchFrom+sep+2:]
		gitURL = gitURL[:searchFrom+sep]
	}

	for _, param := range strings.Split(query, "&") {
		kv := strings.SplitN(param, "=", 2)
		if len(kv) == 2 && kv[0] == "ref" {
			gitRef = kv[1]
		}
	}

	return gitURL, subPath, gitRef, nil
}

func gitClone(ctx context.Context, url, ref, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	cloneOpts := &git.CloneOptions{
		URL:           url,
		Depth:         1,
		SingleBranch:  true,
		ReferenceName: plumbing.NewBranchReferenceName(ref),
	}

	_, err := git.PlainCloneContext(ctx, dest, false, cloneOpts)
	if err != nil {
		// The ref may be a tag rather than a branch.
		cloneOpts.ReferenceName = plumbing.NewTagReferenceName(ref)
		_, err = git.PlainCloneContext(ctx, dest, false, cloneOpts)
		if err != nil {
			return fmt.Errorf("git clone failed: %w", err)
		}
	}
	return nil
}

func cacheKey(s string) string {
	r := strings.NewReplacer("/", "_", ":", "_", ".", "_", "?", "_", "=", "_")
	return r.Replace(s)
}
