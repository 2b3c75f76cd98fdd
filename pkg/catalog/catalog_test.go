package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oci-lxc/deployer/pkg/errors"
)

func TestDetectSourceType(t *testing.T) {
	existing := t.TempDir()

	tests := []struct {
		source string
		want   SourceType
	}{
		{"git::https://github.com/org/catalog.git", SourceGit},
		{"git::https://github.com/org/catalog.git//apps?ref=v2", SourceGit},
		{"./catalog", SourceLocal},
		{"../shared/catalog", SourceLocal},
		{"/opt/catalog", SourceLocal},
		{existing, SourceLocal},
		{"registry.example.com/apps/nginx:1.0", SourceOCI},
		{"nginx", SourceOCI},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectSourceType(tt.source), "source %q", tt.source)
	}
}

func TestParseGitSource(t *testing.T) {
	tests := []struct {
		source  string
		url     string
		subPath string
		ref     string
	}{
		{
			source: "git::https://github.com/org/catalog.git",
			url:    "https://github.com/org/catalog.git",
			ref:    "main",
		},
		{
			source:  "git::https://github.com/org/catalog.git//apps",
			url:     "https://github.com/org/catalog.git",
			subPath: "apps",
			ref:     "main",
		},
		{
			source:  "git::https://github.com/org/catalog.git//apps/stable?ref=v2.1",
			url:     "https://github.com/org/catalog.git",
			subPath: "apps/stable",
			ref:     "v2.1",
		},
		{
			source: "git::https://github.com/org/catalog.git?ref=release",
			url:    "https://github.com/org/catalog.git",
			ref:    "release",
		},
	}
	for _, tt := range tests {
		url, subPath, ref, err := parseGitSource(tt.source)
		require.NoError(t, err, "source %q", tt.source)
		assert.Equal(t, tt.url, url)
		assert.Equal(t, tt.subPath, subPath)
		assert.Equal(t, tt.ref, ref)
	}
}

func TestParseGitSource_Invalid(t *testing.T) {
	_, _, _, err := parseGitSource("https://github.com/org/catalog.git")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeCatalog))
}

func TestResolve_LocalDirectory(t *testing.T) {
	dir := t.TempDir()
	appDir := filepath.Join(dir, "applications", "nginx")
	require.NoError(t, os.MkdirAll(appDir, 0o755))
	def := `{"id": "nginx", "phases": {"install": [{"name": "t", "commands": ["true"]}]}}`
	require.NoError(t, os.WriteFile(filepath.Join(appDir, "application.json"), []byte(def), 0o644))

	cat := New(Options{CacheDir: t.TempDir()})
	loader, err := cat.Resolve(context.Background(), dir)
	require.NoError(t, err)

	loaded, err := loader.Load("nginx")
	require.NoError(t, err)
	assert.Equal(t, "nginx", loaded.ID)
}

func TestResolve_LocalMissing(t *testing.T) {
	cat := New(Options{CacheDir: t.TempDir()})
	_, err := cat.Resolve(context.Background(), filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))
}

func TestSync_LocalIsNoOp(t *testing.T) {
	dir := t.TempDir()
	cat := New(Options{CacheDir: t.TempDir()})

	resolved, err := cat.Sync(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, dir, resolved)
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t,
		"https___github_com_org_catalog_git",
		cacheKey("https://github.com/org/catalog.git"))
	assert.NotEqual(t, cacheKey("a/b"), cacheKey("a:b:c"))
}
