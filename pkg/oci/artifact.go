// Package oci packages application bundles as OCI artifacts so catalogs can
// be distributed through any container registry.
//
// A bundle artifact carries one gzipped tar layer holding the application
// directory (definition document plus any shared template files) and a JSON
// config summarizing it for registry browsing.
package oci

import "strings"

// Media types for application bundle artifacts.
const (
	MediaTypeBundleConfig = "application/vnd.lxcdeployer.application.config.v1+json"
	MediaTypeBundleLayer  = "application/vnd.lxcdeployer.application.layer.v1.tar+gzip"
)

// Artifact is an application bundle ready to push or just pulled.
type Artifact struct {
	Reference   string
	Digest      string
	Config      []byte
	Layers      []Layer
	Annotations map[string]string
}

// Layer is one blob of the artifact.
type Layer struct {
	MediaType string
	Digest    string
	Size      int64
	Data      []byte
}

// Reference is a parsed OCI reference.
type Reference struct {
	Registry   string
	Repository string
	Tag        string
	Digest     string
}

// ParseReference splits an OCI reference string into its parts, defaulting
// the registry to docker.io and the tag to latest.
func ParseReference(ref string) (*Reference, error) {
	result := &Reference{}

	if idx := strings.Index(ref, "@"); idx != -1 {
		result.Digest = ref[idx+1:]
		ref = ref[:idx]
	}

	if idx := strings.LastIndex(ref, ":"); idx != -1 {
		afterColon := ref[idx+1:]
		if !strings.Contains(afterColon, "/") {
			result.Tag = afterColon
			ref = ref[:idx]
		}
	}

	if result.Tag == "" && result.Digest == "" {
		result.Tag = "latest"
	}

	parts := strings.SplitN(ref, "/", 2)
	switch {
	case len(parts) == 1:
		result.Registry = "docker.io"
		result.Repository = "library/" + parts[0]
	case strings.Contains(parts[0], ".") || strings.Contains(parts[0], ":") || parts[0] == "localhost":
		result.Registry = parts[0]
		result.Repository = parts[1]
	default:
		result.Registry = "docker.io"
		result.Repository = ref
	}

	return result, nil
}

// String renders the reference back to its canonical form.
func (r *Reference) String() string {
	result := r.Registry + "/" + r.Repository
	if r.Tag != "" {
		result += ":" + r.Tag
	}
	if r.Digest != "" {
		result += "@" + r.Digest
	}
	return result
}

// BundleConfig is the config document stored alongside a bundle's layers.
type BundleConfig struct {
	SchemaVersion string   `json:"schemaVersion"`
	ApplicationID string   `json:"applicationId"`
	Extends       string   `json:"extends,omitempty"`
	Phases        []string `json:"phases,omitempty"`
	Description   string   `json:"description,omitempty"`
	SourceHash    string   `json:"sourceHash,omitempty"`
	BuildTime     string   `json:"buildTime,omitempty"`
}
