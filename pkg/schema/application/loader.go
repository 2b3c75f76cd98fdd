package application

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/oci-lxc/deployer/pkg/errors"
)

// Loader reads application definitions from a catalog directory and flattens
// their extends chains.
//
// A catalog lays definitions out as applications/<id>/application.json (YAML
// is accepted too). A phase list entry may be an inline template or a
// {"ref": "<path>"} pointer to a shared template file, resolved relative to
// the catalog root.
type Loader struct {
	root string
}

// NewLoader creates a loader rooted at the given catalog directory.
func NewLoader(root string) *Loader {
	return &Loader{root: root}
}

// Root returns the catalog directory the loader reads from.
func (l *Loader) Root() string {
	return l.root
}

// Load reads the definition with the given id, resolves its extends chain
// and shared template refs, and validates the flattened result.
func (l *Loader) Load(id string) (*Definition, error) {
	raw, err := l.loadRaw(id, []string{})
	if err != nil {
		return nil, err
	}

	def, err := decodeDefinition(raw)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeParse, fmt.Sprintf("invalid definition for application %q", id), err)
	}
	def.ID = id

	if verrs := Validate(def); len(verrs) > 0 {
		return nil, validationFailure(id, verrs)
	}
	return def, nil
}

// LoadFile reads a single definition file outside the catalog layout. The
// extends chain is still resolved against the loader's catalog root.
func (l *Loader) LoadFile(path string) (*Definition, error) {
	raw, err := readDefinitionDoc(path)
	if err != nil {
		return nil, err
	}

	id, _ := raw["id"].(string)
	if id == "" {
		id = strings.TrimSuffix(filepath.Base(filepath.Dir(path)), string(filepath.Separator))
	}

	raw, err = l.flatten(raw, path, []string{id})
	if err != nil {
		return nil, err
	}

	def, err := decodeDefinition(raw)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeParse, fmt.Sprintf("invalid definition at %s", path), err)
	}
	if def.ID == "" {
		def.ID = id
	}

	if verrs := Validate(def); len(verrs) > 0 {
		return nil, validationFailure(def.ID, verrs)
	}
	return def, nil
}

// List returns the ids of every application the catalog contains, in
// directory order.
func (l *Loader) List() ([]string, error) {
	dir := filepath.Join(l.root, "applications")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.ErrCodeCatalog, fmt.Sprintf("failed to read catalog at %s", dir), err)
	}

	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := l.definitionPath(entry.Name()); err == nil {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

// loadRaw reads one definition as a raw document and recursively merges its
// parent chain into it. seen carries the ids on the current chain so cycles
// are reported with the full path.
func (l *Loader) loadRaw(id string, seen []string) (map[string]interface{}, error) {
	for _, prev := range seen {
		if prev == id {
			return nil, errors.CyclicExtendsError(append(seen, id))
		}
	}
	seen = append(seen, id)

	path, err := l.definitionPath(id)
	if err != nil {
		if len(seen) > 1 {
			return nil, errors.UnknownParentError(seen[len(seen)-2], id)
		}
		return nil, err
	}

	raw, err := readDefinitionDoc(path)
	if err != nil {
		return nil, err
	}

	return l.flatten(raw, path, seen)
}

// flatten merges the parent chain into raw and resolves template refs.
func (l *Loader) flatten(raw map[string]interface{}, path string, seen []string) (map[string]interface{}, error) {
	if parentID, ok := raw["extends"].(string); ok && parentID != "" {
		parent, err := l.loadRaw(parentID, seen)
		if err != nil {
			return nil, err
		}
		raw = deepMerge(parent, raw)
	}

	if err := l.resolveRefs(raw, path); err != nil {
		return nil, err
	}
	return raw, nil
}

// definitionPath locates the definition document for id, preferring JSON.
func (l *Loader) definitionPath(id string) (string, error) {
	dir := filepath.Join(l.root, "applications", id)
	for _, name := range []string{"application.json", "application.yaml", "application.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", errors.NotFoundError("application", id).WithDetail("catalog", l.root)
}

// resolveRefs replaces {"ref": path} phase entries with the template
// documents they point at. Paths resolve relative to the catalog root.
func (l *Loader) resolveRefs(raw map[string]interface{}, defPath string) error {
	phases, ok := raw["phases"].(map[string]interface{})
	if !ok {
		return nil
	}

	for phase, entry := range phases {
		list, ok := entry.([]interface{})
		if !ok {
			continue
		}
		for i, item := range list {
			tpl, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			ref, ok := tpl["ref"].(string)
			if !ok || ref == "" {
				continue
			}
			refPath := filepath.Join(l.root, filepath.FromSlash(ref))
			resolved, err := readDefinitionDoc(refPath)
			if err != nil {
				return errors.Wrap(errors.ErrCodeParse,
					fmt.Sprintf("phase %q of %s references %s", phase, defPath, ref), err)
			}
			// Inline fields on the referencing entry override the shared file.
			delete(tpl, "ref")
			list[i] = deepMerge(resolved, tpl)
		}
	}
	return nil
}

// readDefinitionDoc reads a JSON or YAML document into a raw map.
func readDefinitionDoc(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFoundError("definition file", path)
		}
		return nil, errors.ParseError(path, err)
	}

	raw := map[string]interface{}{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, errors.ParseError(path, err)
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, errors.ParseError(path, err)
		}
	}
	return raw, nil
}

// decodeDefinition converts a flattened raw document into typed form. Going
// through JSON keeps one set of decoding rules for both source formats.
func decodeDefinition(raw map[string]interface{}) (*Definition, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

// deepMerge merges child onto parent. Maps merge recursively, lists replace
// entirely, non-empty scalars from the child win, and explicit nulls delete
// the parent's key. An empty-string scalar counts as absent, so the most
// derived non-empty value survives the chain. Neither input is modified.
func deepMerge(parent, child map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(parent)+len(child))
	for k, v := range parent {
		out[k] = v
	}
	for k, v := range child {
		if v == nil {
			delete(out, k)
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			if _, exists := out[k]; exists {
				continue
			}
		}
		childMap, childIsMap := v.(map[string]interface{})
		parentMap, parentIsMap := out[k].(map[string]interface{})
		if childIsMap && parentIsMap {
			out[k] = deepMerge(parentMap, childMap)
			continue
		}
		out[k] = v
	}
	return out
}

func validationFailure(id string, verrs []ValidationError) error {
	msgs := make([]string, len(verrs))
	for i, v := range verrs {
		msgs[i] = v.String()
	}
	return errors.ValidationError(fmt.Sprintf("application %q is invalid", id), map[string]interface{}{
		"problems": msgs,
	})
}
