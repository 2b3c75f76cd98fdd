// Package application defines application definitions and their loader.
//
// An application definition is a declarative JSON (or YAML) document mapping
// lifecycle phases (install, update, uninstall, addon-install, ...) to
// ordered lists of templates. Definitions may extend a parent definition;
// the loader flattens the extends chain before anything else sees it.
package application

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/oci-lxc/deployer/pkg/target"
)

// Definition is a fully flattened application definition.
type Definition struct {
	ID          string                `json:"id" yaml:"id"`
	Extends     string                `json:"extends,omitempty" yaml:"extends,omitempty"`
	Description string                `json:"description,omitempty" yaml:"description,omitempty"`
	Icon        string                `json:"icon,omitempty" yaml:"icon,omitempty"`
	Phases      map[string][]Template `json:"phases" yaml:"phases"`
}

// Phase returns the ordered template list for the named lifecycle phase.
func (d *Definition) Phase(name string) ([]Template, bool) {
	tpls, ok := d.Phases[name]
	return tpls, ok
}

// PhaseNames returns the defined phase names, sorted.
func (d *Definition) PhaseNames() []string {
	names := make([]string, 0, len(d.Phases))
	for name := range d.Phases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Template is one named, conditionally gated unit of work: parameters in,
// commands run against one target, outputs out.
type Template struct {
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	ExecuteOn   target.Kind `json:"execute_on,omitempty" yaml:"execute_on,omitempty"`
	If          string      `json:"if,omitempty" yaml:"if,omitempty"`
	Parameters  []Parameter `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Outputs     []Output    `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Commands    []Command   `json:"commands" yaml:"commands"`
}

// Target returns the template's default execution target, defaulting to the
// Proxmox host when unset.
func (t *Template) Target() target.Kind {
	if t.ExecuteOn == "" {
		return target.KindProxmox
	}
	return t.ExecuteOn
}

// CommandTarget returns the effective target for command i: the command's
// own execute_on when set, otherwise the template default.
func (t *Template) CommandTarget(i int) target.Kind {
	if i >= 0 && i < len(t.Commands) && t.Commands[i].ExecuteOn != "" {
		return t.Commands[i].ExecuteOn
	}
	return t.Target()
}

// Output returns the declared output with the given id.
func (t *Template) Output(id string) (*Output, bool) {
	for i := range t.Outputs {
		if t.Outputs[i].ID == id {
			return &t.Outputs[i], true
		}
	}
	return nil, false
}

// ParamType is the declared type of a parameter value.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
)

// Valid reports whether the type is recognized. The empty type means string.
func (t ParamType) Valid() bool {
	return t == "" || t == TypeString || t == TypeNumber || t == TypeBoolean
}

// Parameter declares one input a template consumes.
type Parameter struct {
	ID          string      `json:"id" yaml:"id"`
	Type        ParamType   `json:"type,omitempty" yaml:"type,omitempty"`
	Required    bool        `json:"required,omitempty" yaml:"required,omitempty"`
	Default     interface{} `json:"default,omitempty" yaml:"default,omitempty"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
}

// HasDefault reports whether the parameter declares a default value.
func (p *Parameter) HasDefault() bool {
	return p.Default != nil
}

// Output declares one value a template's commands are expected to emit.
// A static Value short-circuits capture; a Default fills in when the
// commands emit nothing for this id.
type Output struct {
	ID      string      `json:"id" yaml:"id"`
	Default interface{} `json:"default,omitempty" yaml:"default,omitempty"`
	Value   interface{} `json:"value,omitempty" yaml:"value,omitempty"`
}

// Command is one parameterized POSIX shell script body plus an optional
// per-command target override.
type Command struct {
	Script    string      `json:"script" yaml:"script"`
	ExecuteOn target.Kind `json:"execute_on,omitempty" yaml:"execute_on,omitempty"`
}

// UnmarshalJSON accepts either a bare script string or the object form.
func (c *Command) UnmarshalJSON(data []byte) error {
	var script string
	if err := json.Unmarshal(data, &script); err == nil {
		c.Script = script
		c.ExecuteOn = ""
		return nil
	}

	type commandAlias Command
	var alias commandAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*c = Command(alias)
	return nil
}

// ValueString renders a declared default or static value the way it is
// substituted into command bodies: strings verbatim, booleans as
// true/false, numbers without a trailing fraction when integral.
func ValueString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case json.Number:
		return val.String()
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	}
}
