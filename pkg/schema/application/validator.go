package application

import (
	"fmt"
	"regexp"

	"github.com/oci-lxc/deployer/pkg/engine/condition"
)

// BuiltinParameters are the identifiers every pipeline run seeds into the
// value store before the first template executes. Placeholders may reference
// them without any template declaring them.
var BuiltinParameters = []string{"vm_id", "hostname", "application_id", "node"}

// ValidationError describes a single structural problem in a definition.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) String() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Validate checks a flattened definition for structural problems and returns
// every one it finds rather than stopping at the first.
//
// Besides per-field checks, it verifies that every placeholder in every
// command body is satisfiable: a command in template i of a phase may
// reference the builtins, its own template's parameters, and the outputs of
// templates 0..i of the same phase. Anything else would be guaranteed to
// fail at run time.
func Validate(def *Definition) []ValidationError {
	var errs []ValidationError

	add := func(field, format string, args ...interface{}) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if def.ID == "" {
		add("id", "must not be empty")
	} else if !identPattern.MatchString(def.ID) {
		add("id", "must be an identifier, got %q", def.ID)
	}

	if len(def.Phases) == 0 {
		add("phases", "must define at least one phase")
	}

	for _, phase := range def.PhaseNames() {
		templates := def.Phases[phase]
		if len(templates) == 0 {
			add(fmt.Sprintf("phases.%s", phase), "must not be empty")
			continue
		}

		allowed := make(map[string]bool, len(BuiltinParameters))
		for _, id := range BuiltinParameters {
			allowed[id] = true
		}

		names := make(map[string]bool, len(templates))
		for i := range templates {
			tpl := &templates[i]
			field := fmt.Sprintf("phases.%s[%d]", phase, i)
			if tpl.Name != "" {
				if names[tpl.Name] {
					add(field+".name", "duplicate template name %q", tpl.Name)
				}
				names[tpl.Name] = true
			}
			validateTemplate(tpl, field, allowed, add)

			// Later templates in the phase may consume these.
			for _, out := range tpl.Outputs {
				allowed[out.ID] = true
			}
		}
	}

	return errs
}

func validateTemplate(tpl *Template, field string, phaseScope map[string]bool, add func(field, format string, args ...interface{})) {
	if tpl.Name == "" {
		add(field+".name", "must not be empty")
	}
	if tpl.ExecuteOn != "" && !tpl.ExecuteOn.Valid() {
		add(field+".execute_on", "unknown target %q", tpl.ExecuteOn)
	}
	if len(tpl.Commands) == 0 {
		add(field+".commands", "must contain at least one command")
	}

	if tpl.If != "" {
		if _, err := condition.Parse(tpl.If); err != nil {
			add(field+".if", "%v", err)
		}
	}

	// Scope visible to this template's commands: the phase scope so far plus
	// its own parameters and outputs.
	scope := make(map[string]bool, len(phaseScope)+len(tpl.Parameters)+len(tpl.Outputs))
	for id := range phaseScope {
		scope[id] = true
	}

	paramIDs := make(map[string]bool, len(tpl.Parameters))
	for j, param := range tpl.Parameters {
		pfield := fmt.Sprintf("%s.parameters[%d]", field, j)
		switch {
		case param.ID == "":
			add(pfield+".id", "must not be empty")
		case !identPattern.MatchString(param.ID):
			add(pfield+".id", "must be an identifier, got %q", param.ID)
		case paramIDs[param.ID]:
			add(pfield+".id", "duplicate parameter %q", param.ID)
		default:
			paramIDs[param.ID] = true
			scope[param.ID] = true
		}
		if !param.Type.Valid() {
			add(pfield+".type", "unknown type %q", param.Type)
		}
	}

	outputIDs := make(map[string]bool, len(tpl.Outputs))
	for j, out := range tpl.Outputs {
		ofield := fmt.Sprintf("%s.outputs[%d]", field, j)
		switch {
		case out.ID == "":
			add(ofield+".id", "must not be empty")
		case !identPattern.MatchString(out.ID):
			add(ofield+".id", "must be an identifier, got %q", out.ID)
		case outputIDs[out.ID]:
			add(ofield+".id", "duplicate output %q", out.ID)
		default:
			outputIDs[out.ID] = true
			scope[out.ID] = true
		}
	}

	for j, cmd := range tpl.Commands {
		cfield := fmt.Sprintf("%s.commands[%d]", field, j)
		if cmd.Script == "" {
			add(cfield, "script must not be empty")
		}
		if cmd.ExecuteOn != "" && !cmd.ExecuteOn.Valid() {
			add(cfield+".execute_on", "unknown target %q", cmd.ExecuteOn)
		}
		for _, id := range Placeholders(cmd.Script) {
			if !scope[id] {
				add(cfield, "placeholder {{ %s }} is not satisfiable here", id)
			}
		}
	}
}
