// Package binder resolves template parameters against the pipeline's value
// store and expands placeholders in command bodies.
package binder

import (
	"github.com/oci-lxc/deployer/pkg/errors"
	"github.com/oci-lxc/deployer/pkg/schema/application"
	"github.com/oci-lxc/deployer/pkg/store"
)

// Bind resolves every parameter a template declares, in declaration order,
// with caller overrides taking precedence over store values, and store
// values over declared defaults.
//
// Resolved values are written back into the store so subsequent templates
// and condition gates observe them. A required parameter with no value from
// any source aborts the bind.
func Bind(tpl *application.Template, overrides map[string]string, st *store.Store) error {
	for i := range tpl.Parameters {
		param := &tpl.Parameters[i]

		if value, ok := overrides[param.ID]; ok {
			st.Set(param.ID, value)
			continue
		}
		if st.Has(param.ID) {
			continue
		}
		if param.HasDefault() {
			st.Set(param.ID, application.ValueString(param.Default))
			continue
		}
		if param.Required {
			return errors.MissingRequiredParameterError(param.ID, tpl.Name)
		}
	}
	return nil
}

// Expand substitutes every `{{ id }}` token in the script with the value
// bound in the store. A token naming an unbound identifier is a structural
// failure, never passed through to the shell.
func Expand(script string, st *store.Store, template string, command int) (string, error) {
	expanded, missing := application.Expand(script, st.Get)
	if len(missing) > 0 {
		return "", errors.UnresolvedPlaceholderError(missing, template, command)
	}
	return expanded, nil
}
