// Package output parses the JSON emission protocol template commands use to
// publish values back into the pipeline's value store.
//
// A command publishes outputs by printing a single JSON document to stdout:
// either one {"id": ..., "value": ...} object or an array of them. The "name"
// key is accepted as an alias for "id". Every published id must be declared
// by the template; anything else is rejected rather than silently dropped.
package output

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/oci-lxc/deployer/pkg/errors"
	"github.com/oci-lxc/deployer/pkg/schema/application"
	"github.com/oci-lxc/deployer/pkg/store"
)

type emission struct {
	ID    string      `json:"id"`
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
}

func (e *emission) id() string {
	if e.ID != "" {
		return e.ID
	}
	return e.Name
}

// Parse decodes a command's captured stdout against the template's declared
// outputs. Empty stdout yields no captures. Non-empty stdout must be the
// emission protocol: malformed JSON, a missing id, or an id the template
// does not declare all fail with an invalid-output error.
//
// Templates that declare no outputs have their stdout ignored entirely, so
// chatty scripts stay harmless.
func Parse(tpl *application.Template, stdout string) (map[string]string, error) {
	if len(tpl.Outputs) == 0 {
		return nil, nil
	}
	raw := strings.TrimSpace(stdout)
	if raw == "" {
		return nil, nil
	}

	var emissions []emission
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &emissions); err != nil {
			return nil, errors.InvalidOutputError(tpl.Name, raw, err)
		}
	} else {
		var single emission
		if err := json.Unmarshal([]byte(raw), &single); err != nil {
			return nil, errors.InvalidOutputError(tpl.Name, raw, err)
		}
		emissions = []emission{single}
	}

	captured := make(map[string]string, len(emissions))
	for _, em := range emissions {
		id := em.id()
		if id == "" {
			return nil, errors.InvalidOutputError(tpl.Name, raw,
				fmt.Errorf("emission is missing an id"))
		}
		if _, ok := tpl.Output(id); !ok {
			return nil, errors.InvalidOutputError(tpl.Name, raw,
				fmt.Errorf("output %q is not declared by the template", id))
		}
		captured[id] = application.ValueString(em.Value)
	}
	return captured, nil
}

// Finalize settles every declared output into the store after the template's
// commands have all succeeded: a static value wins outright, then whatever
// the commands captured, then the declared default. A declared output left
// with no value from any source is an error, so downstream templates never
// see a half-populated store.
func Finalize(tpl *application.Template, captured map[string]string, st *store.Store) error {
	for i := range tpl.Outputs {
		out := &tpl.Outputs[i]
		switch {
		case out.Value != nil:
			st.Set(out.ID, application.ValueString(out.Value))
		case hasKey(captured, out.ID):
			st.Set(out.ID, captured[out.ID])
		case out.Default != nil:
			st.Set(out.ID, application.ValueString(out.Default))
		default:
			return errors.InvalidOutputError(tpl.Name, "",
				fmt.Errorf("declared output %q was never produced and has no default", out.ID))
		}
	}
	return nil
}

func hasKey(m map[string]string, k string) bool {
	_, ok := m[k]
	return ok
}
