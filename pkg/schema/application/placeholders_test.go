package application

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlaceholders(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   []string
	}{
		{"none", "echo hello", nil},
		{"single", "echo {{ vm_id }}", []string{"vm_id"}},
		{"tight spacing", "echo {{vm_id}} {{  hostname  }}", []string{"vm_id", "hostname"}},
		{"dedup in order", "{{ b }} {{ a }} {{ b }}", []string{"b", "a"}},
		{"non-identifier ignored", "echo {{ 1bad }} {{ a.b }} {{ ok }}", []string{"ok"}},
		{"shell braces ignored", "echo ${VAR} {x}", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Placeholders(tt.script))
		})
	}
}

func TestExpand(t *testing.T) {
	values := map[string]string{
		"vm_id":    "101",
		"hostname": "web01",
	}
	resolve := func(id string) (string, bool) {
		v, ok := values[id]
		return v, ok
	}

	expanded, missing := Expand("pct exec {{ vm_id }} -- hostnamectl set-hostname {{ hostname }}", resolve)
	assert.Equal(t, "pct exec 101 -- hostnamectl set-hostname web01", expanded)
	assert.Empty(t, missing)
}

func TestExpand_MissingLeftInPlace(t *testing.T) {
	resolve := func(id string) (string, bool) {
		if id == "known" {
			return "yes", true
		}
		return "", false
	}

	expanded, missing := Expand("{{ known }} {{ gone }} {{ gone }} {{ also_gone }}", resolve)
	assert.Equal(t, "yes {{ gone }} {{ gone }} {{ also_gone }}", expanded)
	assert.Equal(t, []string{"gone", "also_gone"}, missing)
}

func TestValueString(t *testing.T) {
	tests := []struct {
		in   interface{}
		want string
	}{
		{nil, ""},
		{"plain", "plain"},
		{true, "true"},
		{false, "false"},
		{float64(8080), "8080"},
		{float64(1.5), "1.5"},
		{42, "42"},
		{[]interface{}{"a", "b"}, `["a","b"]`},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ValueString(tt.in))
	}
}

func TestCommand_UnmarshalJSON(t *testing.T) {
	var tpl Template
	err := json.Unmarshal([]byte(`{
		"name": "mixed",
		"commands": [
			"echo bare",
			{"script": "echo object", "execute_on": "lxc"}
		]
	}`), &tpl)
	assert.NoError(t, err)
	assert.Equal(t, "echo bare", tpl.Commands[0].Script)
	assert.Equal(t, "echo object", tpl.Commands[1].Script)
	assert.Equal(t, "lxc", string(tpl.Commands[1].ExecuteOn))
}
