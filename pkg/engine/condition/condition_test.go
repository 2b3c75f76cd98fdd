package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(values map[string]string) Lookup {
	return func(id string) (string, bool) {
		v, ok := values[id]
		return v, ok
	}
}

func TestEval_Comparisons(t *testing.T) {
	values := map[string]string{
		"edition":  "ce",
		"replicas": "3",
		"enabled":  "true",
	}

	tests := []struct {
		src  string
		want bool
	}{
		{`edition == "ce"`, true},
		{`edition == "ee"`, false},
		{`edition != "ee"`, true},
		{`edition != 'ce'`, false},
		{`replicas == 3`, true},
		{`replicas != 3`, false},
		{`enabled == true`, true},
		{`missing == ""`, true},
		{`missing != ""`, false},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			expr, err := Parse(tt.src)
			require.NoError(t, err)
			got, err := expr.Eval(lookupFrom(values))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEval_Truthiness(t *testing.T) {
	values := map[string]string{
		"set":       "yes",
		"empty":     "",
		"falseword": "false",
		"zero":      "0",
	}

	tests := []struct {
		src  string
		want bool
	}{
		{`set`, true},
		{`empty`, false},
		{`falseword`, false},
		{`zero`, false},
		{`missing`, false},
		{`!missing`, true},
		{`true`, true},
		{`false`, false},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			expr, err := Parse(tt.src)
			require.NoError(t, err)
			got, err := expr.Eval(lookupFrom(values))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEval_BooleanOperators(t *testing.T) {
	values := map[string]string{
		"a": "1",
		"b": "",
		"x": "ce",
	}

	tests := []struct {
		src  string
		want bool
	}{
		{`a && b`, false},
		{`a || b`, true},
		{`!b && a`, true},
		{`(a || b) && x == "ce"`, true},
		{`(a && b) || x == "ee"`, false},
		{`!(x == "ee")`, true},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			expr, err := Parse(tt.src)
			require.NoError(t, err)
			got, err := expr.Eval(lookupFrom(values))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEval_ShortCircuit(t *testing.T) {
	calls := 0
	lookup := func(id string) (string, bool) {
		calls++
		if id == "present" {
			return "yes", true
		}
		return "", false
	}

	expr, err := Parse(`present || other`)
	require.NoError(t, err)
	got, err := expr.Eval(lookup)
	require.NoError(t, err)
	assert.True(t, got)
	assert.Equal(t, 1, calls)
}

func TestParse_Empty(t *testing.T) {
	expr, err := Parse("   ")
	require.NoError(t, err)
	got, err := expr.Eval(lookupFrom(nil))
	require.NoError(t, err)
	assert.True(t, got)
}

func TestParse_Errors(t *testing.T) {
	tests := []string{
		`edition = "ce"`,
		`a & b`,
		`a | b`,
		`"unterminated`,
		`(a == "x"`,
		`a == `,
		`a b`,
		`== "x"`,
		`a @ b`,
	}

	for _, src := range tests {
		t.Run(src, func(t *testing.T) {
			_, err := Parse(src)
			require.Error(t, err)
			var perr *ParseError
			assert.ErrorAs(t, err, &perr)
		})
	}
}

func TestIdents(t *testing.T) {
	expr, err := Parse(`edition == "ce" && (vm_id != "" || edition) && !debug`)
	require.NoError(t, err)
	assert.Equal(t, []string{"edition", "vm_id", "debug"}, expr.Idents())
}

func TestIdents_LiteralsExcluded(t *testing.T) {
	expr, err := Parse(`true || "literal" == other`)
	require.NoError(t, err)
	assert.Equal(t, []string{"other"}, expr.Idents())
}
