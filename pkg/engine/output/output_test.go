package output

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oci-lxc/deployer/pkg/errors"
	"github.com/oci-lxc/deployer/pkg/schema/application"
	"github.com/oci-lxc/deployer/pkg/store"
)

func declaring(ids ...string) *application.Template {
	tpl := &application.Template{Name: "emit"}
	for _, id := range ids {
		tpl.Outputs = append(tpl.Outputs, application.Output{ID: id})
	}
	return tpl
}

func TestParse_SingleObject(t *testing.T) {
	captured, err := Parse(declaring("admin_password"), `{"id": "admin_password", "value": "s3cret"}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"admin_password": "s3cret"}, captured)
}

func TestParse_Array(t *testing.T) {
	captured, err := Parse(declaring("ip", "port"),
		`[{"id": "ip", "value": "10.0.0.42"}, {"name": "port", "value": 8080}]`)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"ip": "10.0.0.42", "port": "8080"}, captured)
}

func TestParse_NoDeclaredOutputsIgnoresStdout(t *testing.T) {
	captured, err := Parse(&application.Template{Name: "chatty"}, "Reading package lists... Done\n")
	require.NoError(t, err)
	assert.Nil(t, captured)
}

func TestParse_EmptyStdout(t *testing.T) {
	captured, err := Parse(declaring("ip"), "   \n")
	require.NoError(t, err)
	assert.Nil(t, captured)
}

func TestParse_MalformedJSON(t *testing.T) {
	_, err := Parse(declaring("ip"), "not json at all")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidOutput))
}

func TestParse_MissingID(t *testing.T) {
	_, err := Parse(declaring("ip"), `{"value": "10.0.0.42"}`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidOutput))
}

func TestParse_UndeclaredID(t *testing.T) {
	_, err := Parse(declaring("ip"), `{"id": "surprise", "value": "x"}`)
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.ErrCodeInvalidOutput))
	assert.Contains(t, err.Error(), `"surprise"`)
}

func TestParse_ValueRendering(t *testing.T) {
	captured, err := Parse(declaring("count", "flag", "text"),
		`[{"id": "count", "value": 3}, {"id": "flag", "value": false}, {"id": "text", "value": "plain"}]`)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"count": "3", "flag": "false", "text": "plain"}, captured)
}

func TestFinalize_StaticValueWins(t *testing.T) {
	tpl := &application.Template{
		Name:    "emit",
		Outputs: []application.Output{{ID: "mode", Value: "static", Default: "default"}},
	}
	st := store.New()

	require.NoError(t, Finalize(tpl, map[string]string{"mode": "captured"}, st))
	v, _ := st.Get("mode")
	assert.Equal(t, "static", v)
}

func TestFinalize_CapturedBeatsDefault(t *testing.T) {
	tpl := &application.Template{
		Name:    "emit",
		Outputs: []application.Output{{ID: "mode", Default: "default"}},
	}
	st := store.New()

	require.NoError(t, Finalize(tpl, map[string]string{"mode": "captured"}, st))
	v, _ := st.Get("mode")
	assert.Equal(t, "captured", v)
}

func TestFinalize_DefaultFillsIn(t *testing.T) {
	tpl := &application.Template{
		Name:    "emit",
		Outputs: []application.Output{{ID: "mode", Default: "default"}},
	}
	st := store.New()

	require.NoError(t, Finalize(tpl, nil, st))
	v, _ := st.Get("mode")
	assert.Equal(t, "default", v)
}

func TestFinalize_CapturedEmptyStringCounts(t *testing.T) {
	tpl := &application.Template{
		Name:    "emit",
		Outputs: []application.Output{{ID: "mode", Default: "default"}},
	}
	st := store.New()

	require.NoError(t, Finalize(tpl, map[string]string{"mode": ""}, st))
	v, ok := st.Get("mode")
	assert.True(t, ok)
	assert.Equal(t, "", v)
}

func TestFinalize_NeverProduced(t *testing.T) {
	tpl := &application.Template{
		Name:    "emit",
		Outputs: []application.Output{{ID: "mode"}},
	}

	err := Finalize(tpl, nil, store.New())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidOutput))
	assert.Contains(t, err.Error(), `"mode"`)
}
