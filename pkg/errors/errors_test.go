package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Message(t *testing.T) {
	err := New(ErrCodeValidation, "something is off")
	assert.Equal(t, "[VALIDATION_ERROR] something is off", err.Error())
}

func TestError_WrapIncludesCause(t *testing.T) {
	cause := stderrors.New("disk full")
	err := Wrap(ErrCodeBackend, "write failed", cause)

	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, cause, stderrors.Unwrap(err))
}

func TestIs(t *testing.T) {
	err := NotFoundError("application", "nginx")

	assert.True(t, Is(err, ErrCodeNotFound))
	assert.False(t, Is(err, ErrCodeValidation))
	assert.False(t, Is(stderrors.New("plain"), ErrCodeNotFound))
	assert.False(t, Is(nil, ErrCodeNotFound))
}

func TestWithDetail(t *testing.T) {
	err := New(ErrCodeCatalog, "bad source").
		WithDetail("source", "git::example").
		WithDetails(map[string]interface{}{"ref": "main"})

	assert.Equal(t, "git::example", err.Details["source"])
	assert.Equal(t, "main", err.Details["ref"])
}

func TestCyclicExtendsError(t *testing.T) {
	err := CyclicExtendsError([]string{"a", "b", "a"})

	assert.True(t, Is(err, ErrCodeCyclicExtends))
	assert.Contains(t, err.Message, "a -> b -> a")
}

func TestMissingRequiredParameterError(t *testing.T) {
	err := MissingRequiredParameterError("edition", "install-gitlab")

	require.True(t, Is(err, ErrCodeMissingParameter))
	assert.Equal(t, "edition", err.Details["parameter"])
	assert.Equal(t, "install-gitlab", err.Details["template"])
}

func TestExecutionError(t *testing.T) {
	err := ExecutionError("configure", 2, 127, "sh: pct: not found")

	assert.True(t, Is(err, ErrCodeExecution))
	assert.Equal(t, 127, err.Details["exit_code"])
	assert.Contains(t, err.Message, `command 2 of template "configure"`)
}

func TestUnresolvedPlaceholderError(t *testing.T) {
	err := UnresolvedPlaceholderError([]string{"db_url", "db_user"}, "migrate", 0)

	assert.True(t, Is(err, ErrCodePlaceholder))
	assert.Contains(t, err.Message, "db_url, db_user")
}
