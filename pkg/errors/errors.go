// Package errors provides structured error types for lxc-deployer.
package errors

import (
	"fmt"
	"strings"
)

// ErrorCode identifies specific error conditions
type ErrorCode string

const (
	ErrCodeValidation       ErrorCode = "VALIDATION_ERROR"
	ErrCodeParse            ErrorCode = "PARSE_ERROR"
	ErrCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrCodeCyclicExtends    ErrorCode = "CYCLIC_EXTENDS"
	ErrCodeUnknownParent    ErrorCode = "UNKNOWN_PARENT"
	ErrCodeMissingParameter ErrorCode = "MISSING_REQUIRED_PARAMETER"
	ErrCodePlaceholder      ErrorCode = "UNRESOLVED_PLACEHOLDER"
	ErrCodeCondition        ErrorCode = "CONDITION_ERROR"
	ErrCodeExecution        ErrorCode = "EXECUTION_ERROR"
	ErrCodeInvalidOutput    ErrorCode = "INVALID_OUTPUT"
	ErrCodeCancelled        ErrorCode = "CANCELLED"
	ErrCodeBackend          ErrorCode = "BACKEND_ERROR"
	ErrCodeTarget           ErrorCode = "TARGET_ERROR"
	ErrCodeOCI              ErrorCode = "OCI_ERROR"
	ErrCodeCatalog          ErrorCode = "CATALOG_ERROR"
	ErrCodeCrypto           ErrorCode = "CRYPTO_ERROR"
)

// Error is the base error type for lxc-deployer
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
	Details map[string]interface{}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new error with the given code and message
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// Wrap creates a new error wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
		Details: make(map[string]interface{}),
	}
}

// WithDetails adds details to an error
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail adds a single detail to an error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	e.Details[key] = value
	return e
}

// ValidationError creates a validation error
func ValidationError(message string, details map[string]interface{}) *Error {
	return &Error{
		Code:    ErrCodeValidation,
		Message: message,
		Details: details,
	}
}

// NotFoundError creates a not found error
func NotFoundError(resourceType, name string) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s %q not found", resourceType, name),
		Details: map[string]interface{}{
			"resource_type": resourceType,
			"name":          name,
		},
	}
}

// ParseError creates a parse error
func ParseError(filePath string, err error) *Error {
	return &Error{
		Code:    ErrCodeParse,
		Message: fmt.Sprintf("failed to parse %s", filePath),
		Cause:   err,
		Details: map[string]interface{}{
			"file": filePath,
		},
	}
}

// CyclicExtendsError reports a cycle in the extends chain. The cycle slice
// holds the application ids in visit order, ending with the id that closed
// the cycle.
func CyclicExtendsError(cycle []string) *Error {
	return &Error{
		Code:    ErrCodeCyclicExtends,
		Message: fmt.Sprintf("cyclic extends chain: %s", strings.Join(cycle, " -> ")),
		Details: map[string]interface{}{
			"cycle": cycle,
		},
	}
}

// UnknownParentError reports an extends reference to an application that does
// not exist in the catalog.
func UnknownParentError(child, parent string) *Error {
	return &Error{
		Code:    ErrCodeUnknownParent,
		Message: fmt.Sprintf("application %q extends unknown parent %q", child, parent),
		Details: map[string]interface{}{
			"child":  child,
			"parent": parent,
		},
	}
}

// MissingRequiredParameterError reports a required template parameter that
// could not be resolved from the caller override, the value store, or the
// declared default.
func MissingRequiredParameterError(parameter, template string) *Error {
	return &Error{
		Code:    ErrCodeMissingParameter,
		Message: fmt.Sprintf("required parameter %q of template %q has no value", parameter, template),
		Details: map[string]interface{}{
			"parameter": parameter,
			"template":  template,
		},
	}
}

// UnresolvedPlaceholderError reports placeholder tokens in a command body
// with no corresponding resolved value.
func UnresolvedPlaceholderError(placeholders []string, template string, command int) *Error {
	return &Error{
		Code:    ErrCodePlaceholder,
		Message: fmt.Sprintf("unresolved placeholder(s) %s in command %d of template %q", strings.Join(placeholders, ", "), command, template),
		Details: map[string]interface{}{
			"placeholders": placeholders,
			"template":     template,
			"command":      command,
		},
	}
}

// ConditionError creates a condition evaluation error
func ConditionError(expression string, err error) *Error {
	return &Error{
		Code:    ErrCodeCondition,
		Message: fmt.Sprintf("failed to evaluate condition: %s", expression),
		Cause:   err,
		Details: map[string]interface{}{
			"expression": expression,
		},
	}
}

// ExecutionError reports a remote command that exited non-zero. The stderr
// tail is attached so callers can surface the script's own diagnostics.
func ExecutionError(template string, command, exitCode int, stderrTail string) *Error {
	return &Error{
		Code:    ErrCodeExecution,
		Message: fmt.Sprintf("command %d of template %q exited with status %d", command, template, exitCode),
		Details: map[string]interface{}{
			"template":  template,
			"command":   command,
			"exit_code": exitCode,
			"stderr":    stderrTail,
		},
	}
}

// InvalidOutputError reports captured stdout that could not be parsed
// against the template's declared outputs.
func InvalidOutputError(template string, raw string, cause error) *Error {
	return &Error{
		Code:    ErrCodeInvalidOutput,
		Message: fmt.Sprintf("template %q produced invalid output", template),
		Cause:   cause,
		Details: map[string]interface{}{
			"template": template,
			"raw":      raw,
		},
	}
}

// BackendError creates a backend error
func BackendError(backend string, operation string, err error) *Error {
	return &Error{
		Code:    ErrCodeBackend,
		Message: fmt.Sprintf("backend %s failed during %s", backend, operation),
		Cause:   err,
		Details: map[string]interface{}{
			"backend":   backend,
			"operation": operation,
		},
	}
}

// TargetError reports a transport-level failure talking to an execution
// target (as opposed to a command that ran and exited non-zero).
func TargetError(target string, err error) *Error {
	return &Error{
		Code:    ErrCodeTarget,
		Message: fmt.Sprintf("execution target %s failed", target),
		Cause:   err,
		Details: map[string]interface{}{
			"target": target,
		},
	}
}

// Is checks if the error matches the given code
func Is(err error, code ErrorCode) bool {
	if e, ok := err.(*Error); ok {
		return e.Code == code
	}
	return false
}
