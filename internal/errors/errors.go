package errors

import (
	"errors"
	"fmt"
)

// Error codes for programmatic handling.
const (
	CodeUsage              = "USAGE"
	CodeStorage            = "STORAGE"
	CodeEmbedding          = "EMBEDDING"
	CodeInference          = "INFERENCE"
	CodeNotFound           = "NOT_FOUND"
	CodeInvalidMessage     = "INVALID_MESSAGE"
	CodeMaxIterations      = "MAX_ITERATIONS"
	CodeConfigInvalid      = "CONFIG_INVALID"
	CodeAPIKeyMissing      = "API_KEY_MISSING"
	CodeNamespaceViolation = "NAMESPACE_VIOLATION"
)

// ErrNotFound matches any error carrying CodeNotFound under errors.Is.
var ErrNotFound = New(CodeNotFound, "not found")

// MemchatError is a structured error with a code and actionable suggestion.
type MemchatError struct {
	Code       string // machine-readable code (e.g. USAGE)
	Message    string // human-readable description
	Suggestion string // actionable fix
	Err        error  // wrapped underlying error
}

// Error implements the error interface.
func (e *MemchatError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap supports errors.Is / errors.As.
func (e *MemchatError) Unwrap() error {
	return e.Err
}

// New creates a MemchatError with the given code and message.
func New(code, message string) *MemchatError {
	return &MemchatError{Code: code, Message: message}
}

// Newf is New with a format string.
func Newf(code, format string, args ...any) *MemchatError {
	return &MemchatError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a MemchatError wrapping an existing error.
func Wrap(code, message string, err error) *MemchatError {
	return &MemchatError{Code: code, Message: message, Err: err}
}

// WithSuggestion sets the suggestion and returns the same error.
func (e *MemchatError) WithSuggestion(suggestion string) *MemchatError {
	e.Suggestion = suggestion
	return e
}

// Is checks whether target matches this error's code.
func (e *MemchatError) Is(target error) bool {
	var me *MemchatError
	if errors.As(target, &me) {
		return e.Code == me.Code
	}
	return false
}

// AsCode extracts the MemchatError code from an error, or "" if not a MemchatError.
func AsCode(err error) string {
	var me *MemchatError
	if errors.As(err, &me) {
		return me.Code
	}
	return ""
}

// HasCode reports whether any error in err's chain carries code.
func HasCode(err error, code string) bool {
	for err != nil {
		var me *MemchatError
		if !errors.As(err, &me) {
			return false
		}
		if me.Code == code {
			return true
		}
		err = me.Err
	}
	return false
}

// Suggestion extracts the suggestion from an error, or "" if not a MemchatError.
func Suggestion(err error) string {
	var me *MemchatError
	if errors.As(err, &me) {
		return me.Suggestion
	}
	return ""
}
