// Package errors provides coded errors with context, retryability and a
// captured stack, used across the model and storage layers.
package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// ErrorCode identifies a failure class.
type ErrorCode string

const (
	// Configuration
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigParse   ErrorCode = "CONFIG_PARSE"
	ErrCodeConfigInvalid ErrorCode = "CONFIG_INVALID"

	// Model providers
	ErrCodeModelNotFound ErrorCode = "MODEL_NOT_FOUND"
	ErrCodeModelAPIError ErrorCode = "MODEL_API_ERROR"
	ErrCodeModelTimeout  ErrorCode = "MODEL_TIMEOUT"

	// Storage
	ErrCodeStorageRead  ErrorCode = "STORAGE_READ"
	ErrCodeStorageWrite ErrorCode = "STORAGE_WRITE"

	// Tickets
	ErrCodeTicketNotFound ErrorCode = "TICKET_NOT_FOUND"

	// Tools
	ErrCodeToolNotFound  ErrorCode = "TOOL_NOT_FOUND"
	ErrCodeToolExecution ErrorCode = "TOOL_EXECUTION"
	ErrCodeToolTimeout   ErrorCode = "TOOL_TIMEOUT"

	// Generic
	ErrCodeInternal     ErrorCode = "INTERNAL"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// Error is a coded error. Context carries structured detail for logs;
// Retryable tells callers whether trying again can help.
type Error struct {
	Code       ErrorCode
	Message    string
	Underlying error
	Context    map[string]any
	Stack      []Frame
	Retryable  bool
}

// Frame is one entry of the captured call stack.
type Frame struct {
	Function string
	File     string
	Line     int
}

// New builds a coded error, capturing the caller's stack.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: map[string]any{},
		Stack:   callers(3),
	}
}

// Wrap attaches a code and message to an existing error. Wrapping nil
// returns nil so call sites can wrap unconditionally.
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:       code,
		Message:    message,
		Underlying: err,
		Context:    map[string]any{},
		Stack:      callers(3),
	}
}

// WithContext records a key-value detail on the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = map[string]any{}
	}
	e.Context[key] = value
	return e
}

// WithRetryable marks whether the operation may succeed on retry.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

func (e *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", e.Code, e.Message)

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" {")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s: %v", k, e.Context[k])
		}
		sb.WriteString("}")
	}

	if e.Underlying != nil {
		fmt.Fprintf(&sb, ": %v", e.Underlying)
	}
	return sb.String()
}

// Unwrap exposes the underlying error to errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Underlying
}

// IsRetryable reports whether a retry may succeed.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// StackTrace renders the captured stack, one frame per entry.
func (e *Error) StackTrace() string {
	var sb strings.Builder
	sb.WriteString("Stack trace:\n")
	for i, f := range e.Stack {
		fmt.Fprintf(&sb, "  %d. %s\n     %s:%d\n", i+1, f.Function, f.File, f.Line)
	}
	return sb.String()
}

func callers(skip int) []Frame {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip, pcs)
	if n == 0 {
		return nil
	}

	out := make([]Frame, 0, n)
	cf := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := cf.Next()
		out = append(out, Frame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more {
			break
		}
	}
	return out
}

// IsCode reports whether err (or anything it wraps) carries the code.
func IsCode(err error, code ErrorCode) bool {
	var coded *Error
	if !stderrors.As(err, &coded) {
		return false
	}
	return coded.Code == code
}

// GetCode returns the error's code. Non-coded errors map to
// ErrCodeInternal; nil maps to the empty code.
func GetCode(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var coded *Error
	if !stderrors.As(err, &coded) {
		return ErrCodeInternal
	}
	return coded.Code
}
