// Package fault defines the classified error type shared across taskd
// components. Every failure that crosses a component boundary carries a
// Code so callers, the HTTP layer, and run logs can branch on the class
// of failure without matching message strings.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

// Code classifies a failure.
type Code string

const (
	// CodeValidation indicates malformed or out-of-policy input.
	CodeValidation Code = "VALIDATION"
	// CodeLockTimeout indicates a lock could not be acquired within its deadline.
	CodeLockTimeout Code = "LOCK_TIMEOUT"
	// CodeNotFound indicates a referenced entity does not exist.
	CodeNotFound Code = "NOT_FOUND"
	// CodeTaskRunning indicates the task is already being executed.
	CodeTaskRunning Code = "TASK_RUNNING"
	// CodeFilesystem indicates an I/O failure reading or writing state.
	CodeFilesystem Code = "FILESYSTEM"
	// CodeSecurity indicates a path or content policy violation.
	CodeSecurity Code = "SECURITY"
	// CodeExternal indicates a failure in an external system (model
	// backend, VCS remote, hosting provider).
	CodeExternal Code = "EXTERNAL"
)

// FieldError pins a validation problem to the input field that caused it.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (f FieldError) String() string {
	return f.Field + ": " + f.Message
}

// Fault is a classified error. Op names the operation that failed in
// package.method form, e.g. "docstore.AddDocument". Fields carries the
// per-field detail of VALIDATION failures so callers can report every
// problem at once.
type Fault struct {
	Code   Code
	Op     string
	Err    error
	Fields []FieldError
}

// Error implements the error interface.
func (f *Fault) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: %s", f.Op, f.Code)
	}
	return fmt.Sprintf("%s: %s: %s", f.Op, f.Code, f.Err.Error())
}

// Unwrap allows errors.Is and errors.As to see through the classification.
func (f *Fault) Unwrap() error {
	return f.Err
}

// New creates a classified error from a format string.
func New(code Code, op, format string, args ...any) *Fault {
	return &Fault{Code: code, Op: op, Err: fmt.Errorf(format, args...)}
}

// NewValidation creates a VALIDATION fault carrying the full field
// error list.
func NewValidation(op string, fields []FieldError) *Fault {
	parts := make([]string, len(fields))
	for i, fe := range fields {
		parts[i] = fe.String()
	}
	return &Fault{
		Code:   CodeValidation,
		Op:     op,
		Err:    fmt.Errorf("invalid input: %s", strings.Join(parts, "; ")),
		Fields: fields,
	}
}

// FieldsOf extracts the field error list from an error chain. Returns
// nil for errors without one.
func FieldsOf(err error) []FieldError {
	var f *Fault
	if errors.As(err, &f) {
		return f.Fields
	}
	return nil
}

// Wrap classifies an existing error. Returns nil when err is nil. If err
// is already a Fault its code is preserved and only the operation chain
// grows, so the first classification wins.
func Wrap(code Code, op string, err error) error {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return &Fault{Code: f.Code, Op: op, Err: err, Fields: f.Fields}
	}
	return &Fault{Code: code, Op: op, Err: err}
}

// CodeOf extracts the classification from an error chain. Unclassified
// errors report the empty Code.
func CodeOf(err error) Code {
	var f *Fault
	if errors.As(err, &f) {
		return f.Code
	}
	return ""
}

// Is reports whether the error chain carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
