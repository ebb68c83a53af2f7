// Package errors provides structured error handling for nemesis operations.
// It defines error codes, error types, and provides utilities for creating
// and classifying errors raised by the scan workflow.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeCanceled      ErrorCode = "CANCELED"

	// Collaborator failure causes.
	CodeNotInstalled ErrorCode = "NOT_INSTALLED"
	CodePermission   ErrorCode = "PERMISSION"
	CodeExecution    ErrorCode = "EXECUTION"

	// Workflow outcomes.
	CodeScanUnavailable  ErrorCode = "SCAN_UNAVAILABLE"
	CodeScanFailed       ErrorCode = "SCAN_FAILED"
	CodeEnrichmentFailed ErrorCode = "ENRICHMENT_FAILED"
	CodePersistence      ErrorCode = "PERSISTENCE"
)

// ScanError represents an error that occurred during scanning operations.
type ScanError struct {
	Code      ErrorCode
	Message   string
	Target    string
	Operation string
	Cause     error
	Context   map[string]interface{}
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Target != "" {
		msg = fmt.Sprintf("%s (target: %s)", msg, e.Target)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error.
func (e *ScanError) WithContext(key string, value interface{}) *ScanError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithOperation records which collaborator call failed.
func (e *ScanError) WithOperation(op string) *ScanError {
	e.Operation = op
	return e
}

// NewScanErrorWithTarget creates a scan error for a specific target.
func NewScanErrorWithTarget(code ErrorCode, message, target string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Target:  target,
		Context: make(map[string]interface{}),
	}
}

// WrapScanError wraps an existing error as a scan error.
func WrapScanError(code ErrorCode, message string, err error) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// WrapScanErrorWithTarget wraps an error with target information.
func WrapScanErrorWithTarget(code ErrorCode, message, target string, err error) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Target:  target,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Field != "" {
		msg = fmt.Sprintf("%s (field: %s)", msg, e.Field)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Utility functions for common error operations

// IsCode reports whether err, or any error it wraps, carries code.
func IsCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	switch e := err.(type) {
	case *ScanError:
		if e.Code == code {
			return true
		}
	case *ConfigError:
		if e.Code == code {
			return true
		}
	}

	switch u := err.(type) {
	case interface{ Unwrap() []error }:
		for _, inner := range u.Unwrap() {
			if IsCode(inner, code) {
				return true
			}
		}
	case interface{ Unwrap() error }:
		return IsCode(u.Unwrap(), code)
	}
	return false
}

// GetCode extracts the outermost error code from an error if it has one.
func GetCode(err error) ErrorCode {
	var scanErr *ScanError
	if stderrors.As(err, &scanErr) {
		return scanErr.Code
	}
	var cfgErr *ConfigError
	if stderrors.As(err, &cfgErr) {
		return cfgErr.Code
	}
	return CodeUnknown
}

// CauseCode returns the code of the innermost coded error in err's chain.
// For joined errors the first branch that carries a code wins.
func CauseCode(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	inner := CodeUnknown
	switch u := err.(type) {
	case interface{ Unwrap() []error }:
		for _, e := range u.Unwrap() {
			if inner = CauseCode(e); inner != CodeUnknown {
				break
			}
		}
	case interface{ Unwrap() error }:
		inner = CauseCode(u.Unwrap())
	}
	if inner != CodeUnknown {
		return inner
	}

	switch e := err.(type) {
	case *ScanError:
		return e.Code
	case *ConfigError:
		return e.Code
	}
	return CodeUnknown
}

// Operation returns the collaborator recorded on the innermost ScanError
// that has one, or "".
func Operation(err error) string {
	if err == nil {
		return ""
	}

	switch u := err.(type) {
	case interface{ Unwrap() []error }:
		for _, e := range u.Unwrap() {
			if op := Operation(e); op != "" {
				return op
			}
		}
	case interface{ Unwrap() error }:
		if op := Operation(u.Unwrap()); op != "" {
			return op
		}
	}

	if e, ok := err.(*ScanError); ok {
		return e.Operation
	}
	return ""
}

// Summary renders err as its codes only, e.g. "SCAN_FAILED: nmap EXECUTION".
// It never includes messages or collaborator output.
func Summary(err error) string {
	code := GetCode(err)
	cause := CauseCode(err)
	op := Operation(err)

	detail := string(cause)
	if op != "" {
		detail = op + " " + detail
	}
	if cause == code {
		return detail
	}
	return fmt.Sprintf("%s: %s", code, detail)
}

// IsFatal reports whether err should fail the run. Degradations are
// recorded on the report but never fail it.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	switch GetCode(err) {
	case CodeScanUnavailable, CodeEnrichmentFailed:
		return false
	default:
		return true
	}
}

// Common error creation functions

// ErrInvalidTarget creates an error for invalid scan targets.
func ErrInvalidTarget(target string) *ScanError {
	return NewScanErrorWithTarget(CodeConfiguration, "Invalid target specification", target)
}

// ErrScanUnavailable reports that the primary attempt failed and the
// workflow continues in degraded mode.
func ErrScanUnavailable(target string, err error) *ScanError {
	return WrapScanErrorWithTarget(CodeScanUnavailable, "Primary scan unavailable", target, err)
}

// ErrScanFailed reports that both the primary and the fallback attempt failed.
func ErrScanFailed(target string, err error) *ScanError {
	return WrapScanErrorWithTarget(CodeScanFailed, "Scan failed after fallback", target, err)
}

// ErrPersistence creates an error for an unwritable output artifact.
func ErrPersistence(path string, err error) *ScanError {
	return WrapScanError(CodePersistence, "Failed to write results", err).WithContext("path", path)
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeValidation, "Invalid configuration value", field, value)
}

// ErrConfigMissing creates an error for missing required configuration.
func ErrConfigMissing(field string) *ConfigError {
	return NewConfigFieldError(CodeConfiguration, "Required configuration field missing", field, nil)
}
