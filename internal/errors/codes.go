package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents internal error codes for launcher operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Request errors
	ErrCodeUnknownVersion     ErrorCode = 1000
	ErrCodeUnsupportedLoader  ErrorCode = 1001
	ErrCodeDuplicateName      ErrorCode = 1002
	ErrCodeInvalidName        ErrorCode = 1003
	ErrCodeNotFound           ErrorCode = 1004
	ErrCodeInstanceBusy       ErrorCode = 1005
	ErrCodeInstanceNotReady   ErrorCode = 1006

	// Upstream / integrity errors
	ErrCodeCatalogUnavailable         ErrorCode = 2000
	ErrCodeUpstreamManifestMalformed  ErrorCode = 2001
	ErrCodeIntegrityMismatch          ErrorCode = 2002
	ErrCodeDownloadFailed             ErrorCode = 2003
	ErrCodeCancelled                  ErrorCode = 2004
	ErrCodeInternal                   ErrorCode = 2005
)

// LauncherError represents a structured error with code and context
type LauncherError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *LauncherError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *LauncherError) Unwrap() error {
	return e.Cause
}

// NewLauncherError creates a new LauncherError
func NewLauncherError(code ErrorCode, message string, cause error) *LauncherError {
	return &LauncherError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *LauncherError) WithDetail(key string, value interface{}) *LauncherError {
	e.Details[key] = value
	return e
}

// CodeOf extracts the ErrorCode from any error in err's chain.
// Returns ErrCodeInternal for errors that did not originate here.
func CodeOf(err error) ErrorCode {
	var le *LauncherError
	if errors.As(err, &le) {
		return le.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether any error in err's chain carries the given code
func IsCode(err error, code ErrorCode) bool {
	var le *LauncherError
	if errors.As(err, &le) {
		return le.Code == code
	}
	return false
}

// Convenience constructors for common errors

func UnknownVersion(id string) *LauncherError {
	return NewLauncherError(ErrCodeUnknownVersion, fmt.Sprintf("unknown version: %s", id), nil).
		WithDetail("version_id", id)
}

func UnsupportedLoader(id, loader string) *LauncherError {
	return NewLauncherError(ErrCodeUnsupportedLoader, fmt.Sprintf("loader %s has no build for version %s", loader, id), nil).
		WithDetail("version_id", id).
		WithDetail("loader", loader)
}

func DuplicateName(name string) *LauncherError {
	return NewLauncherError(ErrCodeDuplicateName, fmt.Sprintf("instance name already in use: %s", name), nil).
		WithDetail("name", name)
}

func InvalidName(name, reason string) *LauncherError {
	return NewLauncherError(ErrCodeInvalidName, fmt.Sprintf("invalid instance name %q: %s", name, reason), nil).
		WithDetail("name", name)
}

func NotFound(name string) *LauncherError {
	return NewLauncherError(ErrCodeNotFound, fmt.Sprintf("instance not found: %s", name), nil).
		WithDetail("name", name)
}

func InstanceBusy(name string) *LauncherError {
	return NewLauncherError(ErrCodeInstanceBusy, fmt.Sprintf("instance is busy: %s", name), nil).
		WithDetail("name", name)
}

func CatalogUnavailable(cause error) *LauncherError {
	return NewLauncherError(ErrCodeCatalogUnavailable, "version catalog unavailable", cause)
}

func UpstreamManifestMalformed(subject string, cause error) *LauncherError {
	return NewLauncherError(ErrCodeUpstreamManifestMalformed, fmt.Sprintf("malformed upstream manifest: %s", subject), cause).
		WithDetail("subject", subject)
}

func IntegrityMismatch(path, expected, actual string) *LauncherError {
	return NewLauncherError(ErrCodeIntegrityMismatch, fmt.Sprintf("integrity mismatch for %s: expected %s, got %s", path, expected, actual), nil).
		WithDetail("path", path).
		WithDetail("expected", expected).
		WithDetail("actual", actual)
}

func DownloadFailed(url string, cause error) *LauncherError {
	return NewLauncherError(ErrCodeDownloadFailed, fmt.Sprintf("download failed: %s", url), cause).
		WithDetail("url", url)
}

func Cancelled(cause error) *LauncherError {
	return NewLauncherError(ErrCodeCancelled, "provisioning cancelled", cause)
}

// FailedEntry records one provisioning task that exhausted its retries
type FailedEntry struct {
	Name string
	Kind string
	Err  error
}

// PartialFailure aggregates the tasks of a provisioning run that failed
// after all retries. Completed sibling tasks are not rolled back; the run
// can be re-entered to attempt only the failed subset.
type PartialFailure struct {
	Failed []FailedEntry
}

// Error implements the error interface
func (e *PartialFailure) Error() string {
	names := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		names[i] = f.Name
	}
	return fmt.Sprintf("provisioning incomplete: %d entries failed: %s", len(e.Failed), strings.Join(names, ", "))
}
