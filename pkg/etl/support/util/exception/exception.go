// Package exception defines the error taxonomy of the statickg ETL engine.
// Every fatal condition is reported as an *ETLError carrying the module where it
// happened and one of the sentinel kinds below, so callers can classify it with errors.Is.
package exception

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigDrift means the persisted pipeline snapshot differs from the current configuration.
	ErrConfigDrift = errors.New("configuration drift")
	// ErrRequiredInputMissing means a non-optional task matched no input file.
	ErrRequiredInputMissing = errors.New("required input missing")
	// ErrTransformation means a compiler or per-file transformation failed.
	ErrTransformation = errors.New("transformation failed")
	// ErrStoreLoad means a load, upload or delete call against the store failed.
	ErrStoreLoad = errors.New("store load failed")
	// ErrServiceLifecycle means a store instance could not be started or stopped.
	ErrServiceLifecycle = errors.New("service lifecycle failure")
	// ErrCacheStore means the cache index could not be read or written.
	ErrCacheStore = errors.New("cache store failure")
	// ErrInvalidConfig means a configuration document or task argument is malformed.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ETLError is the error type returned by the engine for fatal conditions.
type ETLError struct {
	// Module is the component that raised the error (e.g. "runner", "copy", "fuseki").
	Module string
	// Message describes the failure, including the offending identity.
	Message string
	// Kind is one of the sentinel errors of this package.
	Kind error
	// OriginalErr is the wrapped cause, if any.
	OriginalErr error
}

// NewETLError creates a new ETLError.
//
// Parameters:
//
//	module: The component where the error occurred.
//	kind: The sentinel kind (ErrStoreLoad, ErrTransformation, ...).
//	message: The error message.
//	originalErr: The cause to wrap. May be nil.
func NewETLError(module string, kind error, message string, originalErr error) *ETLError {
	return &ETLError{
		Module:      module,
		Message:     message,
		Kind:        kind,
		OriginalErr: originalErr,
	}
}

// NewETLErrorf creates a new ETLError using a format string. When the last
// argument is an error it is taken as the wrapped cause and not formatted.
//
// Example:
//
//	NewETLErrorf("copy", ErrTransformation, "failed to copy %s", ident, err)
func NewETLErrorf(module string, kind error, format string, a ...interface{}) *ETLError {
	var originalErr error
	args := a
	if len(args) > 0 {
		if err, ok := args[len(args)-1].(error); ok {
			originalErr = err
			args = args[:len(args)-1]
		}
	}
	return NewETLError(module, kind, fmt.Sprintf(format, args...), originalErr)
}

// Error implements the error interface.
func (e *ETLError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *ETLError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.OriginalErr != nil {
		errs = append(errs, e.OriginalErr)
	}
	return errs
}

// IsETLError reports whether err is, or wraps, an *ETLError.
func IsETLError(err error) bool {
	var etlErr *ETLError
	return errors.As(err, &etlErr)
}

// ExtractErrorMessage returns the Message of an *ETLError, or err.Error() otherwise.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var etlErr *ETLError
	if errors.As(err, &etlErr) {
		return etlErr.Message
	}
	return err.Error()
}
