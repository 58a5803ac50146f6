package models

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors
type ErrorType int

const (
	ErrInputIntegrity ErrorType = iota
	ErrInvalidConfig
	ErrFileOp
	ErrMerge
	ErrBOMRead
	ErrBOMWrite
	ErrValidation
	ErrSigning
)

// String returns the string representation of ErrorType
func (e ErrorType) String() string {
	switch e {
	case ErrInputIntegrity:
		return "InputIntegrity"
	case ErrInvalidConfig:
		return "InvalidConfig"
	case ErrFileOp:
		return "FileOp"
	case ErrMerge:
		return "Merge"
	case ErrBOMRead:
		return "BOMRead"
	case ErrBOMWrite:
		return "BOMWrite"
	case ErrValidation:
		return "Validation"
	case ErrSigning:
		return "Signing"
	default:
		return "Unknown"
	}
}

// RepackError represents an error during a repack run
type RepackError struct {
	Type    ErrorType
	Package string
	Err     error
}

// Error implements the error interface
func (e *RepackError) Error() string {
	if e.Package != "" {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Package, e.Err)
	}
	return fmt.Sprintf("[%s] %v", e.Type, e.Err)
}

// Unwrap returns the wrapped error
func (e *RepackError) Unwrap() error {
	return e.Err
}

// NewError wraps err into a RepackError of the given type
func NewError(t ErrorType, pkg string, err error) *RepackError {
	return &RepackError{Type: t, Package: pkg, Err: err}
}

// IsErrorType reports whether err wraps a RepackError of type t
func IsErrorType(err error, t ErrorType) bool {
	var re *RepackError
	if !errors.As(err, &re) {
		return false
	}
	return re.Type == t
}
