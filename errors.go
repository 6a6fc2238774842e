// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"errors"
	"slices"
)

// ErrorCode classifies a failure. The code, not the message, is what
// callers should branch on.
type ErrorCode int

// Error categories.
const (
	ErrProtocol       ErrorCode = iota // malformed or unexpected RFB traffic
	ErrAuthentication                  // security negotiation or password check failed
	ErrEncoding                        // a rectangle payload could not be decoded
	ErrNetwork                         // dial, read or write failure
	ErrConfiguration                   // invalid configuration file or value
	ErrTimeout                         // deadline expired or operation cancelled
	ErrValidation                      // argument or wire value out of range
	ErrUnsupported                     // message, encoding or security type not implemented
	ErrPlugin                          // plugin could not be located, loaded or initialized
	ErrCapture                         // screen capture engine failure
	ErrState                           // operation not allowed in the current lifecycle state
)

var codeNames = [...]string{
	ErrProtocol:       "protocol",
	ErrAuthentication: "authentication",
	ErrEncoding:       "encoding",
	ErrNetwork:        "network",
	ErrConfiguration:  "configuration",
	ErrTimeout:        "timeout",
	ErrValidation:     "validation",
	ErrUnsupported:    "unsupported",
	ErrPlugin:         "plugin",
	ErrCapture:        "capture",
	ErrState:          "state",
}

// String returns the lower case name used in error messages.
func (e ErrorCode) String() string {
	if e < 0 || int(e) >= len(codeNames) {
		return "unknown"
	}
	return codeNames[e]
}

// VNCError carries the operation, category and message of a failure together
// with the error that caused it.
type VNCError struct {
	Op      string
	Code    ErrorCode
	Message string
	Err     error
}

// Error formats the error as "vnc <code>: <op>: <message>[: <cause>]".
func (e *VNCError) Error() string {
	msg := "vnc " + e.Code.String() + ": " + e.Op + ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain unwrapping.
func (e *VNCError) Unwrap() error {
	return e.Err
}

// Is reports whether this error matches the target error by code and operation.
func (e *VNCError) Is(target error) bool {
	var vncErr *VNCError
	if errors.As(target, &vncErr) {
		return e.Code == vncErr.Code && e.Op == vncErr.Op
	}
	return false
}

// NewVNCError creates a new VNCError with the specified parameters.
func NewVNCError(op string, code ErrorCode, message string, err error) *VNCError {
	return &VNCError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WrapError is NewVNCError for an existing cause. It returns nil when err is nil.
func WrapError(op string, code ErrorCode, message string, err error) error {
	if err == nil {
		return nil
	}
	return NewVNCError(op, code, message, err)
}

// IsVNCError reports whether err is, or wraps, a VNCError. With codes it
// additionally requires the error to carry one of them.
func IsVNCError(err error, codes ...ErrorCode) bool {
	var vncErr *VNCError
	if !errors.As(err, &vncErr) {
		return false
	}
	return len(codes) == 0 || slices.Contains(codes, vncErr.Code)
}

// GetErrorCode extracts the error code from a VNCError, or -1 for other errors.
func GetErrorCode(err error) ErrorCode {
	var vncErr *VNCError
	if errors.As(err, &vncErr) {
		return vncErr.Code
	}
	return ErrorCode(-1)
}

// errorOf returns a constructor for errors of one category.
func errorOf(code ErrorCode) func(op, message string, err error) error {
	return func(op, message string, err error) error {
		return NewVNCError(op, code, message, err)
	}
}

var (
	protocolError       = errorOf(ErrProtocol)
	authenticationError = errorOf(ErrAuthentication)
	encodingError       = errorOf(ErrEncoding)
	networkError        = errorOf(ErrNetwork)
	timeoutError        = errorOf(ErrTimeout)
	validationError     = errorOf(ErrValidation)
	unsupportedError    = errorOf(ErrUnsupported)
	stateError          = errorOf(ErrState)
)
