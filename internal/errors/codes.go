// Package errors provides machine-readable error codes for client-facing failures.
package errors

import stderrors "errors"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Session errors
	CodeSessionNotFound Code = "SESSION_NOT_FOUND"
	CodeSessionEnded    Code = "SESSION_ENDED"

	// Authorization errors
	CodeAccessDenied Code = "ACCESS_DENIED"

	// Projection errors
	CodeInvalidTransition Code = "INVALID_TRANSITION"

	// Connection errors
	CodeAuthenticationFailed Code = "AUTHENTICATION_FAILED"
	CodeInvalidMessage       Code = "INVALID_MESSAGE"
	CodeNotAttached          Code = "NOT_ATTACHED"

	// Dice errors
	CodeDiceInvalidExpr Code = "DICE_INVALID_EXPRESSION"
)

// Error pairs a code with a human-readable reason for client delivery.
type Error struct {
	Code   Code
	Reason string
}

// New creates an Error with the provided code and reason.
func New(code Code, reason string) *Error {
	return &Error{Code: code, Reason: reason}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Reason == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Reason
}

// CodeOf extracts the Code from an error, returning CodeUnknown when absent.
func CodeOf(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	var coded *Error
	if stderrors.As(err, &coded) {
		return coded.Code
	}
	return CodeUnknown
}
