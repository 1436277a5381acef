package atom

import (
	"errors"
	"fmt"
)

// Error represents a failure of a get-or-create operation.
//
// Errors carry a Code for programmatic handling:
//   - UNKNOWN_ATOM_KIND: malformed input, caller bug, never retried
//   - INVALID_ATOM: variant invariant violated (e.g. zero-arity composite)
//   - ALLOCATION_EXHAUSTED: no fresh identity can be produced, fatal
//   - SUBSTRATE_UNAVAILABLE: the backing store failed; retry the whole session
//   - IDENTITY_KEY_COLLISION: the index returned several atoms for one key
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Key is the printable identity key involved, if any.
	Key string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes store errors.
type ErrorCode string

const (
	// ErrCodeUnknownKind indicates an atom that is neither Leaf nor Composite.
	ErrCodeUnknownKind ErrorCode = "UNKNOWN_ATOM_KIND"

	// ErrCodeInvalidAtom indicates a structurally malformed atom.
	ErrCodeInvalidAtom ErrorCode = "INVALID_ATOM"

	// ErrCodeAllocationExhausted indicates the allocator ran out of identities.
	ErrCodeAllocationExhausted ErrorCode = "ALLOCATION_EXHAUSTED"

	// ErrCodeSubstrateUnavailable indicates a substrate read or write failed.
	ErrCodeSubstrateUnavailable ErrorCode = "SUBSTRATE_UNAVAILABLE"

	// ErrCodeKeyCollision indicates an index or encoding defect.
	ErrCodeKeyCollision ErrorCode = "IDENTITY_KEY_COLLISION"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Key != "" {
		msg = fmt.Sprintf("%s (key=%s)", msg, e.Key)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether restarting the session may succeed.
func (e *Error) Retryable() bool {
	return e.Code == ErrCodeSubstrateUnavailable
}

// NewUnknownKindError creates an Error for an unrecognized kind tag.
func NewUnknownKindError(kind string) *Error {
	return &Error{
		Code:    ErrCodeUnknownKind,
		Message: fmt.Sprintf("unknown atom kind %q", kind),
	}
}

// NewInvalidAtomError creates an Error for a malformed atom.
func NewInvalidAtomError(msg string) *Error {
	return &Error{Code: ErrCodeInvalidAtom, Message: msg}
}

// NewExhaustedError creates an Error for an exhausted allocator.
func NewExhaustedError(msg string) *Error {
	return &Error{Code: ErrCodeAllocationExhausted, Message: msg}
}

// NewUnavailableError wraps a substrate failure.
func NewUnavailableError(op string, err error) *Error {
	return &Error{
		Code:    ErrCodeSubstrateUnavailable,
		Message: op,
		Err:     err,
	}
}

// NewCollisionError creates an Error for a key matched by several atoms.
func NewCollisionError(key Key, ids []Identity) *Error {
	return &Error{
		Code:    ErrCodeKeyCollision,
		Message: fmt.Sprintf("%d atoms share one identity key: %v", len(ids), ids),
		Key:     key.String(),
	}
}

// HasCode reports whether err is an *Error with the given code.
// Uses errors.As to handle wrapped errors.
func HasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsUnknownKind returns true for UNKNOWN_ATOM_KIND errors.
func IsUnknownKind(err error) bool { return HasCode(err, ErrCodeUnknownKind) }

// IsInvalidAtom returns true for INVALID_ATOM errors.
func IsInvalidAtom(err error) bool { return HasCode(err, ErrCodeInvalidAtom) }

// IsExhausted returns true for ALLOCATION_EXHAUSTED errors.
func IsExhausted(err error) bool { return HasCode(err, ErrCodeAllocationExhausted) }

// IsSubstrateUnavailable returns true for SUBSTRATE_UNAVAILABLE errors.
func IsSubstrateUnavailable(err error) bool { return HasCode(err, ErrCodeSubstrateUnavailable) }

// IsCollision returns true for IDENTITY_KEY_COLLISION errors.
func IsCollision(err error) bool { return HasCode(err, ErrCodeKeyCollision) }
