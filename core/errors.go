package core

import "errors"

var (
	// ErrNotFound is returned when an entry or user record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an entry id is already taken.
	ErrConflict = errors.New("conflict")
	// ErrInvalidInput wraps validation failures on caller-supplied data.
	ErrInvalidInput = errors.New("invalid input")
	// ErrEmptyUserID is returned for blank user identifiers.
	ErrEmptyUserID = errors.New("empty user id")
	// ErrOverflow is returned when an XP total would leave the int64 range.
	ErrOverflow = errors.New("integer overflow")
)
