package vfs

import "errors"

// Sentinel errors returned by the virtual filesystem layer. Handlers map
// these to HTTP status codes with errors.Is; anything else is an internal
// failure.
var (
	ErrInvalidPath   = errors.New("invalid path")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrCorruptData   = errors.New("corrupt data")
)
