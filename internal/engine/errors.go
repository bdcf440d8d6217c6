package engine

import "errors"

// ErrDuplicateTimestamp is returned by WritePoint when a point with the
// same timestamp already exists for that symbol in the memory tier.
var ErrDuplicateTimestamp = errors.New("engine: duplicate timestamp for symbol")

// ErrClosed is returned by any operation called after Close.
var ErrClosed = errors.New("engine: closed")
