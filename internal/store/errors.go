package store

import "errors"

// ErrStoreUnavailable marks failures where the database itself cannot be
// reached, as opposed to a query-level problem. New wraps open and ping
// failures with it so callers can distinguish a dead backend from bad input.
var ErrStoreUnavailable = errors.New("store unavailable")
