package store

import "errors"

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a moderation decision targets an item
// that has already been approved or rejected.
var ErrConflict = errors.New("already decided")
