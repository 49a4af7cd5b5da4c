package objectstore

import "errors"

// ErrNotFound is returned when the requested object does not exist.
var ErrNotFound = errors.New("object not found")
