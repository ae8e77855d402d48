package mirror

import "errors"

var (
	ErrNotFound = errors.New("mirror record not found")
)
