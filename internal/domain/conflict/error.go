package conflict

import "errors"

var ErrNotFound = errors.New("conflict not found")
