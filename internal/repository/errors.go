package repository

import "errors"

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("repository: not found")

// ErrDuplicateName is returned when a profile name is already taken.
var ErrDuplicateName = errors.New("repository: duplicate profile name")
