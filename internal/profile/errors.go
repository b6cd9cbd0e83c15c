package profile

import "errors"

var (
	// ErrNoProfileSelected is returned when the service is asked to
	// start but no profile has been selected.
	ErrNoProfileSelected = errors.New("no profile selected")

	// ErrEmptyProfile is returned when the selected profile has no
	// configuration content.
	ErrEmptyProfile = errors.New("profile content is empty")
)
