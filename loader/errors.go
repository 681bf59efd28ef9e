package loader

import "errors"

var (
	// ErrMissingColumn indicates a manifest without a required header.
	ErrMissingColumn = errors.New("manifest column missing")

	// ErrNotDirectory indicates LoadDir was given something other than a directory.
	ErrNotDirectory = errors.New("not a directory")
)
