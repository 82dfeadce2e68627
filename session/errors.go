package session

import "errors"

var (
	// ErrInvalidRepo indicates a repository reference could not be
	// normalized into an owner and name.
	ErrInvalidRepo = errors.New("invalid repository reference")
)
