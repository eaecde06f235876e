package repository

import "errors"

// Sentinel kinds for repository errors.
var (
	ErrNotFound       = errors.New("ranking not found")
	ErrDuplicate      = errors.New("ranking already exists")
	ErrUnavailable    = errors.New("ranking repository unavailable")
	ErrInvalidRequest = errors.New("invalid ranking request")
	ErrUnknownDriver  = errors.New("unknown database driver")
)
