package repository

import "errors"

var (
	// ErrDirectoryUnavailable indicates the session directory could not be reached
	ErrDirectoryUnavailable = errors.New("session directory unavailable")

	// ErrDirectoryQuery indicates the lookup itself failed
	ErrDirectoryQuery = errors.New("session directory query failed")
)
