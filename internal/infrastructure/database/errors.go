package database

import "errors"

// Errors returned while acquiring or releasing a store connection.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrEmptyPath is returned when no store path was supplied.
	ErrEmptyPath = errors.New("database: store path is empty")

	// ErrNotFound is returned when the store file does not exist and creation is disabled.
	ErrNotFound = errors.New("database: store file does not exist")

	// ErrOpen is returned when the driver cannot open or verify the store.
	ErrOpen = errors.New("database: cannot open store")

	// ErrClose is returned when releasing the connection fails.
	ErrClose = errors.New("database: cannot close store")
)
