package command

import "errors"

// ErrUnknownOperation is returned when a Request names no known operation.
var ErrUnknownOperation = errors.New("unknown operation")

// ErrPathOutsideRoot is returned when a confined Dispatcher is asked for a
// store outside its root directory.
var ErrPathOutsideRoot = errors.New("database path is outside the allowed root")
