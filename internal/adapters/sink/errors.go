package sink

import "errors"

var (
	// ErrUnknownTable means the destination table does not exist or has no
	// visible columns.
	ErrUnknownTable = errors.New("unknown table")
	// ErrNoColumns means none of a batch's columns exist in the destination.
	ErrNoColumns = errors.New("no batch column exists in table")
)
