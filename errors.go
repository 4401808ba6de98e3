package oncefs

import "errors"

// Sentinel errors returned by Engine operations. Wrap with fmt.Errorf's
// %w verb for additional context; compare with errors.Is.
var (
	ErrNotFound     = errors.New("oncefs: not found")
	ErrExists       = errors.New("oncefs: already exists")
	ErrInvalid      = errors.New("oncefs: invalid argument")
	ErrNoSpace      = errors.New("oncefs: no space left")
	ErrOverflow     = errors.New("oncefs: block id overflow")
	ErrOutOfMemory  = errors.New("oncefs: out of memory")
	ErrNotSupported = errors.New("oncefs: not supported")
)
