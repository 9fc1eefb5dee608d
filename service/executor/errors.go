package executor

import "errors"

var (
	ErrNotCurrent = errors.New("process is not the core's current process")
	ErrNilEntry   = errors.New("process has no entry point")
)
