package executor

import "codeberg.org/mutker/thermobeacon/internal/errors"

const (
	ErrAlreadyRunning   = errors.ErrorCode("executor_already_running")
	ErrDuplicateKind    = errors.ErrorCode("executor_duplicate_kind")
	ErrRegisterAfterRun = errors.ErrorCode("executor_register_after_run")
)
