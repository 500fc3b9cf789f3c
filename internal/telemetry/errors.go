package telemetry

import "codeberg.org/mutker/thermobeacon/internal/errors"

const (
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidListen = errors.ErrorCode("telemetry_invalid_listen_address")
	ErrRegister      = errors.ErrorCode("telemetry_register_failed")
	ErrServe         = errors.ErrorCode("telemetry_serve_failed")
)
