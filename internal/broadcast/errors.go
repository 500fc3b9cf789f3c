package broadcast

import "codeberg.org/mutker/thermobeacon/internal/errors"

const (
	ErrConnect     = errors.ErrorCode("broadcast_connect_failed")
	ErrSend        = errors.ErrorCode("broadcast_send_failed")
	ErrBreakerOpen = errors.ErrorCode("broadcast_breaker_open")
	ErrAdapter     = errors.ErrorCode("broadcast_adapter_failed")
	ErrAdvertise   = errors.ErrorCode("broadcast_advertise_failed")
	ErrClosed      = errors.ErrorCode("broadcast_closed")
)
