package gpio

import "codeberg.org/mutker/thermobeacon/internal/errors"

const (
	ErrHostInit    = errors.ErrorCode("gpio_host_init_failed")
	ErrPinNotFound = errors.ErrorCode("gpio_pin_not_found")
	ErrPinConfig   = errors.ErrorCode("gpio_pin_config_failed")
	ErrPinWrite    = errors.ErrorCode("gpio_pin_write_failed")
)
