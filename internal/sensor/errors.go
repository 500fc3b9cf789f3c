package sensor

import "codeberg.org/mutker/thermobeacon/internal/errors"

const (
	// Device Errors
	ErrNotReady   = errors.ErrorCode("sensor_not_ready")
	ErrSetup      = errors.ErrorCode("sensor_setup_failed")
	ErrReadFailed = errors.ErrorCode("sensor_read_failed")

	// Acquisition Errors
	ErrAcquisitionBusy    = errors.ErrorCode("sensor_acquisition_busy")
	ErrAcquisitionTimeout = errors.ErrorCode("sensor_acquisition_timeout")
	ErrNoRequest          = errors.ErrorCode("sensor_no_pending_request")

	// Conversion Errors
	ErrCalibration = errors.ErrorCode("sensor_calibration_failed")
)
