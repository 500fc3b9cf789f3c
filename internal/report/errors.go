package report

import "codeberg.org/mutker/thermobeacon/internal/errors"

const (
	ErrNoReadings   = errors.ErrorCode("report_no_readings")
	ErrEncoding     = errors.ErrorCode("report_payload_encoding_failed")
	ErrShortPayload = errors.ErrorCode("report_payload_too_short")
)
