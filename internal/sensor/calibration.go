package sensor

import (
	"fmt"
	"math"

	"codeberg.org/mutker/thermobeacon/internal/errors"
)

const (
	DefaultReferenceMV    = 3600.0
	DefaultResolutionBits = 12
	DefaultGain           = 1.0
	// LM335: 10 mV per kelvin
	DefaultMVPerDegree = 10.0
	DefaultOffsetC     = -273.15
)

// Calibration converts raw ADC counts to millivolts and then to degrees
// Celsius. It is a pure value type.
type Calibration struct {
	ReferenceMV    float64
	ResolutionBits int
	Gain           float64
	MVPerDegree    float64
	OffsetC        float64
}

func DefaultCalibration() Calibration {
	return Calibration{
		ReferenceMV:    DefaultReferenceMV,
		ResolutionBits: DefaultResolutionBits,
		Gain:           DefaultGain,
		MVPerDegree:    DefaultMVPerDegree,
		OffsetC:        DefaultOffsetC,
	}
}

func (c Calibration) Validate() error {
	errFactory := errors.New()

	if c.ResolutionBits < 1 || c.ResolutionBits > 24 {
		return errFactory.WithData(ErrCalibration, fmt.Sprintf("resolution_bits=%d", c.ResolutionBits))
	}
	if c.ReferenceMV <= 0 || c.Gain <= 0 || c.MVPerDegree == 0 {
		return errFactory.WithMessage(ErrCalibration, "reference, gain and slope must be non-zero")
	}

	return nil
}

// FullScale returns the number of distinct codes the ADC produces.
func (c Calibration) FullScale() int32 {
	return int32(1) << c.ResolutionBits
}

// MilliVolts converts raw counts to millivolts at the ADC input.
// Codes outside the converter's range are an error, never clamped.
func (c Calibration) MilliVolts(raw int32) (float64, error) {
	if raw < 0 || raw >= c.FullScale() {
		return 0, errors.New().WithData(ErrCalibration, fmt.Sprintf("raw=%d outside [0,%d)", raw, c.FullScale()))
	}

	return float64(raw) * c.ReferenceMV / c.Gain / float64(c.FullScale()), nil
}

// Celsius converts raw counts to degrees Celsius.
func (c Calibration) Celsius(raw int32) (float64, error) {
	mv, err := c.MilliVolts(raw)
	if err != nil {
		return 0, err
	}

	v := mv/c.MVPerDegree + c.OffsetC
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.New().WithData(ErrCalibration, fmt.Sprintf("raw=%d", raw))
	}

	return v, nil
}

// Raw is the inverse of Celsius, rounded to the nearest code. It is used by
// the simulated driver.
func (c Calibration) Raw(celsius float64) int32 {
	mv := (celsius - c.OffsetC) * c.MVPerDegree
	return c.RawFromMilliVolts(mv)
}

// RawFromMilliVolts returns the code for an input voltage, rounded to the
// nearest count.
func (c Calibration) RawFromMilliVolts(mv float64) int32 {
	return int32(math.Round(mv * c.Gain * float64(c.FullScale()) / c.ReferenceMV))
}
