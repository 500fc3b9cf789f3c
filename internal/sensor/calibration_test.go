package sensor_test

import (
	"testing"

	"codeberg.org/mutker/thermobeacon/internal/errors"
	"codeberg.org/mutker/thermobeacon/internal/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalibrationMilliVolts(t *testing.T) {
	cal := sensor.DefaultCalibration()

	tests := []struct {
		name string
		cal  sensor.Calibration
		raw  int32
		want float64
	}{
		{"zero", cal, 0, 0},
		{"half scale", cal, 2048, 1800},
		{"full scale minus one", cal, 4095, 4095 * 3600.0 / 4096},
		{"gain two", sensor.Calibration{ReferenceMV: 3600, ResolutionBits: 12, Gain: 2, MVPerDegree: 10}, 2048, 900},
		{"ten bits", sensor.Calibration{ReferenceMV: 1024, ResolutionBits: 10, Gain: 1, MVPerDegree: 10}, 512, 512},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cal.MilliVolts(tt.raw)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestCalibrationCelsius(t *testing.T) {
	cal := sensor.DefaultCalibration()

	got, err := cal.Celsius(0)
	require.NoError(t, err)
	assert.InDelta(t, -273.15, got, 1e-9)

	// 2981.5 mV at the input is 25 °C for an LM335
	raw := cal.Raw(25.0)
	got, err = cal.Celsius(raw)
	require.NoError(t, err)
	assert.InDelta(t, 25.0, got, 0.1)
}

func TestCalibrationRejectsOutOfRange(t *testing.T) {
	cal := sensor.DefaultCalibration()

	for _, raw := range []int32{-1, 4096, 1 << 20} {
		_, err := cal.Celsius(raw)
		require.Error(t, err, "raw=%d", raw)
		assert.True(t, errors.HasCode(err, sensor.ErrCalibration))
	}
}

func TestCalibrationValidate(t *testing.T) {
	assert.NoError(t, sensor.DefaultCalibration().Validate())

	bad := sensor.DefaultCalibration()
	bad.ResolutionBits = 0
	assert.True(t, errors.HasCode(bad.Validate(), sensor.ErrCalibration))

	bad = sensor.DefaultCalibration()
	bad.Gain = 0
	assert.True(t, errors.HasCode(bad.Validate(), sensor.ErrCalibration))
}
