package sensor_test

import (
	"context"
	"testing"
	"time"

	"codeberg.org/mutker/thermobeacon/internal/sensor"
	"codeberg.org/mutker/thermobeacon/internal/wallclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulatedProducesPlausibleReadings(t *testing.T) {
	cal := sensor.DefaultCalibration()
	clock := wallclock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	d := sensor.NewSimulated(cal,
		sensor.WithSimClock(clock),
		sensor.WithLatency(0),
		sensor.WithSeed(1),
		sensor.WithBase(22.0, 0, 0),
		sensor.WithNoise(0),
	)

	p, err := sensor.NewPort(d, cal, sensor.WithClock(clock))
	require.NoError(t, err)

	reading, err := p.Read(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 22.0, reading.Celsius, 0.1)
	assert.InDelta(t, 3300, reading.AuxMV, 1)
	assert.Equal(t, clock.Now(), reading.Time)
}

func TestSimulatedHonoursCancel(t *testing.T) {
	d := sensor.NewSimulated(sensor.DefaultCalibration(), sensor.WithLatency(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Convert(ctx)
	assert.Error(t, err)
}
