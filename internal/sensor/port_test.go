package sensor_test

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/thermobeacon/internal/errors"
	"codeberg.org/mutker/thermobeacon/internal/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDriver struct {
	mu       sync.Mutex
	notReady bool
	setupErr error
	convErr  error
	raw      int32
	aux      int32
	hasAux   bool
	// gate, when set, holds every conversion until it is closed.
	gate chan struct{}
	// ignoreCancel makes a gated conversion outlive its context.
	ignoreCancel bool

	setupCalls   int
	convertCalls int
}

func (*fakeDriver) Name() string { return "fake" }

func (d *fakeDriver) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.notReady
}

func (d *fakeDriver) Setup(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setupCalls++
	return d.setupErr
}

func (d *fakeDriver) Convert(ctx context.Context) (sensor.Sample, error) {
	d.mu.Lock()
	d.convertCalls++
	gate, ignore := d.gate, d.ignoreCancel
	d.mu.Unlock()

	if gate != nil {
		if ignore {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				return sensor.Sample{}, ctx.Err()
			}
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.convErr != nil {
		return sensor.Sample{}, d.convErr
	}
	return sensor.Sample{Raw: d.raw, Aux: d.aux, HasAux: d.hasAux}, nil
}

func (d *fakeDriver) calls() (setup, convert int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setupCalls, d.convertCalls
}

func newPort(t *testing.T, d *fakeDriver) *sensor.Port {
	t.Helper()

	p, err := sensor.NewPort(d, sensor.DefaultCalibration())
	require.NoError(t, err)
	return p
}

func TestReadCalibratesAndSequences(t *testing.T) {
	cal := sensor.DefaultCalibration()
	d := &fakeDriver{raw: cal.Raw(21.0), aux: cal.RawFromMilliVolts(3300), hasAux: true}
	p := newPort(t, d)

	first, err := p.Read(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 21.0, first.Celsius, 0.1)
	assert.True(t, first.HasAux)
	assert.InDelta(t, 3300, first.AuxMV, 1)
	assert.Equal(t, uint64(1), first.Seq)

	second, err := p.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second.Seq)
	assert.False(t, p.Busy())
}

func TestSetupIsLazyAndIdempotent(t *testing.T) {
	d := &fakeDriver{raw: 3000}
	p := newPort(t, d)

	setup, _ := d.calls()
	assert.Zero(t, setup, "setup runs on first use")

	for i := 0; i < 3; i++ {
		_, err := p.Read(context.Background())
		require.NoError(t, err)
	}

	setup, convert := d.calls()
	assert.Equal(t, 1, setup)
	assert.Equal(t, 3, convert)
}

func TestSetupFailureIsRetried(t *testing.T) {
	d := &fakeDriver{raw: 3000, setupErr: stderrors.New("no channel")}
	p := newPort(t, d)

	_, err := p.Read(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, sensor.ErrSetup))
	assert.False(t, p.Busy())

	d.mu.Lock()
	d.setupErr = nil
	d.mu.Unlock()

	_, err = p.Read(context.Background())
	require.NoError(t, err)

	setup, _ := d.calls()
	assert.Equal(t, 2, setup)
}

func TestNotReady(t *testing.T) {
	d := &fakeDriver{notReady: true}
	p := newPort(t, d)

	_, err := p.Read(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, sensor.ErrNotReady))

	err = p.BeginRead(context.Background())
	assert.True(t, errors.HasCode(err, sensor.ErrNotReady))

	_, convert := d.calls()
	assert.Zero(t, convert)
}

func TestReadFailureReleasesPort(t *testing.T) {
	d := &fakeDriver{convErr: stderrors.New("adc fault")}
	p := newPort(t, d)

	_, err := p.Read(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, sensor.ErrReadFailed))
	assert.False(t, p.Busy())
}

func TestCalibrationOverflowIsReported(t *testing.T) {
	d := &fakeDriver{raw: 5000}
	p := newPort(t, d)

	_, err := p.Read(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, sensor.ErrCalibration))
}

func TestBeginReadWhileInFlightIsBusy(t *testing.T) {
	d := &fakeDriver{raw: 3000, gate: make(chan struct{})}
	p := newPort(t, d)
	ctx := context.Background()

	require.NoError(t, p.BeginRead(ctx))
	assert.True(t, p.Busy())

	err := p.BeginRead(ctx)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, sensor.ErrAcquisitionBusy))

	_, err = p.Read(ctx)
	assert.True(t, errors.HasCode(err, sensor.ErrAcquisitionBusy))

	close(d.gate)

	reading, err := p.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), reading.Seq)
	assert.False(t, p.Busy())

	_, convert := d.calls()
	assert.Equal(t, 1, convert, "busy calls never reach the driver")
}

func TestCollectWithoutRequest(t *testing.T) {
	p := newPort(t, &fakeDriver{raw: 3000})

	_, err := p.Collect(context.Background())
	assert.True(t, errors.HasCode(err, sensor.ErrNoRequest))

	_, err = p.CollectWithTimeout(context.Background(), time.Millisecond)
	assert.True(t, errors.HasCode(err, sensor.ErrNoRequest))
}

func TestCollectWithTimeoutSupersedesRequest(t *testing.T) {
	gate := make(chan struct{})
	d := &fakeDriver{raw: 3000, gate: gate, ignoreCancel: true}
	p := newPort(t, d)
	ctx := context.Background()

	require.NoError(t, p.BeginRead(ctx))
	require.Eventually(t, func() bool {
		_, convert := d.calls()
		return convert == 1
	}, time.Second, time.Millisecond)

	_, err := p.CollectWithTimeout(ctx, 20*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, sensor.ErrAcquisitionTimeout))
	assert.False(t, p.Busy(), "a timed out request no longer holds the port")

	// The next request is accepted at once and gets its own result.
	d.mu.Lock()
	d.gate = nil
	d.ignoreCancel = false
	d.mu.Unlock()

	require.NoError(t, p.BeginRead(ctx))
	reading, err := p.CollectWithTimeout(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), reading.Seq, "the stale conversion never produced a reading")

	// The stale conversion completes late and is dropped.
	close(gate)
	require.Eventually(t, func() bool { return p.Discarded() == 1 }, time.Second, 5*time.Millisecond)
}

func TestCollectPrefersBufferedCompletion(t *testing.T) {
	d := &fakeDriver{raw: 3000}
	p := newPort(t, d)
	ctx := context.Background()

	for i := 1; i <= 20; i++ {
		require.NoError(t, p.BeginRead(ctx))
		require.Eventually(t, func() bool {
			_, convert := d.calls()
			return convert == i
		}, time.Second, time.Millisecond)
		// Let the completion land in the request before the wait starts.
		time.Sleep(5 * time.Millisecond)

		// The zero timeout is already expired when the wait begins.
		reading, err := p.CollectWithTimeout(ctx, 0)
		require.NoError(t, err, "iteration %d", i)
		assert.Equal(t, uint64(i), reading.Seq)
		assert.False(t, p.Busy())
	}
	assert.Zero(t, p.Discarded())
}

func TestCollectHonoursContext(t *testing.T) {
	d := &fakeDriver{raw: 3000, gate: make(chan struct{})}
	p := newPort(t, d)

	require.NoError(t, p.BeginRead(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Collect(ctx)
	assert.True(t, errors.HasCode(err, sensor.ErrAcquisitionTimeout))
	assert.False(t, p.Busy())
}

func TestNewPortValidates(t *testing.T) {
	_, err := sensor.NewPort(nil, sensor.DefaultCalibration())
	assert.True(t, errors.HasCode(err, errors.ErrInvalidArgument))

	bad := sensor.DefaultCalibration()
	bad.ResolutionBits = 40
	_, err = sensor.NewPort(&fakeDriver{}, bad)
	assert.True(t, errors.HasCode(err, sensor.ErrCalibration))
}
