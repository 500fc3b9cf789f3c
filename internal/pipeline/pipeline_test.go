package pipeline_test

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/thermobeacon/internal/errors"
	"codeberg.org/mutker/thermobeacon/internal/pipeline"
	"codeberg.org/mutker/thermobeacon/internal/report"
	"codeberg.org/mutker/thermobeacon/internal/sensor"
	"codeberg.org/mutker/thermobeacon/internal/trigger"
	"codeberg.org/mutker/thermobeacon/internal/wallclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedDriver returns its raw values in order, then fails.
type scriptedDriver struct {
	mu    sync.Mutex
	raws  []int32
	calls int
}

func (*scriptedDriver) Name() string                { return "scripted" }
func (*scriptedDriver) Ready() bool                 { return true }
func (*scriptedDriver) Setup(context.Context) error { return nil }

func (d *scriptedDriver) Convert(context.Context) (sensor.Sample, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls++
	if d.calls > len(d.raws) {
		return sensor.Sample{}, stderrors.New("conversion failed")
	}
	return sensor.Sample{Raw: d.raws[d.calls-1]}, nil
}

func (d *scriptedDriver) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type recordingPublisher struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (p *recordingPublisher) Publish(_ context.Context, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payloads = append(p.payloads, append([]byte(nil), payload...))
	return nil
}

func (p *recordingPublisher) published() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.payloads...)
}

type recordingIndicator struct {
	mu     sync.Mutex
	states []bool
}

func (i *recordingIndicator) Set(on bool) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.states = append(i.states, on)
	return nil
}

func (*recordingIndicator) Close() error { return nil }

func (i *recordingIndicator) last() (bool, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(i.states) == 0 {
		return false, false
	}
	return i.states[len(i.states)-1], true
}

type chanEdge struct {
	ch chan struct{}
}

func (e *chanEdge) Watch(ctx context.Context, fn func()) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.ch:
			fn()
		}
	}
}

func (*chanEdge) Close() error { return nil }

type harness struct {
	clock    *wallclock.Fake
	driver   *scriptedDriver
	pub      *recordingPublisher
	activity *recordingIndicator
	alert    *recordingIndicator
	pipeline *pipeline.Pipeline
}

func newHarness(t *testing.T, cfg pipeline.Config, raws []int32, edge *chanEdge) *harness {
	t.Helper()

	h := &harness{
		clock:    wallclock.NewFake(time.Unix(1700000000, 0)),
		driver:   &scriptedDriver{raws: raws},
		pub:      &recordingPublisher{},
		activity: &recordingIndicator{},
		alert:    &recordingIndicator{},
	}

	port, err := sensor.NewPort(h.driver, sensor.DefaultCalibration(), sensor.WithClock(h.clock))
	require.NoError(t, err)

	rep, err := report.New(report.Config{Threshold: 30, CompanyID: 0x0059, GroupID: 1}, h.pub, h.alert,
		report.WithClock(h.clock))
	require.NoError(t, err)

	deps := pipeline.Deps{
		Acquirer: port,
		Reporter: rep,
		Activity: h.activity,
		Clock:    h.clock,
	}
	if edge != nil {
		deps.Edge = edge
	}

	h.pipeline, err = pipeline.New(cfg, deps)
	require.NoError(t, err)

	return h
}

func (h *harness) run(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- h.pipeline.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-errCh)
	})
}

func TestSamplesAggregateIntoPeriodicReport(t *testing.T) {
	cal := sensor.DefaultCalibration()
	raws := make([]int32, 60)
	var sum float64
	for i := range raws {
		raws[i] = int32(3360 + i)
		c, err := cal.Celsius(raws[i])
		require.NoError(t, err)
		sum += c
	}
	want := sum / float64(len(raws))

	h := newHarness(t, pipeline.Config{
		Capacity:     60,
		SamplePeriod: time.Second,
		ReportPeriod: 60 * time.Second,
		ReportDelay:  60 * time.Second,
		Trigger:      trigger.Config{Timeout: time.Second},
	}, raws, nil)
	h.run(t)

	state := h.pipeline.State()

	// sample ticker and report delay timer
	h.clock.BlockUntil(2)
	require.Eventually(t, func() bool {
		return len(state.Snapshot().Readings) == 1
	}, time.Second, time.Millisecond)

	for i := 2; i <= 60; i++ {
		h.clock.Advance(time.Second)
		n := i
		require.Eventually(t, func() bool {
			return len(state.Snapshot().Readings) == n
		}, time.Second, time.Millisecond, "sample %d", n)
	}
	assert.Empty(t, h.pub.published())

	h.clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		return len(h.pub.published()) == 1
	}, time.Second, time.Millisecond)

	var p report.Payload
	require.NoError(t, p.UnmarshalBinary(h.pub.published()[0]))
	assert.InDelta(t, want, p.Mean(), 0.005)
	assert.Equal(t, uint16(0x0059), p.CompanyID)

	snap := state.Snapshot()
	mean, ok := snap.Mean()
	require.True(t, ok)
	assert.InDelta(t, want, mean, 1e-9)
	assert.Equal(t, want > 30, snap.Alert)

	// The 61st conversion fails: state keeps 60 readings and the activity
	// indicator stays lit.
	require.Eventually(t, func() bool {
		on, ok := h.activity.last()
		return h.driver.callCount() == 61 && ok && on
	}, time.Second, time.Millisecond)
	assert.Equal(t, uint64(60), state.Snapshot().Appended)
}

func TestTriggerPublishesOutOfBand(t *testing.T) {
	edge := &chanEdge{ch: make(chan struct{}, 1)}
	h := newHarness(t, pipeline.Config{
		Capacity:     8,
		SamplePeriod: time.Hour,
		SampleDelay:  time.Hour,
		ReportPeriod: time.Hour,
		ReportDelay:  time.Hour,
		Trigger:      trigger.Config{Timeout: time.Second, PublishOnTrigger: true},
	}, []int32{3400}, edge)
	h.run(t)

	edge.ch <- struct{}{}

	require.Eventually(t, func() bool {
		return len(h.pub.published()) == 1
	}, time.Second, time.Millisecond)

	snap := h.pipeline.State().Snapshot()
	require.Len(t, snap.Readings, 1)
	assert.Equal(t, uint64(1), h.pipeline.Trigger().Completed())

	var p report.Payload
	require.NoError(t, p.UnmarshalBinary(snap.Payload))
	assert.InDelta(t, snap.Latest.Celsius, p.Latest(), 0.005)
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := pipeline.New(pipeline.Config{Capacity: 1}, pipeline.Deps{})
	assert.True(t, errors.HasCode(err, errors.ErrInvalidArgument))
}
