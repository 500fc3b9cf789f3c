// Package state holds the shared telemetry state: rolling history, latest
// reading, alert flag and payload.
//
// Mutation goes through a Writer, which is handed to exactly one owner.
// Everyone else reads immutable snapshots published after each mutation.
package state

import (
	"sync/atomic"

	"codeberg.org/mutker/thermobeacon/internal/sensor"
)

type store struct {
	history   *History
	latest    sensor.Reading
	hasLatest bool
	alert     bool
	payload   []byte

	snap atomic.Pointer[Snapshot]
}

// Writer mutates the state. It is not safe for concurrent use; its owner
// serializes all calls.
type Writer struct {
	s *store
}

// Reader observes the state from any goroutine without blocking the writer.
type Reader struct {
	s *store
}

// Snapshot is an immutable view of the state at one point in time.
type Snapshot struct {
	Readings  []sensor.Reading
	Latest    sensor.Reading
	HasLatest bool
	Alert     bool
	Payload   []byte
	Appended  uint64
	Capacity  int
}

// New creates the state with a history of the given capacity and returns
// its read and write capabilities.
func New(capacity int) (*Reader, *Writer) {
	s := &store{history: NewHistory(capacity)}
	s.publish()
	return &Reader{s: s}, &Writer{s: s}
}

// Append folds a reading into the history and makes it the latest.
func (w *Writer) Append(r sensor.Reading) {
	w.s.history.Append(r)
	w.s.latest = r
	w.s.hasLatest = true
	w.s.publish()
}

func (w *Writer) SetAlert(on bool) {
	if w.s.alert == on {
		return
	}
	w.s.alert = on
	w.s.publish()
}

func (w *Writer) Alert() bool {
	return w.s.alert
}

// SetPayload stores a copy of the last encoded payload.
func (w *Writer) SetPayload(b []byte) {
	w.s.payload = append([]byte(nil), b...)
	w.s.publish()
}

// Mean averages the populated history slots.
func (w *Writer) Mean() (float64, bool) {
	return w.s.history.Mean()
}

// Latest returns the most recent reading.
func (w *Writer) Latest() (sensor.Reading, bool) {
	return w.s.latest, w.s.hasLatest
}

// Snapshot returns the view published by the last mutation.
func (w *Writer) Snapshot() *Snapshot {
	return w.s.snap.Load()
}

func (r *Reader) Snapshot() *Snapshot {
	return r.s.snap.Load()
}

func (r *Reader) Alert() bool {
	return r.s.snap.Load().Alert
}

// Values returns the history temperatures, oldest first.
func (s *Snapshot) Values() []float64 {
	out := make([]float64, len(s.Readings))
	for i, r := range s.Readings {
		out[i] = r.Celsius
	}
	return out
}

// Mean averages the snapshot's readings. ok is false when there are none.
func (s *Snapshot) Mean() (float64, bool) {
	if len(s.Readings) == 0 {
		return 0, false
	}

	var sum float64
	for _, r := range s.Readings {
		sum += r.Celsius
	}
	return sum / float64(len(s.Readings)), true
}

func (s *store) publish() {
	snap := &Snapshot{
		Readings:  s.history.Readings(),
		Latest:    s.latest,
		HasLatest: s.hasLatest,
		Alert:     s.alert,
		Appended:  s.history.Appended(),
		Capacity:  s.history.Cap(),
	}
	if s.payload != nil {
		snap.Payload = append([]byte(nil), s.payload...)
	}
	s.snap.Store(snap)
}
