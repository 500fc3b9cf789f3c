package state

import "codeberg.org/mutker/thermobeacon/internal/sensor"

// History is a fixed-capacity ring of readings. Slot i holds the reading
// appended when the append counter was i mod capacity, so a full ring
// overwrites its oldest entry.
type History struct {
	slots    []sensor.Reading
	appended uint64
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 1
	}
	return &History{slots: make([]sensor.Reading, capacity)}
}

// Append stores r in O(1).
func (h *History) Append(r sensor.Reading) {
	h.slots[h.appended%uint64(len(h.slots))] = r
	h.appended++
}

func (h *History) Cap() int {
	return len(h.slots)
}

// Len returns the number of populated slots.
func (h *History) Len() int {
	if h.appended < uint64(len(h.slots)) {
		return int(h.appended)
	}
	return len(h.slots)
}

// Appended returns the total number of appends since creation.
func (h *History) Appended() uint64 {
	return h.appended
}

// Readings returns a copy of the populated slots, oldest first.
func (h *History) Readings() []sensor.Reading {
	n := h.Len()
	out := make([]sensor.Reading, n)
	start := h.appended - uint64(n)
	for i := 0; i < n; i++ {
		out[i] = h.slots[(start+uint64(i))%uint64(len(h.slots))]
	}
	return out
}

// Mean averages the populated slots. ok is false for an empty history.
func (h *History) Mean() (mean float64, ok bool) {
	n := h.Len()
	if n == 0 {
		return 0, false
	}

	var sum float64
	for i := 0; i < n; i++ {
		sum += h.slots[i].Celsius
	}
	return sum / float64(n), true
}
