package stats

import "sync"

// DefaultWindowSize is the number of samples a monitor keeps
const DefaultWindowSize = 20

// ----------------------------------------------------------------------------
// Window
// ----------------------------------------------------------------------------

// Window keeps the most recent samples of a series. When full, adding a
// sample drops the oldest one.
//
// Thread-safe: all methods are safe for concurrent use
type Window struct {
	mutex   sync.RWMutex
	samples []float64 // Ring buffer
	next    int       // Position of the next write
	full    bool      // The ring buffer wrapped at least once
}

// NewWindow creates a window holding up to size samples (DefaultWindowSize if size <= 0)
func NewWindow(size int) *Window {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &Window{samples: make([]float64, size)}
}

// Add appends a sample
func (w *Window) Add(v float64) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	w.samples[w.next] = v
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.full = true
	}
}

// Len returns the number of samples held
func (w *Window) Len() int {
	w.mutex.RLock()
	defer w.mutex.RUnlock()
	if w.full {
		return len(w.samples)
	}
	return w.next
}

// Cap returns the maximum number of samples
func (w *Window) Cap() int {
	return len(w.samples)
}

// Values returns the samples from oldest to newest
func (w *Window) Values() []float64 {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	if !w.full {
		return append([]float64(nil), w.samples[:w.next]...)
	}
	out := make([]float64, 0, len(w.samples))
	out = append(out, w.samples[w.next:]...)
	return append(out, w.samples[:w.next]...)
}

// Stats returns the summary of the samples held
func (w *Window) Stats() Stats {
	return NewStats(w.Values())
}

// Reset drops all samples
func (w *Window) Reset() {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.next = 0
	w.full = false
}
