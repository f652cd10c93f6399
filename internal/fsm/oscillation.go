package fsm

import (
	"errors"
	"fmt"
	"sync"
)

// ErrOscillation indicates the machine is churning between exactly two
// states instead of making progress.
var ErrOscillation = errors.New("state oscillation detected")

// OscillationDetector watches a rolling window of the last 2·N observed
// states and fires when the whole window is a strict A-B alternation.
type OscillationDetector struct {
	mu     sync.Mutex
	n      int
	window []string
}

// NewOscillationDetector creates a detector with churn threshold n
// (window size 2·n). n defaults to 3.
func NewOscillationDetector(n int) *OscillationDetector {
	if n < 1 {
		n = 3
	}
	return &OscillationDetector{n: n}
}

// Observe records a state and returns ErrOscillation when the window has
// filled with an alternating two-state pattern.
func (d *OscillationDetector) Observe(state string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.window = append(d.window, state)
	if len(d.window) > 2*d.n {
		d.window = d.window[1:]
	}
	if len(d.window) < 2*d.n {
		return nil
	}

	a, b := d.window[0], d.window[1]
	if a == b {
		return nil
	}
	for i, s := range d.window {
		want := a
		if i%2 == 1 {
			want = b
		}
		if s != want {
			return nil
		}
	}
	return fmt.Errorf("%w: %s <-> %s over %d observations", ErrOscillation, a, b, 2*d.n)
}

// Reset clears the window, for reuse after an intervention.
func (d *OscillationDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.window = nil
}
