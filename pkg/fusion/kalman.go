package fusion

import "github.com/chewxy/math32"

// Kalman is a single-state linear estimator with unity state transition and
// observation.
type Kalman struct {
	x float32 // estimate
	p float32 // estimate variance
	q float32 // process noise
	r float32 // measurement noise
}

// NewKalman returns a filter starting at x0 with unit variance.
func NewKalman(x0, q, r float32) *Kalman {
	return &Kalman{x: x0, p: 1, q: q, r: r}
}

// Update folds in observation z. Non-finite observations are ignored and
// reported as false.
func (k *Kalman) Update(z float32) bool {
	if math32.IsNaN(z) || math32.IsInf(z, 0) {
		return false
	}
	gain := k.p / (k.p + k.r)
	k.x += gain * (z - k.x)
	k.p *= 1 - gain
	return true
}

// Predict advances the filter one step.
func (k *Kalman) Predict() {
	k.p += k.q
}

// Estimate returns the current state estimate.
func (k *Kalman) Estimate() float32 { return k.x }

// Variance returns the current estimate variance.
func (k *Kalman) Variance() float32 { return k.p }
