// Package stream implements the RTP transport: packetizing sender,
// arrival-path receiver (offset/skew/jitter/extended-sequence tracking)
// and the playout queue handing decoded samples to the audio callback.
package stream

// wrapSafeBefore reports whether a comes before b on a wrapping 32-bit
// counter, using the signed-difference trick spec.md names throughout
// §4.3: a < b iff (int32)(a-b) < 0.
func wrapSafeBefore(a, b uint32) bool {
	return int32(a-b) < 0
}

// ewma is a single-pole exponentially weighted moving average,
// parameterized by the smoothing shift. The receiver's jitter estimator
// (`J := J + (|d_prev-d| - J)/16`) uses it; the skew estimator's
// `D := (31*D + d)/32` is computed inline in Receiver.updateSkew.
type ewma struct {
	value float64
	init  bool
}

// update folds sample into the average with the given shift (e.g. 5 for
// a /32 smoothing factor, 4 for /16), returning the new value. The first
// call seeds the average directly from sample.
func (e *ewma) update(sample float64, shift uint) float64 {
	if !e.init {
		e.value = sample
		e.init = true
		return e.value
	}
	n := float64(int(1) << shift)
	e.value += (sample - e.value) / n
	return e.value
}
