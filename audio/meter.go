package audio

import "math"

// ChannelMeter accumulates mean-square and peak-absolute for one signal
// (input or output) on one channel across a publish interval. Unlike a
// running Welford accumulator, it resets to zero on every Publish call:
// the spec requires the peak envelope — and therefore the whole
// snapshot — to represent only the interval since the last publish, not
// an unboundedly aging running average.
type ChannelMeter struct {
	sumSquares float64
	peak       float64
	count      int
}

// Add folds one sample into the accumulator. Called once per sample per
// channel from the realtime callback; allocates nothing.
func (m *ChannelMeter) Add(sample float64) {
	m.sumSquares += sample * sample
	if a := math.Abs(sample); a > m.peak {
		m.peak = a
	}
	m.count++
}

// Snapshot is the RMS/peak pair reported for one channel on one publish
// tick.
type Snapshot struct {
	RMS  float64
	Peak float64
}

// Publish returns the accumulated RMS and peak since the last Publish
// call, then resets the accumulator for the next interval.
func (m *ChannelMeter) Publish() Snapshot {
	var rms float64
	if m.count > 0 {
		rms = math.Sqrt(m.sumSquares / float64(m.count))
	}
	snap := Snapshot{RMS: rms, Peak: m.peak}
	m.sumSquares = 0
	m.peak = 0
	m.count = 0
	return snap
}

// SessionMeter holds the input and output ChannelMeters for every
// channel of one session, matching spec's "accumulate ... for both the
// raw input and the post-gain output, per channel, per block".
type SessionMeter struct {
	In  []ChannelMeter
	Out []ChannelMeter
}

// NewSessionMeter allocates per-channel meters for a session with the
// given channel count.
func NewSessionMeter(channels int) *SessionMeter {
	return &SessionMeter{
		In:  make([]ChannelMeter, channels),
		Out: make([]ChannelMeter, channels),
	}
}

// PublishAll returns per-channel {rmsIn, peakIn, rmsOut, peakOut}
// snapshots, in the order the /sam/val/meter wire format expects, and
// resets every channel meter.
func (s *SessionMeter) PublishAll() []ChannelSnapshot {
	out := make([]ChannelSnapshot, len(s.In))
	for i := range s.In {
		out[i] = ChannelSnapshot{In: s.In[i].Publish(), Out: s.Out[i].Publish()}
	}
	return out
}

// ChannelSnapshot pairs one channel's input and output meter readings.
type ChannelSnapshot struct {
	In  Snapshot
	Out Snapshot
}
