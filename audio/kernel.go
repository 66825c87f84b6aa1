package audio

// Session is the per-client mix/effects kernel: one delay line per
// channel, one gain ramp, and per-channel metering. A Manager owns one
// Session per active client session and calls Process exactly once per
// audio block.
//
// Session never allocates in Process, and never calls into the control
// layer: control-plane changes land in Next and are picked up at the
// start of the next Process call, matching the double-buffered
// next/current discipline the control protocol relies on for
// click-free updates.
type Session struct {
	channels int
	lines    []*Line
	ramp     *Ramp
	meter    *SessionMeter

	// Next is written by the control thread; Process reads it at the top
	// of each block and leaves it in place, so it holds until changed. Callers must hold their own lock around
	// writes to Next — Session does not lock internally, matching the
	// "one short mutex" discipline the control/audio boundary uses
	// elsewhere (see server/session.go).
	Next NextParams
}

// NextParams is the control-thread-owned view of a session's next
// target state, applied atomically at the start of the block in which
// it's picked up.
type NextParams struct {
	Volume     float64
	Mute       bool
	Solo       bool
	DelayFrame int // delay in samples, already converted from ms
}

// NewSession allocates a kernel for a session with the given channel
// count and maximum delay, in samples.
func NewSession(channels, maxDelay int) *Session {
	lines := make([]*Line, channels)
	for i := range lines {
		lines[i] = NewLine(maxDelay)
	}
	return &Session{
		channels: channels,
		lines:    lines,
		ramp:     NewRamp(),
		meter:    NewSessionMeter(channels),
	}
}

// BlockParams is the per-block context a Manager supplies to Process:
// global mix state that applies uniformly to every session, since the
// spec scopes mute/solo/volume/delay as session-level but solo
// activation and global volume/mute/delay are manager-level.
type BlockParams struct {
	GlobalVolume float64
	GlobalMute   bool
	GlobalDelay  int // samples
	SoloActive   bool
}

// Process runs one block of channel-major interleaved input (frames *
// channels samples, same layout as wire.Packet.Samples) through the
// delay line, gain ramp and meters, writing the result into out (which
// must be the same length as in; the caller owns both buffers, so
// Process never allocates).
func (s *Session) Process(in, out []float64, frames int, bp BlockParams) {
	muted := s.Next.Mute || bp.GlobalMute
	target := EffectiveGain(s.Next.Volume*bp.GlobalVolume, muted, bp.SoloActive, s.Next.Solo)
	s.ramp.SetTarget(target)
	start, step := s.ramp.Step(frames)

	delay := s.Next.DelayFrame + bp.GlobalDelay
	gain := start
	for f := 0; f < frames; f++ {
		gain += step
		for ch := 0; ch < s.channels; ch++ {
			idx := f*s.channels + ch
			raw := in[idx]
			s.meter.In[ch].Add(raw)
			delayed := s.lines[ch].WriteRead(raw, delay)
			mixed := delayed * gain
			out[idx] = mixed
			s.meter.Out[ch].Add(mixed)
		}
	}
}

// Meter returns the session's metering snapshots since the last
// publish, resetting the accumulators.
func (s *Session) Meter() []ChannelSnapshot {
	return s.meter.PublishAll()
}
