package audio

// GainParams is the control-plane view of a session's requested
// gain-affecting state: volume, mute and solo. It holds only the
// requested ("next") values; it has no lock, no "current" fields and no
// handoff method. The gain actually applied, and its ramp from one block
// to the next, is tracked by Ramp.
type GainParams struct {
	NextVolume float64
	NextMute   bool
	NextSolo   bool
}

// Ramp tracks the gain actually applied to a session's signal across
// consecutive blocks, ramping linearly from the value effective at the
// end of the previous block to the value requested for this one.
type Ramp struct {
	current float64 // gain in effect at the end of the last block
	target  float64 // gain requested for the current block
}

// NewRamp creates a ramp starting silent (gain 0), matching a freshly
// initializing session that must not produce output before its first
// control update arrives.
func NewRamp() *Ramp {
	return &Ramp{}
}

// SetTarget records the gain the ramp should reach by the end of the
// block now being processed. Called once per block, before Step.
func (r *Ramp) SetTarget(g float64) {
	r.target = g
}

// Step computes the per-sample gain increment for a block of the given
// length and returns the gain in effect before frame 0 (start) and the
// per-frame increment (step); applying start+step, start+2*step, ...
// reaches exactly target by the block's last frame.
func (r *Ramp) Step(frames int) (start, step float64) {
	if frames < 1 {
		frames = 1
	}
	start = r.current
	step = (r.target - r.current) / float64(frames)
	r.current = r.target
	return start, step
}

// EffectiveGain folds volume, mute and solo-elsewhere state into a
// single scalar target gain, per spec: muted sessions (by their own
// mute flag or by another session's solo) target zero; otherwise the
// session's own volume.
func EffectiveGain(volume float64, muted bool, soloActive bool, selfSolo bool) float64 {
	if muted {
		return 0
	}
	if soloActive && !selfSolo {
		return 0
	}
	return volume
}
