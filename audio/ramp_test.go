package audio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRampLinearStep(t *testing.T) {
	r := NewRamp()
	r.SetTarget(1.0)
	start, step := r.Step(4)
	require.Equal(t, 0.0, start)
	require.InDelta(t, 0.25, step, 1e-9)

	// next block ramps from 1.0 toward a new target
	r.SetTarget(0.0)
	start, step = r.Step(4)
	require.Equal(t, 1.0, start)
	require.InDelta(t, -0.25, step, 1e-9)
}

func TestRampHoldsSteadyTarget(t *testing.T) {
	r := NewRamp()
	r.SetTarget(0.5)
	r.Step(8)
	r.SetTarget(0.5)
	start, step := r.Step(8)
	require.Equal(t, 0.5, start)
	require.Equal(t, 0.0, step)
}

func TestEffectiveGainMuteAndSolo(t *testing.T) {
	require.Equal(t, 0.0, EffectiveGain(0.8, true, false, false))
	require.Equal(t, 0.0, EffectiveGain(0.8, false, true, false))
	require.Equal(t, 0.8, EffectiveGain(0.8, false, true, true))
	require.Equal(t, 0.8, EffectiveGain(0.8, false, false, false))
}
