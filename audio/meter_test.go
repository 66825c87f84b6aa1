package audio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChannelMeterPublishResets(t *testing.T) {
	var m ChannelMeter
	m.Add(1)
	m.Add(-1)
	snap := m.Publish()
	require.InDelta(t, 1.0, snap.RMS, 1e-9)
	require.Equal(t, 1.0, snap.Peak)

	// a second publish with no intervening Add must report a silent block
	snap2 := m.Publish()
	require.Zero(t, snap2.RMS)
	require.Zero(t, snap2.Peak)
}

func TestChannelMeterPeakTracksMax(t *testing.T) {
	var m ChannelMeter
	m.Add(0.1)
	m.Add(-0.9)
	m.Add(0.4)
	snap := m.Publish()
	require.Equal(t, 0.9, snap.Peak)
}

func TestSessionMeterPerChannel(t *testing.T) {
	sm := NewSessionMeter(2)
	sm.In[0].Add(1)
	sm.In[1].Add(0.5)
	sm.Out[0].Add(0.25)
	sm.Out[1].Add(0.75)

	snaps := sm.PublishAll()
	require.Len(t, snaps, 2)
	require.Equal(t, 1.0, snaps[0].In.Peak)
	require.Equal(t, 0.25, snaps[0].Out.Peak)
	require.Equal(t, 0.5, snaps[1].In.Peak)
	require.Equal(t, 0.75, snaps[1].Out.Peak)

	// publishing again with no further Add calls reports silence
	snaps2 := sm.PublishAll()
	require.Zero(t, snaps2[0].In.Peak)
}
