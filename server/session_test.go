package server

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSessionStateMachine(t *testing.T) {
	s := NewSession(ClientID(0))
	require.Equal(t, StateAvailable, s.State())

	require.True(t, s.BeginInitializing())
	require.Equal(t, StateInitializing, s.State())
	require.False(t, s.BeginInitializing(), "Available->Initializing only valid from Available")

	require.True(t, s.Activate())
	require.Equal(t, StateActive, s.State())
	require.False(t, s.BeginInitializing())

	require.True(t, s.BeginClosing())
	require.Equal(t, StateClosing, s.State())
	require.True(t, s.MarkedForDeletion())

	require.True(t, s.Release())
	require.Equal(t, StateAvailable, s.State())
	require.False(t, s.MarkedForDeletion())
}

func TestSessionBeginClosingFromInitializing(t *testing.T) {
	s := NewSession(ClientID(1))
	require.True(t, s.BeginInitializing())
	require.True(t, s.BeginClosing())
	require.Equal(t, StateClosing, s.State())
}

func TestSessionBeginClosingRejectedWhenAvailable(t *testing.T) {
	s := NewSession(ClientID(2))
	require.False(t, s.BeginClosing())
	require.Equal(t, StateAvailable, s.State())
}

func TestSessionSnapIsConsistentCopy(t *testing.T) {
	s := NewSession(ClientID(3))
	s.SetParam(func(sess *Session) {
		sess.Name = "client-a"
		sess.Volume = 0.5
		sess.Position = Position{X: 1, Y: 2, Width: 3, Height: 4, Depth: 5}
	})
	snap := s.Snap([]int{3, 4})
	require.Equal(t, "client-a", snap.Name)
	require.Equal(t, 0.5, snap.Volume)
	require.Equal(t, []int{3, 4}, snap.ChannelAssignment)
	require.Equal(t, Position{X: 1, Y: 2, Width: 3, Height: 4, Depth: 5}, snap.Position)
}
