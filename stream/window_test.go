package stream

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapSafeBefore(t *testing.T) {
	require.True(t, wrapSafeBefore(10, 20))
	require.False(t, wrapSafeBefore(20, 10))
	require.True(t, wrapSafeBefore(0xFFFFFFFF, 1)) // wraps forward
	require.False(t, wrapSafeBefore(1, 0xFFFFFFFF))
}

func TestEWMASeedsFromFirstSample(t *testing.T) {
	var e ewma
	got := e.update(10, 5)
	require.Equal(t, 10.0, got)
}

func TestEWMASmooths(t *testing.T) {
	var e ewma
	e.update(0, 5) // seed
	got := e.update(32, 5)
	// (31*0 + 32)/32 = 1
	require.InDelta(t, 1.0, got, 1e-9)
}
