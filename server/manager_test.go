package server

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/michelledaniels/streaming-audio/internal/audiodriver"
	"github.com/michelledaniels/streaming-audio/internal/router"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	cfg := NewConfig()
	cfg.MaxClients = 4
	cfg.BasicChannels = []int{1, 2}
	cfg.DiscreteChannels = []int{3, 4}
	return NewManager(cfg, audiodriver.NewFake(), router.NewFake())
}

func TestRegisterBasicTypeAssignsBasicChannels(t *testing.T) {
	m := testManager(t)
	id, assignment, err := m.Register("app-a", 2, 256, BasicTypeID, 0)
	require.NoError(t, err)
	require.Equal(t, ClientID(0), id)
	require.Equal(t, []int{1, 2}, assignment)

	sess, ok := m.Session(id)
	require.True(t, ok)
	require.Equal(t, StateActive, sess.State())
}

func TestRegisterDiscreteTypeAllocatesFromPoolAndDenies(t *testing.T) {
	m := testManager(t)
	m.types.Register(RenderingType{ID: 1, Name: "spatial", Presets: []int{0}})

	_, assignment, err := m.Register("app-a", 2, 256, 1, 0)
	require.NoError(t, err)
	require.ElementsMatch(t, []int{3, 4}, assignment)

	// pool exhausted: a second discrete registration must fail and must
	// not leave a partial assignment behind.
	_, _, err = m.Register("app-b", 1, 256, 1, 0)
	require.Error(t, err)
	_, ok := err.(*ErrNoFreeOutput)
	require.True(t, ok)
}

func TestRegisterUnknownTypeDenied(t *testing.T) {
	m := testManager(t)
	_, _, err := m.Register("app-a", 2, 256, 99, 0)
	require.Error(t, err)
	rd, ok := err.(*ErrRequestDenied)
	require.True(t, ok)
	require.Equal(t, ErrCodeInvalidType, rd.Code)
}

func TestRegisterMaxClientsDenied(t *testing.T) {
	m := testManager(t)
	for i := 0; i < 4; i++ {
		_, _, err := m.Register("app", 0, 256, BasicTypeID, 0)
		require.NoError(t, err)
	}
	_, _, err := m.Register("app-overflow", 0, 256, BasicTypeID, 0)
	require.Error(t, err)
	rd, ok := err.(*ErrRequestDenied)
	require.True(t, ok)
	require.Equal(t, ErrCodeMaxClients, rd.Code)
}

func TestUnregisterThenReapClosingFreesSlot(t *testing.T) {
	m := testManager(t)
	id, _, err := m.Register("app-a", 2, 256, BasicTypeID, 0)
	require.NoError(t, err)

	require.NoError(t, m.Unregister(id))
	sess, ok := m.Session(id)
	require.True(t, ok)
	require.Equal(t, StateClosing, sess.State())
	require.True(t, sess.MarkedForDeletion())

	reaped := m.ReapClosing()
	require.Equal(t, []ClientID{id}, reaped)

	_, ok = m.Session(id)
	require.False(t, ok)

	// the slot is free again for a new registration.
	newID, _, err := m.Register("app-b", 1, 256, BasicTypeID, 0)
	require.NoError(t, err)
	require.Equal(t, id, newID)
}

// TestSoloActiveReflectsAnySessionSoloed mirrors scenario S3's setup:
// solo on one session silences others via the manager-wide solo flag.
func TestSoloActiveReflectsAnySessionSoloed(t *testing.T) {
	m := testManager(t)
	idA, _, err := m.Register("a", 1, 256, BasicTypeID, 0)
	require.NoError(t, err)
	_, _, err = m.Register("b", 1, 256, BasicTypeID, 0)
	require.NoError(t, err)

	require.False(t, m.SoloActive())
	require.NoError(t, m.SetSolo(idA, true))
	require.True(t, m.SoloActive())

	require.NoError(t, m.SetSolo(idA, false))
	require.False(t, m.SoloActive())
}

func TestBindRendererReplacesExisting(t *testing.T) {
	m := testManager(t)
	m.BindRenderer(&RendererBinding{Addr: "1.2.3.4:9"})
	require.Equal(t, "1.2.3.4:9", m.Renderer().Addr)
	m.BindRenderer(&RendererBinding{Addr: "5.6.7.8:9"})
	require.Equal(t, "5.6.7.8:9", m.Renderer().Addr)
}
