package server

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/michelledaniels/streaming-audio/internal/audiodriver"
	"github.com/michelledaniels/streaming-audio/internal/router"
	"github.com/michelledaniels/streaming-audio/wire"
)

// fakeResponder records every message sent to it, for assertions, and
// reports a fixed address for Addr().
type fakeResponder struct {
	addr string
	sent []wire.Message
}

func (f *fakeResponder) Send(m wire.Message) error {
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeResponder) Addr() string { return f.addr }

func registerArgs(name string, channels, x, y, w, h, d, typeID, presetID, spp, queue, vMajor, vMinor, vPatch, replyPort int32) []wire.Arg {
	return []wire.Arg{
		wire.String(name), wire.Int(channels), wire.Int(x), wire.Int(y), wire.Int(w), wire.Int(h), wire.Int(d),
		wire.Int(typeID), wire.Int(presetID), wire.Int(spp), wire.Int(queue),
		wire.Int(vMajor), wire.Int(vMinor), wire.Int(vPatch), wire.Int(replyPort),
	}
}

func testDispatcher(t *testing.T) (*Dispatcher, *Manager) {
	t.Helper()
	cfg := NewConfig()
	cfg.MaxClients = 4
	cfg.BasicChannels = []int{1, 2}
	cfg.DiscreteChannels = []int{3, 4, 5, 6}
	mgr := NewManager(cfg, audiodriver.NewFake(), router.NewFake())
	return NewDispatcher(mgr, 1, 0, 0), mgr
}

func TestDispatchAppRegisterConfirms(t *testing.T) {
	d, _ := testDispatcher(t)
	r := &fakeResponder{addr: "10.0.0.1"}

	m := wire.Message{
		Address: "/sam/app/register",
		Args:    registerArgs("app-a", 2, 0, 0, 0, 0, 0, BasicTypeID, 0, 256, 8, 1, 0, 0, 9000),
	}
	d.Route(m, r)

	require.Len(t, r.sent, 1)
	require.Equal(t, "/sam/app/regconfirm", r.sent[0].Address)
	require.Equal(t, int32(0), r.sent[0].Args[0].I) // first registered client gets id 0
}

func TestDispatchAppRegisterDeniesVersionMismatch(t *testing.T) {
	d, _ := testDispatcher(t)
	r := &fakeResponder{addr: "10.0.0.1"}

	m := wire.Message{
		Address: "/sam/app/register",
		Args:    registerArgs("app-a", 2, 0, 0, 0, 0, 0, BasicTypeID, 0, 256, 8, 2, 0, 0, 9000),
	}
	d.Route(m, r)

	require.Len(t, r.sent, 1)
	require.Equal(t, "/sam/app/regdeny", r.sent[0].Address)
	require.Equal(t, int32(ErrCodeVersionMismatch), r.sent[0].Args[0].I)
}

// TestRendererRegisterAfterActiveClientsReceivesStreamAdd mirrors
// scenario S5: renderer registers after two clients are already active
// and immediately receives two stream/add messages.
func TestRendererRegisterAfterActiveClientsReceivesStreamAdd(t *testing.T) {
	d, _ := testDispatcher(t)
	client := &fakeResponder{addr: "10.0.0.1"}

	d.Route(wire.Message{Address: "/sam/app/register", Args: registerArgs("a", 1, 0, 0, 0, 0, 0, BasicTypeID, 0, 256, 8, 1, 0, 0, 9000)}, client)
	d.Route(wire.Message{Address: "/sam/app/register", Args: registerArgs("b", 1, 0, 0, 0, 0, 0, BasicTypeID, 0, 256, 8, 1, 0, 0, 9001)}, client)

	renderer := &fakeResponder{addr: "10.0.0.2"}
	d.Route(wire.Message{
		Address: "/sam/render/register",
		Args:    []wire.Arg{wire.Int(1), wire.Int(0), wire.Int(0), wire.Int(9100)},
	}, renderer)

	var streamAdds int
	for _, m := range renderer.sent {
		if m.Address == "/sam/stream/add" {
			streamAdds++
		}
	}
	require.Equal(t, 2, streamAdds)
}

func TestDispatchSubscribeSendsCurrentValueImmediately(t *testing.T) {
	d, mgr := testDispatcher(t)
	client := &fakeResponder{addr: "10.0.0.1"}
	d.Route(wire.Message{Address: "/sam/app/register", Args: registerArgs("a", 1, 0, 0, 0, 0, 0, BasicTypeID, 0, 256, 8, 1, 0, 0, 9000)}, client)

	sub := &fakeResponder{addr: "10.0.0.9"}
	d.Route(wire.Message{
		Address: "/sam/subscribe/volume",
		Args:    []wire.Arg{wire.Int(0), wire.Int(9200)},
	}, sub)

	require.Len(t, sub.sent, 1)
	require.Equal(t, "/sam/val/volume", sub.sent[0].Address)
	require.Equal(t, float32(1.0), sub.sent[0].Args[1].F)

	_ = mgr
}

func TestDispatchSetVolumeNotifiesSubscribers(t *testing.T) {
	d, _ := testDispatcher(t)
	client := &fakeResponder{addr: "10.0.0.1"}
	d.Route(wire.Message{Address: "/sam/app/register", Args: registerArgs("a", 1, 0, 0, 0, 0, 0, BasicTypeID, 0, 256, 8, 1, 0, 0, 9000)}, client)

	sub := &fakeResponder{addr: "10.0.0.9"}
	d.Route(wire.Message{Address: "/sam/subscribe/volume", Args: []wire.Arg{wire.Int(0), wire.Int(9200)}}, sub)
	sub.sent = nil // clear the immediate-value send triggered by subscribe

	d.Route(wire.Message{Address: "/sam/set/volume", Args: []wire.Arg{wire.Int(0), wire.Float(0.5)}}, client)

	require.Len(t, sub.sent, 1)
	require.Equal(t, "/sam/val/volume", sub.sent[0].Address)
	require.Equal(t, float32(0.5), sub.sent[0].Args[1].F)
}

// TestTCPDisconnectUnregistersSession mirrors scenario S6, exercised
// directly against Dispatcher.unregisterAndNotify since the TCP
// disconnect detection itself lives in server.go's connection loop.
func TestTCPDisconnectUnregistersSession(t *testing.T) {
	d, mgr := testDispatcher(t)
	client := &fakeResponder{addr: "10.0.0.1"}
	d.Route(wire.Message{Address: "/sam/app/register", Args: registerArgs("a", 1, 0, 0, 0, 0, 0, BasicTypeID, 0, 256, 8, 1, 0, 0, 9000)}, client)

	sess := mgr.ActiveSessions()[0]
	d.unregisterAndNotify(sess.ID)

	require.Equal(t, StateClosing, sess.State())
	require.True(t, sess.MarkedForDeletion())
}

// TestUISubscriberReceivesRegisteredAndUnregistered mirrors scenario S6:
// a UI client that registers for lifecycle notifications sees
// app/registered for a client that joins after it, and app/unregistered
// once that client disconnects.
func TestUISubscriberReceivesRegisteredAndUnregistered(t *testing.T) {
	d, mgr := testDispatcher(t)

	ui := &fakeResponder{addr: "10.0.0.5"}
	d.Route(wire.Message{Address: "/sam/ui/register", Args: []wire.Arg{wire.Int(9300)}}, ui)
	ui.sent = nil // clear the regconfirm/registered backlog for the (empty) existing roster

	client := &fakeResponder{addr: "10.0.0.1"}
	d.Route(wire.Message{Address: "/sam/app/register", Args: registerArgs("a", 1, 0, 0, 0, 0, 0, BasicTypeID, 0, 256, 8, 1, 0, 0, 9000)}, client)

	require.Len(t, ui.sent, 1)
	require.Equal(t, "/sam/app/registered", ui.sent[0].Address)

	sess := mgr.ActiveSessions()[0]
	d.unregisterAndNotify(sess.ID)

	require.Len(t, ui.sent, 2)
	require.Equal(t, "/sam/app/unregistered", ui.sent[1].Address)
	require.Equal(t, int32(sess.ID), ui.sent[1].Args[0].I)
}
