package server

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/michelledaniels/streaming-audio/stats"
	"github.com/michelledaniels/streaming-audio/wire"
)

// Responder is how Dispatcher sends a reply or notification back to a
// peer: over the same TCP connection a request arrived on, or to a UDP
// reply-port address. dispatch.go never opens a socket itself; server.go
// supplies a Responder bound to the originating transport.
type Responder interface {
	Send(m wire.Message) error
	Addr() string
}

// Dispatcher routes decoded control messages to Manager operations and
// turns the result into the wire responses and subscriber notifications
// spec.md §4.7 describes. It holds no socket state of its own, mirroring
// how the teacher keeps protocol handling (server.go's request
// processing) separate from the registry (subscription.go/server.go's
// syncMapCli).
type Dispatcher struct {
	mgr          *Manager
	versionMajor int
	versionMinor int
	versionPatch int

	// Stats counts inbound control traffic by address; nil is valid and
	// simply collects nothing, so tests that build a Dispatcher directly
	// never need to supply one.
	Stats stats.Stats
}

// NewDispatcher builds a Dispatcher bound to mgr, answering version
// handshakes against the given (major, minor, patch).
func NewDispatcher(mgr *Manager, major, minor, patch int) *Dispatcher {
	return &Dispatcher{mgr: mgr, versionMajor: major, versionMinor: minor, versionPatch: patch}
}

// Route handles one decoded control message, replying on r as needed.
// Unknown-address messages are logged and dropped, per spec.md §7's
// Protocol error taxonomy; a message with the wrong number of arguments
// is dropped, and only /sam/app/register logs it.
func (d *Dispatcher) Route(m wire.Message, r Responder) {
	if d.Stats != nil {
		d.Stats.IncRX(m.Address)
	}
	switch {
	case m.Address == "/sam/app/register":
		d.handleAppRegister(m, r)
	case m.Address == "/sam/app/unregister":
		d.handleAppUnregister(m, r)
	case m.Address == "/sam/render/register":
		d.handleRenderRegister(m, r)
	case m.Address == "/sam/ui/register":
		d.handleUIRegister(m, r)
	case m.Address == "/sam/ping":
		d.handlePing(m, r)
	case hasPrefix(m.Address, "/sam/set/"):
		d.handleSet(m, r)
	case hasPrefix(m.Address, "/sam/subscribe/"):
		d.handleSubscribe(m, r, true)
	case hasPrefix(m.Address, "/sam/unsubscribe/"):
		d.handleSubscribe(m, r, false)
	default:
		log.Warnf("dropping unknown control address %q", m.Address)
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// checkVersion enforces spec.md §4.7's handshake: (major, minor) must
// match exactly, patch is configurable via Config.VerifyPatchVersion.
func (d *Dispatcher) checkVersion(major, minor, patch int) bool {
	if major != d.versionMajor || minor != d.versionMinor {
		return false
	}
	if d.mgr.cfg.VerifyPatchVersion && patch != d.versionPatch {
		return false
	}
	return true
}

func (d *Dispatcher) handleAppRegister(m wire.Message, r Responder) {
	if len(m.Args) != 15 {
		log.Warnf("malformed app/register: %d args", len(m.Args))
		return
	}
	name := m.Args[0].S
	channels := int(m.Args[1].I)
	x, y, w, h, depth := int(m.Args[2].I), int(m.Args[3].I), int(m.Args[4].I), int(m.Args[5].I), int(m.Args[6].I)
	typeID, presetID := int(m.Args[7].I), int(m.Args[8].I)
	samplesPerPacket := int(m.Args[9].I)
	queueSize := int(m.Args[10].I)
	vMajor, vMinor, vPatch := int(m.Args[11].I), int(m.Args[12].I), int(m.Args[13].I)
	replyPort := int(m.Args[14].I)

	if !d.checkVersion(vMajor, vMinor, vPatch) {
		d.denyApp(r, replyPort, ErrCodeVersionMismatch)
		return
	}

	id, assignment, err := d.mgr.Register(name, channels, samplesPerPacket, typeID, presetID)
	if err != nil {
		code := ErrCodeDefault
		if rd, ok := err.(*ErrRequestDenied); ok {
			code = rd.Code
		} else if _, ok := err.(*ErrNoFreeOutput); ok {
			code = ErrCodeNoFreeOutput
		}
		d.denyApp(r, replyPort, code)
		return
	}

	sess, _ := d.mgr.Session(id)
	sess.SetParam(func(s *Session) {
		s.Position = Position{X: x, Y: y, Width: w, Height: h, Depth: depth}
		s.VersionMajor, s.VersionMinor, s.VersionPatch = vMajor, vMinor, vPatch
	})
	_ = queueSize // queue depth is server-configured; the requested size is accepted but not applied

	if d.Stats != nil {
		d.Stats.IncTX("/sam/app/regconfirm")
		d.Stats.SetActiveClients(int64(len(d.mgr.ActiveSessions())))
	}
	_ = r.Send(wire.Message{
		Address: "/sam/app/regconfirm",
		Args: []wire.Arg{
			wire.Int(int32(id)),
			wire.Int(int32(d.mgr.cfg.SampleRate)),
			wire.Int(int32(d.mgr.cfg.BufferSize)),
			wire.Int(int32(d.mgr.cfg.RTPBasePort + 4*int(id))),
		},
	})

	d.notifyRegistered(sess.Snap(assignment))
}

func (d *Dispatcher) denyApp(r Responder, replyPort int, code ErrorCode) {
	_ = replyPort
	_ = r.Send(wire.Message{Address: "/sam/app/regdeny", Args: []wire.Arg{wire.Int(int32(code))}})
}

func (d *Dispatcher) handleAppUnregister(m wire.Message, r Responder) {
	if len(m.Args) != 1 {
		return
	}
	id := ClientID(m.Args[0].I)
	d.unregisterAndNotify(id)
}

// unregisterAndNotify begins teardown and fans out the notifications
// spec.md §7 requires on peer loss (TCP disconnect drives the same
// path from server.go). The slot itself is freed later by
// Manager.ReapClosing once the audio thread has observed deleteMe.
func (d *Dispatcher) unregisterAndNotify(id ClientID) {
	if _, ok := d.mgr.Session(id); !ok {
		return
	}
	if err := d.mgr.Unregister(id); err != nil {
		return
	}
	d.notifyUnregistered(id)
	if ren := d.mgr.Renderer(); ren != nil {
		_ = ren.Notify("/sam/stream/remove", int32(id))
	}
	if d.Stats != nil {
		d.Stats.SetActiveClients(int64(len(d.mgr.ActiveSessions())))
	}
}

func (d *Dispatcher) handleRenderRegister(m wire.Message, r Responder) {
	if len(m.Args) != 4 {
		return
	}
	vMajor, vMinor, vPatch := int(m.Args[0].I), int(m.Args[1].I), int(m.Args[2].I)
	if !d.checkVersion(vMajor, vMinor, vPatch) {
		_ = r.Send(wire.Message{Address: "/sam/render/regdeny", Args: []wire.Arg{wire.Int(int32(ErrCodeVersionMismatch))}})
		return
	}

	binding := &RendererBinding{
		Addr:    r.Addr(),
		Notify:  func(address string, args ...interface{}) error { return r.Send(buildMessage(address, args...)) },
		Version: [3]int{vMajor, vMinor, vPatch},
	}
	d.mgr.BindRenderer(binding)

	_ = r.Send(wire.Message{Address: "/sam/render/regconfirm"})

	for _, sess := range d.mgr.ActiveSessions() {
		snap := sess.Snap(d.mgr.ChannelAssignment(sess.ID))
		_ = binding.Notify("/sam/stream/add", streamAddArgs(snap)...)
	}
}

func (d *Dispatcher) handleUIRegister(m wire.Message, r Responder) {
	if len(m.Args) != 1 {
		return
	}
	replyPort := int(m.Args[0].I)

	dyn := d.mgr.Dynamic()
	_ = r.Send(wire.Message{
		Address: "/sam/ui/regconfirm",
		Args: []wire.Arg{
			wire.Int(int32(len(d.mgr.ActiveSessions()))),
			wire.Int(boolToInt32(dyn.GlobalMute)),
			wire.Float(float32(dyn.GlobalVolume)),
		},
	})
	for _, sess := range d.mgr.ActiveSessions() {
		snap := sess.Snap(d.mgr.ChannelAssignment(sess.ID))
		_ = r.Send(wire.Message{Address: "/sam/app/registered", Args: []wire.Arg{wire.Int(int32(snap.ID))}})
	}

	if replyPort == 0 {
		return // UDP registration without a reply-port gets no further pushes
	}
	d.mgr.SubscribeUI(Subscriber{
		Addr:   fmt.Sprintf("%s:%d", r.Addr(), replyPort),
		Notify: func(address string, args ...interface{}) error { return r.Send(buildMessage(address, args...)) },
	})
}

func (d *Dispatcher) handlePing(m wire.Message, r Responder) {
	_ = r.Send(wire.Message{Address: "/sam/pingack"})
}

func (d *Dispatcher) handleSet(m wire.Message, r Responder) {
	param := m.Address[len("/sam/set/"):]
	if len(m.Args) < 1 {
		return
	}
	id := ClientID(m.Args[0].I)

	switch param {
	case "volume":
		if len(m.Args) != 2 {
			return
		}
		d.setFloat(id, ParamVolume, float64(m.Args[1].F), func(s *Session) { s.Volume = float64(m.Args[1].F) })
	case "mute":
		if len(m.Args) != 2 {
			return
		}
		d.setBool(id, ParamMute, m.Args[1].I != 0, func(s *Session) { s.Mute = m.Args[1].I != 0 })
	case "solo":
		if len(m.Args) != 2 {
			return
		}
		solo := m.Args[1].I != 0
		if id == GlobalClientID {
			return
		}
		if err := d.mgr.SetSolo(id, solo); err == nil {
			if sess, ok := d.mgr.Session(id); ok {
				sess.Subs.Notify(ParamSolo, "/sam/val/solo", int32(id), boolToInt32(solo))
			}
		}
	case "delay":
		if len(m.Args) != 2 {
			return
		}
		ms := float64(m.Args[1].F)
		d.setInt(id, ParamDelay, msToSamples(int(ms), d.mgr.cfg.SampleRate), func(s *Session) { s.DelayMS = int(ms) })
	case "position":
		if len(m.Args) != 6 {
			return
		}
		sess, ok := d.mgr.Session(id)
		if !ok {
			return
		}
		pos := Position{X: int(m.Args[1].I), Y: int(m.Args[2].I), Width: int(m.Args[3].I), Height: int(m.Args[4].I), Depth: int(m.Args[5].I)}
		sess.SetParam(func(s *Session) { s.Position = pos })
		sess.Subs.Notify(ParamPosition, "/sam/val/position", int32(id), int32(pos.X), int32(pos.Y), int32(pos.Width), int32(pos.Height), int32(pos.Depth))
	case "type":
		if len(m.Args) != 4 {
			return
		}
		d.handleSetType(id, int(m.Args[1].I), int(m.Args[2].I), r)
	default:
		log.Warnf("unknown set parameter %q", param)
	}
}

func (d *Dispatcher) handleSetType(id ClientID, typeID, presetID int, r Responder) {
	if !d.mgr.types.ValidPreset(typeID, presetID) {
		_ = r.Send(wire.Message{Address: "/sam/type/deny", Args: []wire.Arg{wire.Int(int32(ErrCodeInvalidType))}})
		return
	}
	sess, ok := d.mgr.Session(id)
	if !ok {
		_ = r.Send(wire.Message{Address: "/sam/type/deny", Args: []wire.Arg{wire.Int(int32(ErrCodeInvalidID))}})
		return
	}
	sess.SetParam(func(s *Session) { s.TypeID, s.PresetID = typeID, presetID })
	_ = r.Send(wire.Message{Address: "/sam/type/confirm"})
	sess.Subs.Notify(ParamType, "/sam/val/type", int32(id), int32(typeID), int32(presetID))
}

// setFloat applies fn to the target session (or the manager's global
// volume if id == GlobalClientID), then notifies subscribers.
func (d *Dispatcher) setFloat(id ClientID, param Parameter, v float64, fn func(*Session)) {
	if id == GlobalClientID {
		if param == ParamVolume {
			d.mgr.Dynamic().GlobalVolume = v
		}
		return
	}
	sess, ok := d.mgr.Session(id)
	if !ok {
		return
	}
	sess.SetParam(fn)
	sess.Subs.Notify(param, "/sam/val/"+string(param), int32(id), float32(v))
}

func (d *Dispatcher) setBool(id ClientID, param Parameter, v bool, fn func(*Session)) {
	if id == GlobalClientID {
		if param == ParamMute {
			d.mgr.Dynamic().GlobalMute = v
		}
		return
	}
	sess, ok := d.mgr.Session(id)
	if !ok {
		return
	}
	sess.SetParam(fn)
	sess.Subs.Notify(param, "/sam/val/"+string(param), int32(id), boolToInt32(v))
}

func (d *Dispatcher) setInt(id ClientID, param Parameter, v int, fn func(*Session)) {
	if id == GlobalClientID {
		if param == ParamDelay {
			d.mgr.Dynamic().GlobalDelay = v
		}
		return
	}
	sess, ok := d.mgr.Session(id)
	if !ok {
		return
	}
	sess.SetParam(fn)
	sess.Subs.Notify(param, "/sam/val/"+string(param), int32(id), float32(v))
}

func (d *Dispatcher) handleSubscribe(m wire.Message, r Responder, subscribe bool) {
	prefix := "/sam/subscribe/"
	if !subscribe {
		prefix = "/sam/unsubscribe/"
	}
	param := Parameter(m.Address[len(prefix):])
	if len(m.Args) != 2 {
		return
	}
	id := ClientID(m.Args[0].I)
	replyPort := int(m.Args[1].I)
	if replyPort == 0 {
		return // UDP requests without a reply-port receive no reply, per spec.md §6
	}
	sess, ok := d.mgr.Session(id)
	if !ok {
		return
	}

	sub := Subscriber{
		Addr:   fmt.Sprintf("%s:%d", r.Addr(), replyPort),
		Notify: func(address string, args ...interface{}) error { return r.Send(buildMessage(address, args...)) },
	}

	if subscribe {
		sess.Subs.Subscribe(param, sub)
		sendCurrentValue(sess, param, sub)
	} else {
		sess.Subs.Unsubscribe(param, sub.Addr)
	}
}

// sendCurrentValue sends sub the session's current value on subscribe,
// for volume, mute, solo, position and type. Subscriptions to delay,
// meter or "all" get no immediate value.
func sendCurrentValue(sess *Session, param Parameter, sub Subscriber) {
	snap := sess.Snap(nil)
	switch param {
	case ParamVolume:
		_ = sub.Notify("/sam/val/volume", int32(snap.ID), float32(snap.Volume))
	case ParamMute:
		_ = sub.Notify("/sam/val/mute", int32(snap.ID), boolToInt32(snap.Mute))
	case ParamSolo:
		_ = sub.Notify("/sam/val/solo", int32(snap.ID), boolToInt32(snap.Solo))
	case ParamPosition:
		p := snap.Position
		_ = sub.Notify("/sam/val/position", int32(snap.ID), int32(p.X), int32(p.Y), int32(p.Width), int32(p.Height), int32(p.Depth))
	case ParamType:
		_ = sub.Notify("/sam/val/type", int32(snap.ID), int32(snap.TypeID), int32(snap.PresetID))
	}
}

func (d *Dispatcher) notifyRegistered(snap Snapshot) {
	if ren := d.mgr.Renderer(); ren != nil {
		_ = ren.Notify("/sam/stream/add", streamAddArgs(snap)...)
	}
	d.mgr.NotifyUI("/sam/app/registered", int32(snap.ID))
}

func (d *Dispatcher) notifyUnregistered(id ClientID) {
	log.Infof("unregistered client %d", id)
	d.mgr.NotifyUI("/sam/app/unregistered", int32(id))
}

func streamAddArgs(snap Snapshot) []interface{} {
	args := []interface{}{int32(snap.ID), int32(snap.TypeID), int32(snap.PresetID), int32(len(snap.ChannelAssignment))}
	for _, ch := range snap.ChannelAssignment {
		args = append(args, int32(ch))
	}
	return args
}

func buildMessage(address string, args ...interface{}) wire.Message {
	wargs := make([]wire.Arg, 0, len(args))
	for _, a := range args {
		switch v := a.(type) {
		case int32:
			wargs = append(wargs, wire.Int(v))
		case float32:
			wargs = append(wargs, wire.Float(v))
		case string:
			wargs = append(wargs, wire.String(v))
		}
	}
	return wire.Message{Address: address, Args: wargs}
}

func boolToInt32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// requestTimeout is the time limit for RPC-like calls (registration,
// set-type). The dispatcher's handlers do not use it; they reply
// synchronously.
const requestTimeout = 2 * time.Second
