package server

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/michelledaniels/streaming-audio/audio"
	"github.com/michelledaniels/streaming-audio/internal/audiodriver"
	"github.com/michelledaniels/streaming-audio/internal/router"
	"github.com/michelledaniels/streaming-audio/stream"
)

// slot is one entry in the Manager's fixed-size session array: the
// session itself (nil when Available) plus the network- and
// audio-thread state the Manager attaches to it once Active.
type slot struct {
	session *Session
	kernel  *audio.Session
	recv    *stream.Receiver
	queue   *stream.Queue
	sender  *stream.Sender

	outputChannels []int // output channel indices assigned to this session, basic or discrete
}

// Manager is the registry of client sessions plus the global mix state
// and output-channel ownership map described in spec.md §4.6. One
// Manager instance is constructed per samd process.
type Manager struct {
	mu sync.Mutex

	cfg     *Config
	dynamic *DynamicConfig

	slots []slot

	// channelOwner maps a physical output channel index to its
	// ownership: one of the Disabled*/Enabled* sentinels, or a
	// registered ClientID.
	channelOwner map[int]ChannelOwnership

	types *TypeRegistry

	driver audiodriver.Interface
	router router.Router

	renderer *RendererBinding

	// uiSubs holds every /sam/ui/register peer, fanned out to on every
	// app/registered and app/unregistered event, per spec.md §4.7. Manager-
	// wide rather than per-session since a UI client cares about every
	// client's lifecycle, not one session's parameters (those use
	// Session.Subs instead).
	uiSubs *subscriberSet

	soloActive bool

	// onActivated and onReaped let the engine bind/unbind a session's RTP
	// sockets as it enters and leaves the registry, without the Manager
	// importing Engine (Engine already depends on Manager).
	onActivated func(ClientID)
	onReaped    func(ClientID)
}

// OnActivated registers fn to run synchronously every time Register
// successfully activates a session, after the new session is visible in
// the registry.
func (m *Manager) OnActivated(fn func(ClientID)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onActivated = fn
}

// OnReaped registers fn to run for every id ReapClosing frees.
func (m *Manager) OnReaped(fn func(ClientID)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReaped = fn
}

// RendererBinding is the manager's at-most-one renderer registration,
// per spec.md §6.
type RendererBinding struct {
	Addr    string
	Notify  func(address string, args ...interface{}) error
	Version [3]int
}

// NewManager constructs a Manager with cfg.MaxClients empty slots and
// every configured output channel marked Disabled under its family.
func NewManager(cfg *Config, drv audiodriver.Interface, rtr router.Router) *Manager {
	m := &Manager{
		cfg:          cfg,
		dynamic:      NewDynamicConfig(cfg),
		slots:        make([]slot, cfg.MaxClients),
		channelOwner: make(map[int]ChannelOwnership),
		types:        NewTypeRegistry(),
		driver:       drv,
		router:       rtr,
		uiSubs:       newSubscriberSet(),
	}
	for _, ch := range cfg.BasicChannels {
		m.channelOwner[ch] = DisabledBasic
	}
	for _, ch := range cfg.DiscreteChannels {
		m.channelOwner[ch] = DisabledDiscrete
	}
	return m
}

// Dynamic returns the manager's hot-reloadable global mix state.
func (m *Manager) Dynamic() *DynamicConfig {
	return m.dynamic
}

// Register admits a new client session: finds a free slot, validates
// the requested rendering type/preset, allocates output channels under
// the requested policy, and moves the session Available -> Initializing
// -> Active. Returns the assigned ClientID and the output channels
// assigned to it.
func (m *Manager) Register(name string, channels, samplesPerPacket, typeID, presetID int) (ClientID, []int, error) {
	id, assignment, err := m.doRegister(name, channels, samplesPerPacket, typeID, presetID)
	if err == nil && m.onActivated != nil {
		m.onActivated(id)
	}
	return id, assignment, err
}

func (m *Manager) doRegister(name string, channels, samplesPerPacket, typeID, presetID int) (ClientID, []int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.types.Lookup(typeID); !ok || !m.types.ValidPreset(typeID, presetID) {
		return 0, nil, &ErrRequestDenied{Code: ErrCodeInvalidType}
	}

	id, ok := m.findFreeSlotLocked()
	if !ok {
		return 0, nil, &ErrRequestDenied{Code: ErrCodeMaxClients}
	}

	sess := NewSession(id)
	sess.Name = name
	sess.Channels = channels
	sess.SamplesPerPacket = samplesPerPacket
	sess.SampleRate = m.cfg.SampleRate
	sess.TypeID = typeID
	sess.PresetID = presetID
	sess.Volume = 1.0
	if !sess.BeginInitializing() {
		return 0, nil, &ErrRequestDenied{Code: ErrCodeDefault}
	}

	assignment, err := m.allocateOutputsLocked(id, typeID, channels)
	if err != nil {
		return 0, nil, err
	}

	sess.Activate()
	m.slots[id].session = sess
	m.slots[id].kernel = audio.NewSession(channels, msToSamples(m.cfg.MaxClientDelayMS, m.cfg.SampleRate))
	jitterBuf := uint32(m.cfg.QueueDepth * m.cfg.BufferSize)
	m.slots[id].recv = stream.NewReceiver(uint32(m.cfg.SkewThresholdSamples), jitterBuf)
	m.slots[id].queue = stream.NewQueue(m.cfg.QueueDepth)

	log.Infof("registered client %d (%s), type=%d preset=%d channels=%d", id, name, typeID, presetID, channels)
	return id, assignment, nil
}

// findFreeSlotLocked scans for the first Available slot, since spec.md
// §4.6 models the array as fixed-size rather than dynamically resized.
func (m *Manager) findFreeSlotLocked() (ClientID, bool) {
	for i := range m.slots {
		if m.slots[i].session == nil {
			return ClientID(i), true
		}
	}
	return 0, false
}

// allocateOutputsLocked assigns output channels to id under the basic or
// discrete policy, per spec.md §4.6.
func (m *Manager) allocateOutputsLocked(id ClientID, typeID, channels int) ([]int, error) {
	if typeID == BasicTypeID {
		n := channels
		if n > len(m.cfg.BasicChannels) {
			n = len(m.cfg.BasicChannels)
		}
		assignment := make([]int, n)
		copy(assignment, m.cfg.BasicChannels[:n])
		for _, ch := range assignment {
			m.channelOwner[ch] = EnabledBasic
			_ = m.router.Connect(fmt.Sprintf("client:%d", id), fmt.Sprintf("output:%d", ch))
		}
		m.slots[id].outputChannels = assignment
		return assignment, nil
	}

	assignment := make([]int, 0, channels)
	for _, ch := range m.cfg.DiscreteChannels {
		if len(assignment) == channels {
			break
		}
		if m.channelOwner[ch] == DisabledDiscrete {
			assignment = append(assignment, ch)
		}
	}
	if len(assignment) < channels {
		// release any partial assignment before failing, per spec.md
		// §4.6's "request fails ... and any partial assignments already
		// taken by this session are released".
		for _, ch := range assignment {
			m.channelOwner[ch] = DisabledDiscrete
		}
		return nil, &ErrNoFreeOutput{}
	}
	for _, ch := range assignment {
		m.channelOwner[ch] = ChannelOwnership(id)
		_ = m.router.Connect(fmt.Sprintf("client:%d", id), fmt.Sprintf("output:%d", ch))
	}
	m.slots[id].outputChannels = assignment
	return assignment, nil
}

// Unregister begins teardown of a session: Active -> Closing, releases
// its output channels, and disconnects router ports. The slot is fully
// freed once the audio thread has observed the deletion flag (Release,
// called from the control-thread sweep in server.go).
func (m *Manager) Unregister(id ClientID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.slots[id].session
	if s == nil {
		return &ErrRequestDenied{Code: ErrCodeInvalidID}
	}
	if !s.BeginClosing() {
		return &ErrRequestDenied{Code: ErrCodeInvalidID}
	}
	m.releaseOutputsLocked(id)
	return nil
}

// releaseOutputsLocked frees id's discrete channels back to the pool.
// Basic channels are shared (sum-mixed) across every session using
// them, so they stay EnabledBasic and connected regardless of any one
// session's teardown; only per-session discrete ports are disconnected.
func (m *Manager) releaseOutputsLocked(id ClientID) {
	if m.slots[id].session.TypeID == BasicTypeID {
		return
	}
	for _, ch := range m.slots[id].outputChannels {
		m.channelOwner[ch] = DisabledDiscrete
		_ = m.router.Release(fmt.Sprintf("output:%d", ch))
	}
	m.slots[id].outputChannels = nil
}

// ReapClosing finds sessions in the Closing state whose audio-thread
// kernel has stopped touching them (the caller guarantees this, having
// already skipped them for a block) and moves them Closing -> Available,
// freeing the slot. Returns the ids released this sweep. The
// app/unregistered and stream/remove notifications are not sent here;
// Dispatcher.unregisterAndNotify sends them when teardown begins.
func (m *Manager) ReapClosing() []ClientID {
	reaped := m.reapClosingInternal()
	if m.onReaped != nil {
		for _, id := range reaped {
			m.onReaped(id)
		}
	}
	return reaped
}

func (m *Manager) reapClosingInternal() []ClientID {
	m.mu.Lock()
	defer m.mu.Unlock()
	var reaped []ClientID
	for i := range m.slots {
		s := m.slots[i].session
		if s == nil || s.State() != StateClosing {
			continue
		}
		if s.Release() {
			reaped = append(reaped, s.ID)
			m.slots[i] = slot{}
		}
	}
	return reaped
}

// Session returns the session registered under id, if any.
func (m *Manager) Session(id ClientID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(id) < 0 || int(id) >= len(m.slots) {
		return nil, false
	}
	s := m.slots[id].session
	return s, s != nil
}

// ActiveSessions returns every session currently Active, snapshotted
// under the manager lock but without holding it during I/O.
func (m *Manager) ActiveSessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Session
	for i := range m.slots {
		if s := m.slots[i].session; s != nil && s.State() == StateActive {
			out = append(out, s)
		}
	}
	return out
}

// ChannelAssignment returns the output channels currently owned by id.
func (m *Manager) ChannelAssignment(id ClientID) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(id) < 0 || int(id) >= len(m.slots) {
		return nil
	}
	return append([]int(nil), m.slots[id].outputChannels...)
}

// SetSolo updates a session's solo flag and recomputes whether any
// session in the manager has solo active, since spec.md §4.4 defines
// muting-by-solo relative to the manager-wide solo state, not a single
// session's own flag.
func (m *Manager) SetSolo(id ClientID, solo bool) error {
	m.mu.Lock()
	s := m.slots[id].session
	m.mu.Unlock()
	if s == nil {
		return &ErrRequestDenied{Code: ErrCodeInvalidID}
	}
	s.SetParam(func(sess *Session) { sess.Solo = solo })

	m.mu.Lock()
	defer m.mu.Unlock()
	m.soloActive = false
	for i := range m.slots {
		if sess := m.slots[i].session; sess != nil && sess.Solo {
			m.soloActive = true
			break
		}
	}
	return nil
}

// SoloActive reports whether any registered session currently has solo
// engaged.
func (m *Manager) SoloActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.soloActive
}

// BindRenderer registers (or re-registers) the renderer, replacing any
// existing binding. Per the supplemented original_source behavior
// (SPEC_FULL.md §3), re-registration replaces rather than denies, and
// the caller is responsible for following up with stream/add for every
// active session.
func (m *Manager) BindRenderer(b *RendererBinding) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.renderer != nil {
		log.Infof("replacing renderer binding %s with %s", m.renderer.Addr, b.Addr)
	}
	m.renderer = b
}

// Renderer returns the current renderer binding, or nil if none.
func (m *Manager) Renderer() *RendererBinding {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.renderer
}

// SubscribeUI registers sub to receive every future app/registered and
// app/unregistered notification, per spec.md §4.7's /sam/ui/register.
func (m *Manager) SubscribeUI(sub Subscriber) {
	m.uiSubs.Add(sub)
}

// NotifyUI fans address out to every registered UI subscriber.
func (m *Manager) NotifyUI(address string, args ...interface{}) {
	m.uiSubs.Each(func(sub Subscriber) {
		_ = sub.Notify(address, args...)
	})
}

// Types returns the manager's rendering-type registry.
func (m *Manager) Types() *TypeRegistry {
	return m.types
}

// Driver returns the audio driver the manager was constructed with.
func (m *Manager) Driver() audiodriver.Interface {
	return m.driver
}

// audioState returns the per-session kernel, receiver and playout queue
// the engine's audio-thread tick needs for one session. Unexported: only
// engine.go (same package) drives the real-time path.
func (m *Manager) audioState(id ClientID) (*audio.Session, *stream.Receiver, *stream.Queue, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(id) < 0 || int(id) >= len(m.slots) || m.slots[id].kernel == nil {
		return nil, nil, nil, false
	}
	s := m.slots[id]
	return s.kernel, s.recv, s.queue, true
}

// MeterSnapshot returns id's current per-channel meter readings and
// resets its accumulators, per audio.ChannelMeter's publish-and-reset
// contract. Safe to call from the control thread: the kernel's meter
// state is writer-owned by the audio thread but tolerates torn reads,
// per spec.md §5's metering-state discipline row.
func (m *Manager) MeterSnapshot(id ClientID) ([]audio.ChannelSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(id) < 0 || int(id) >= len(m.slots) || m.slots[id].kernel == nil {
		return nil, false
	}
	return m.slots[id].kernel.Meter(), true
}
