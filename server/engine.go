package server

import (
	"context"
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/michelledaniels/streaming-audio/audio"
	"github.com/michelledaniels/streaming-audio/stats"
	"github.com/michelledaniels/streaming-audio/stream"
	"github.com/michelledaniels/streaming-audio/wire"
)

// Engine is the network thread plus the audio thread from spec.md §5: it
// binds three of each session's four reserved RTP/RTCP UDP ports, decodes
// inbound audio into the session's playout queue, answers each inbound
// RTCP sender report with a receiver report, and drives the
// fixed-size block tick that calls every active session's mix kernel
// and writes the result to the audio driver.
type Engine struct {
	cfg *Config
	mgr *Manager

	io map[ClientID]*sessionIO

	sampleClock uint32 // count of samples ticked, wrapping at 2^32

	// stats is optional; nil means nothing is recorded. Set via
	// Server.UseStats rather than NewEngine so tests that build an Engine
	// directly never need a Stats implementation.
	stats stats.Stats
}

// sessionIO holds one session's bound RTP/RTCP sockets and the fields of
// its negotiated wire geometry the receive loop needs to decode packets.
type sessionIO struct {
	audio  *net.UDPConn // offset 0: client audio in
	report *net.UDPConn // offset 1: RTCP SR from client
	rr     *net.UDPConn // offset 3: RTCP RR back to client

	channels int
	frames   int // samples per packet

	lastSRMiddle32 uint32
	lastSRArrival  time.Time
}

// NewEngine builds an Engine bound to mgr. cfg.RTPBasePort and
// cfg.PayloadWidth govern the per-session socket addresses and wire
// sample encoding.
func NewEngine(cfg *Config, mgr *Manager) *Engine {
	return &Engine{cfg: cfg, mgr: mgr, io: make(map[ClientID]*sessionIO)}
}

// rtpPorts returns the three UDP ports bound for session id out of the
// four reserved per spec.md §6 ("four ports per client starting at
// rtp_base + 4*id"); offset 2 is not returned.
func (e *Engine) rtpPorts(id ClientID) (audioPort, reportsPort, returnPort int) {
	base := e.cfg.RTPBasePort + 4*int(id)
	return base, base + 1, base + 3
}

// BindSession opens id's RTP/RTCP sockets and starts its receive
// goroutines. Called once a session reaches StateActive.
func (e *Engine) BindSession(id ClientID) error {
	sess, ok := e.mgr.Session(id)
	if !ok {
		return fmt.Errorf("no such session %d", id)
	}
	audioPort, reportsPort, returnPort := e.rtpPorts(id)

	audioConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: audioPort})
	if err != nil {
		return fmt.Errorf("binding audio port %d: %w", audioPort, err)
	}
	reportConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: reportsPort})
	if err != nil {
		audioConn.Close()
		return fmt.Errorf("binding rtcp report port %d: %w", reportsPort, err)
	}
	rrConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: returnPort})
	if err != nil {
		audioConn.Close()
		reportConn.Close()
		return fmt.Errorf("binding rtcp return port %d: %w", returnPort, err)
	}

	io := &sessionIO{
		audio:    audioConn,
		report:   reportConn,
		rr:       rrConn,
		channels: sess.Channels,
		frames:   sess.SamplesPerPacket,
	}
	e.io[id] = io

	go e.receiveAudio(id, io)
	go e.receiveReports(id, io)
	return nil
}

// UnbindSession closes id's sockets. Called once its teardown is
// reaped; the receive goroutines exit on their next failed read.
func (e *Engine) UnbindSession(id ClientID) {
	io, ok := e.io[id]
	if !ok {
		return
	}
	io.audio.Close()
	io.report.Close()
	io.rr.Close()
	delete(e.io, id)
}

func (e *Engine) receiveAudio(id ClientID, io *sessionIO) {
	width := e.cfg.PayloadWidth
	buf := make([]byte, 65535)
	for {
		n, _, err := io.audio.ReadFromUDP(buf)
		if err != nil {
			return
		}
		pkt, err := wire.DecodePacket(buf[:n], width, io.frames, io.channels)
		if err != nil {
			log.Warnf("session %d: dropping malformed RTP packet: %v", id, err)
			if e.stats != nil {
				e.stats.IncDropped("malformed")
			}
			continue
		}
		recv, queue, ok := e.mgr.networkState(id)
		if !ok {
			return
		}
		extSeq, playout, accept, err := recv.Accept(pkt, e.currentSampleClock())
		if err != nil {
			continue // badly misordered; wait for a confirming packet
		}
		if !accept {
			continue
		}
		if !queue.Insert(extSeq, playout, pkt.Samples) {
			log.Warnf("session %d: playout queue full, dropping packet", id)
			if e.stats != nil {
				e.stats.IncDropped("queue_full")
			}
			continue
		}
		if e.stats != nil {
			e.stats.SetQueueDepth(int(id), int64(queue.Len()))
		}
	}
}

func (e *Engine) receiveReports(id ClientID, io *sessionIO) {
	buf := make([]byte, 256)
	for {
		n, _, err := io.report.ReadFromUDP(buf)
		if err != nil {
			return
		}
		sr, err := wire.DecodeSenderReport(buf[:n])
		if err != nil {
			log.Warnf("session %d: dropping malformed RTCP SR: %v", id, err)
			continue
		}
		io.lastSRMiddle32 = wire.LastSRMiddle32(sr.NTPTime)
		io.lastSRArrival = time.Now()

		recv, _, ok := e.mgr.networkState(id)
		if !ok {
			return
		}
		delaySinceLastSR := uint32(0)
		rr := recv.ReceiverReport(sr.SSRC, io.lastSRMiddle32, delaySinceLastSR)
		_, _ = io.rr.Write(wire.EncodeReceiverReport(rr))
	}
}

// networkState exposes the receiver/queue pair for the engine's receive
// loops; audioState (manager.go) exposes the full kernel/receiver/queue
// triple for the mix tick. Kept separate so the engine's hot paths only
// lock what they need.
func (m *Manager) networkState(id ClientID) (*stream.Receiver, *stream.Queue, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(id) < 0 || int(id) >= len(m.slots) || m.slots[id].recv == nil {
		return nil, nil, false
	}
	return m.slots[id].recv, m.slots[id].queue, true
}

func (e *Engine) currentSampleClock() uint32 {
	return e.sampleClock
}

// Run drives the fixed-size block tick until ctx is canceled: advance
// the engine's own sample clock, every active session's playout queue
// and mix kernel by one block, and write the mixed result to the
// driver. This is spec.md §5's audio thread, hosted here as a goroutine
// rather than an external realtime callback since Engine supplies its
// own driver.Interface rather than assuming one calls back into Go.
func (e *Engine) Run(ctx context.Context) error {
	frames := e.cfg.BufferSize
	blockPeriod := time.Duration(frames) * time.Second / time.Duration(e.cfg.SampleRate)
	ticker := time.NewTicker(blockPeriod)
	defer ticker.Stop()

	channels := e.cfg.MaxOutputChannels
	if err := e.mgr.Driver().Open(e.cfg.SampleRate, frames, channels); err != nil {
		return fmt.Errorf("opening audio driver: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.tick(frames, channels)
			e.sampleClock += uint32(frames)
		}
	}
}

func (e *Engine) tick(frames, outChannels int) {
	mixBuf := make([]float64, frames*outChannels)
	dyn := e.mgr.Dynamic()
	soloActive := e.mgr.SoloActive()

	for _, sess := range e.mgr.ActiveSessions() {
		if sess.MarkedForDeletion() {
			continue
		}
		kernel, recv, queue, ok := e.mgr.audioState(sess.ID)
		if !ok {
			continue
		}

		in := make([]float64, frames*sess.Channels)
		if idx, playout, ok := queue.Head(); ok {
			drop, forceReset := recv.CheckLateness(playout, e.sampleClock)
			if forceReset {
				recv.Reset()
			}
			if !drop {
				copy(in, queue.Payload(idx))
			}
			queue.MarkUsed(idx)
		}
		if e.stats != nil {
			e.stats.SetQueueDepth(int(sess.ID), int64(queue.Len()))
			e.stats.SetLateCount(int(sess.ID), int64(recv.ConsecutiveLate()))
		}

		snap := sess.Snap(nil)
		kernel.Next = audio.NextParams{
			Volume:     snap.Volume,
			Mute:       snap.Mute,
			Solo:       snap.Solo,
			DelayFrame: msToSamples(snap.DelayMS, e.cfg.SampleRate),
		}

		out := make([]float64, len(in))
		kernel.Process(in, out, frames, audio.BlockParams{
			GlobalVolume: dyn.GlobalVolume,
			GlobalMute:   dyn.GlobalMute,
			GlobalDelay:  dyn.GlobalDelay,
			SoloActive:   soloActive,
		})

		e.mixInto(mixBuf, out, e.mgr.ChannelAssignment(sess.ID), outChannels, frames, sess.Channels)
	}

	if err := e.mgr.Driver().Write(mixBuf); err != nil {
		log.Errorf("audio driver write failed: %v", err)
	}
}

// mixInto sums a session's per-block output into mixBuf at its assigned
// physical channels (1-origin, per spec.md §6). Basic-type sessions
// share channels with others, so this is a sum, never an overwrite.
func (e *Engine) mixInto(mixBuf, sessionOut []float64, assignment []int, outChannels, frames, sessionChannels int) {
	for f := 0; f < frames; f++ {
		for sc := 0; sc < sessionChannels && sc < len(assignment); sc++ {
			physical := assignment[sc] - 1 // 1-origin -> 0-origin
			if physical < 0 || physical >= outChannels {
				continue
			}
			mixBuf[f*outChannels+physical] += sessionOut[f*sessionChannels+sc]
		}
	}
}
