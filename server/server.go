package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/michelledaniels/streaming-audio/internal/audiodriver"
	"github.com/michelledaniels/streaming-audio/internal/router"
	"github.com/michelledaniels/streaming-audio/stats"
	"github.com/michelledaniels/streaming-audio/wire"
)

// Server owns the manager, the dispatcher, and the TCP/UDP control
// listeners, mirroring how the teacher's Server owns the registry plus
// its event and general UDP listeners. Unlike the teacher, SAM's single
// control port serves both TCP (authoritative for session lifetime) and
// UDP (fire-and-forget parameter changes), per spec.md §6.
type Server struct {
	Config *Config
	Mgr    *Manager
	Disp   *Dispatcher
	Eng    *Engine
}

// NewServer builds a Server with a fresh Manager, Dispatcher and Engine
// bound to cfg. drv and rtr are the audio-hardware and routing backends;
// pass audiodriver.NewFake() / router.NewFake() when none is configured.
// The Engine's BindSession/UnbindSession are wired to the manager's
// activation/reap hooks so a session's RTP sockets open and close in
// step with its registered lifetime, without Manager importing Engine.
func NewServer(cfg *Config, drv audiodriver.Interface, rtr router.Router, versionMajor, versionMinor, versionPatch int) *Server {
	mgr := NewManager(cfg, drv, rtr)
	eng := NewEngine(cfg, mgr)
	mgr.OnActivated(func(id ClientID) {
		if err := eng.BindSession(id); err != nil {
			log.Errorf("binding rtp sockets for session %d: %v", id, err)
		}
	})
	mgr.OnReaped(eng.UnbindSession)
	s := &Server{
		Config: cfg,
		Mgr:    mgr,
		Disp:   NewDispatcher(mgr, versionMajor, versionMinor, versionPatch),
		Eng:    eng,
	}
	return s
}

// UseStats wires st into both the dispatcher (control message counters)
// and the engine (dropped-packet and queue-depth gauges). Optional: a
// Server with no Stats wired simply collects nothing.
func (s *Server) UseStats(st stats.Stats) {
	s.Disp.Stats = st
	s.Eng.stats = st
}

// Start binds the TCP and UDP control listeners and the meter-publish
// and closing-session reaper tickers, running until ctx is canceled or
// any one of them fails. Mirrors the teacher's single-wg.Add(1),
// any-goroutine-exits-unblocks-all Start() shape, generalized to
// errgroup so the first error cancels the rest.
func (s *Server) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	tcpLis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.Config.ControlPort))
	if err != nil {
		return fmt.Errorf("binding tcp control port: %w", err)
	}
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: s.Config.ControlPort})
	if err != nil {
		tcpLis.Close()
		return fmt.Errorf("binding udp control port: %w", err)
	}

	g.Go(func() error {
		<-ctx.Done()
		tcpLis.Close()
		udpConn.Close()
		return ctx.Err()
	})
	g.Go(func() error { return s.acceptTCP(ctx, tcpLis) })
	g.Go(func() error { return s.serveUDP(ctx, udpConn) })
	g.Go(func() error { return s.reapLoop(ctx) })
	g.Go(func() error { return s.Eng.Run(ctx) })

	if s.Config.RendererHost != "" {
		g.Go(func() error { return s.autoBindRenderer(ctx) })
	}

	log.Infof("samd listening on tcp/udp :%d", s.Config.ControlPort)
	return g.Wait()
}

func (s *Server) acceptTCP(ctx context.Context, lis net.Listener) error {
	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return fmt.Errorf("tcp accept: %w", err)
			}
		}
		go s.serveTCPConn(conn)
	}
}

// tcpResponder implements Responder over one client's TCP connection,
// framing every outgoing message per spec.md §4.1.
type tcpResponder struct {
	conn net.Conn
}

func (r *tcpResponder) Send(m wire.Message) error {
	buf, err := wire.EncodeMessage(m)
	if err != nil {
		return err
	}
	_, err = r.conn.Write(wire.EncodeFrame(buf))
	return err
}

func (r *tcpResponder) Addr() string {
	host, _, _ := net.SplitHostPort(r.conn.RemoteAddr().String())
	return host
}

// serveTCPConn reads framed control messages from one connection until
// it closes, then unregisters any session that connection registered.
// A closing TCP connection unregisters its session unconditionally, per
// spec.md §6 ("closing a TCP connection unregisters its session").
func (s *Server) serveTCPConn(conn net.Conn) {
	defer conn.Close()
	resp := &tcpResponder{conn: conn}
	fr := wire.NewFrameReader(bufio.NewReader(conn))

	var registeredID ClientID
	haveSession := false

	for {
		frame, err := fr.ReadFrame()
		if err != nil {
			break
		}
		m, err := wire.DecodeMessage(frame)
		if err != nil {
			log.Warnf("malformed control message from %s: %v", conn.RemoteAddr(), err)
			continue
		}
		if m.Address == "/sam/app/register" {
			before := make(map[ClientID]bool)
			for _, sess := range s.Mgr.ActiveSessions() {
				before[sess.ID] = true
			}
			s.Disp.Route(m, resp)
			for _, sess := range s.Mgr.ActiveSessions() {
				if !before[sess.ID] {
					registeredID = sess.ID
					haveSession = true
				}
			}
			continue
		}
		s.Disp.Route(m, resp)
	}

	if haveSession {
		s.Disp.unregisterAndNotify(registeredID)
	}
}

// udpResponder implements Responder for a single UDP request. Send
// writes to the datagram's source address; a reply-port named in the
// request's arguments is not used as the destination (dispatch.go uses
// it only as part of a subscriber's key). Addr is only the source IP.
type udpResponder struct {
	conn *net.UDPConn
	addr *net.UDPAddr
}

func (r *udpResponder) Send(m wire.Message) error {
	buf, err := wire.EncodeMessage(m)
	if err != nil {
		return err
	}
	_, err = r.conn.WriteToUDP(buf, r.addr)
	return err
}

func (r *udpResponder) Addr() string {
	return r.addr.IP.String()
}

func (s *Server) serveUDP(ctx context.Context, conn *net.UDPConn) error {
	buf := make([]byte, 65535)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return fmt.Errorf("udp read: %w", err)
			}
		}
		m, err := wire.DecodeMessage(buf[:n])
		if err != nil {
			log.Warnf("malformed control datagram from %s: %v", addr, err)
			continue
		}
		s.Disp.Route(m, &udpResponder{conn: conn, addr: addr})
	}
}

// reapLoop periodically sweeps Closing sessions whose audio-thread
// kernel has finished with them and finalizes their teardown, and
// publishes meter snapshots to subscribers, per spec.md §5's
// "meter-publish work ... runs on the control thread".
func (s *Server) reapLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.Config.MeterPublishInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, id := range s.Mgr.ReapClosing() {
				log.Infof("reaped session %d", id)
			}
			s.publishMeters()
		}
	}
}

func (s *Server) publishMeters() {
	for _, sess := range s.Mgr.ActiveSessions() {
		channels, ok := s.Mgr.MeterSnapshot(sess.ID)
		if !ok {
			continue
		}
		args := make([]interface{}, 0, 2+4*len(channels))
		args = append(args, int32(sess.ID), int32(len(channels)))
		for _, ch := range channels {
			args = append(args, float32(ch.In.RMS), float32(ch.In.Peak), float32(ch.Out.RMS), float32(ch.Out.Peak))
		}
		sess.Subs.Notify(ParamMeter, "/sam/val/meter", args...)
		if ren := s.Mgr.Renderer(); ren != nil {
			_ = ren.Notify("/sam/val/meter", args...)
		}
	}
}

// autoBindRenderer connects to the configured renderer host/port and
// performs the registration handshake on samd's own behalf, for the
// "auto-bind via config" path spec.md §6 describes as an alternative to
// runtime /sam/render/register.
func (s *Server) autoBindRenderer(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.Config.RendererHost, s.Config.RendererPort)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("dialing renderer %s: %w", addr, err)
	}
	resp := &tcpResponder{conn: conn}
	s.Disp.handleRenderRegister(wire.Message{
		Address: "/sam/render/register",
		Args:    []wire.Arg{wire.Int(int32(s.Disp.versionMajor)), wire.Int(int32(s.Disp.versionMinor)), wire.Int(int32(s.Disp.versionPatch)), wire.Int(0)},
	}, resp)
	<-ctx.Done()
	conn.Close()
	return ctx.Err()
}
