package stream

import (
	"fmt"
	"math/rand/v2"
	"net"
	"time"

	"github.com/michelledaniels/streaming-audio/wire"
)

// ErrTransport wraps a socket write failure from Sender.Send, per
// spec.md §4.2's "Fails with TransportError on socket write failure".
type ErrTransport struct {
	Err error
}

func (e *ErrTransport) Error() string {
	return fmt.Sprintf("transport error: %s", e.Err)
}

func (e *ErrTransport) Unwrap() error {
	return e.Err
}

// Sender packetizes one session's outgoing audio into RTP and paces
// RTCP sender reports, as described in spec.md §4.2.
type Sender struct {
	conn        net.Conn
	ssrc        uint32
	payloadType wire.PayloadTypeCode
	width       wire.PayloadWidth

	sequence  uint16
	timestamp uint32

	packets uint32
	octets  uint32

	reportIntervalSamples uint32
	nextReportTick        uint32
}

// NewSender creates a Sender writing RTP to conn, with sequence and
// timestamp seeded from a uniformly random value so a sender restart is
// distinguishable from the receiver's point of view (spec.md §4.2).
func NewSender(conn net.Conn, payloadType wire.PayloadTypeCode, width wire.PayloadWidth, reportIntervalSamples uint32) *Sender {
	ssrc := rand.Uint32()
	seq := uint16(rand.Uint32())
	ts := rand.Uint32()
	return &Sender{
		conn:                  conn,
		ssrc:                  ssrc,
		payloadType:           payloadType,
		width:                 width,
		sequence:              seq,
		timestamp:             ts,
		reportIntervalSamples: reportIntervalSamples,
		nextReportTick:        ts + reportIntervalSamples,
	}
}

// Send encodes one packet of interleaved samples and writes it to the
// configured RTP socket, advancing sequence/timestamp/counters. It
// returns a SenderReport to transmit on the RTCP channel whenever pacing
// determines one is due (reportDue == false otherwise).
func (s *Sender) Send(samples []float64, frames int) (reportDue bool, sr wire.SenderReport, err error) {
	h := wire.Header{
		PayloadType: s.payloadType,
		Sequence:    s.sequence,
		Timestamp:   s.timestamp,
		SSRC:        s.ssrc,
	}
	buf, err := wire.EncodePacket(h, s.width, samples)
	if err != nil {
		return false, wire.SenderReport{}, err
	}
	if _, err := s.conn.Write(buf); err != nil {
		return false, wire.SenderReport{}, &ErrTransport{Err: err}
	}

	s.timestamp += uint32(frames)
	s.sequence++
	s.packets++
	s.octets += uint32(len(samples) * s.width.BytesPerSample())

	if wrapSafeBefore(s.nextReportTick, s.timestamp) || s.nextReportTick == s.timestamp {
		now := time.Now()
		sr = wire.SenderReport{
			SSRC:         s.ssrc,
			NTPTime:      wire.NTPFromUnix(now.Unix(), int64(now.Nanosecond())),
			RTPTimestamp: s.timestamp,
			PacketCount:  s.packets,
			OctetCount:   s.octets,
		}
		s.nextReportTick += s.reportIntervalSamples
		return true, sr, nil
	}
	return false, wire.SenderReport{}, nil
}

// SSRC returns the sender's synchronization source identifier.
func (s *Sender) SSRC() uint32 {
	return s.ssrc
}
