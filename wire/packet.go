/*
Package wire implements the on-the-wire encodings used by the streaming
audio manager: RTP packets, RTCP sender/receiver reports and the text
control-message protocol. Every codec here is a plain encoding/binary
reader/writer over a fixed byte layout — there is no reflection and no
schema beyond what's described in the field comments.
*/
package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// PayloadWidth identifies the sample encoding carried in an RTP payload.
type PayloadWidth uint8

// Supported payload widths, in bits per sample.
const (
	PayloadPCM16 PayloadWidth = 16
	PayloadPCM24 PayloadWidth = 24
	PayloadPCM32 PayloadWidth = 32 // IEEE-754 float
)

// BytesPerSample returns the wire size, in bytes, of a single sample.
func (w PayloadWidth) BytesPerSample() int {
	switch w {
	case PayloadPCM16:
		return 2
	case PayloadPCM24:
		return 3
	case PayloadPCM32:
		return 4
	default:
		return 0
	}
}

// headerSize is the fixed RTP header length in bytes: version/flags byte,
// marker/payload-type byte, sequence number, timestamp, SSRC.
const headerSize = 12

const rtpVersion = 2

// Header is the fixed 12-byte RTP header. Padding, extension and CSRC
// count are never set on send and ignored on receive; the marker bit is
// unused by this protocol.
type Header struct {
	PayloadType PayloadTypeCode
	Sequence    uint16
	Timestamp   uint32
	SSRC        uint32
}

// PayloadTypeCode is the negotiated 7-bit RTP payload type, mapping to a
// PayloadWidth and a channel count agreed out of band at registration.
type PayloadTypeCode uint8

// Packet is a decoded RTP packet: header plus interleaved PCM samples,
// one float64 per sample normalized to [-1, 1], channel-major within a
// frame (frame 0: ch0..chN, frame 1: ch0..chN, ...).
type Packet struct {
	Header  Header
	Width   PayloadWidth
	Samples []float64 // len == frames*channels
}

// ErrMalformedMessage is returned whenever a wire buffer is too short,
// contains invalid field values, or cannot be fully consumed.
type ErrMalformedMessage struct {
	Reason string
}

func (e *ErrMalformedMessage) Error() string {
	return fmt.Sprintf("malformed message: %s", e.Reason)
}

func malformed(reason string, args ...any) error {
	return &ErrMalformedMessage{Reason: fmt.Sprintf(reason, args...)}
}

// EncodePacket writes an RTP header and the given samples (already
// normalized floats, width-agnostic) into a fresh byte slice encoded at
// the requested width.
func EncodePacket(h Header, width PayloadWidth, samples []float64) ([]byte, error) {
	bps := width.BytesPerSample()
	if bps == 0 {
		return nil, malformed("unsupported payload width %d", width)
	}
	buf := make([]byte, headerSize+len(samples)*bps)
	putHeader(buf, h)
	if err := encodeSamples(buf[headerSize:], width, samples); err != nil {
		return nil, err
	}
	return buf, nil
}

// DecodePacket parses an RTP header and payload. channels and frames are
// the negotiated per-packet geometry and width is the payload width
// supplied by the caller; the header's payload type is decoded but not
// used to choose or check the width.
func DecodePacket(buf []byte, width PayloadWidth, frames, channels int) (*Packet, error) {
	if len(buf) < headerSize {
		return nil, malformed("buffer shorter than RTP header: %d bytes", len(buf))
	}
	h := getHeader(buf)
	bps := width.BytesPerSample()
	if bps == 0 {
		return nil, malformed("unsupported payload width %d", width)
	}
	want := frames * channels
	payload := buf[headerSize:]
	if len(payload) != want*bps {
		return nil, malformed("payload size %d does not match negotiated %d samples at width %d", len(payload), want, width)
	}
	samples, err := decodeSamples(payload, width, want)
	if err != nil {
		return nil, err
	}
	return &Packet{Header: h, Width: width, Samples: samples}, nil
}

func putHeader(buf []byte, h Header) {
	buf[0] = rtpVersion << 6 // padding=0, extension=0, CSRC count=0
	buf[1] = uint8(h.PayloadType) & 0x7f
	binary.BigEndian.PutUint16(buf[2:4], h.Sequence)
	binary.BigEndian.PutUint32(buf[4:8], h.Timestamp)
	binary.BigEndian.PutUint32(buf[8:12], h.SSRC)
}

func getHeader(buf []byte) Header {
	return Header{
		PayloadType: PayloadTypeCode(buf[1] & 0x7f),
		Sequence:    binary.BigEndian.Uint16(buf[2:4]),
		Timestamp:   binary.BigEndian.Uint32(buf[4:8]),
		SSRC:        binary.BigEndian.Uint32(buf[8:12]),
	}
}

// encodeSamples writes len(samples) normalized floats into dst at the
// given width, big-endian, clamping integer encodings to their range.
func encodeSamples(dst []byte, width PayloadWidth, samples []float64) error {
	bps := width.BytesPerSample()
	if len(dst) < len(samples)*bps {
		return malformed("destination buffer too small for %d samples at width %d", len(samples), width)
	}
	for i, s := range samples {
		off := i * bps
		switch width {
		case PayloadPCM16:
			v := clampInt(s, math.MaxInt16, math.MinInt16)
			binary.BigEndian.PutUint16(dst[off:off+2], uint16(int16(v)))
		case PayloadPCM24:
			v := int32(clampInt(s, 1<<23-1, -1<<23))
			dst[off] = byte(v >> 16)
			dst[off+1] = byte(v >> 8)
			dst[off+2] = byte(v)
		case PayloadPCM32:
			bits := math.Float32bits(clampFloat32(s))
			binary.BigEndian.PutUint32(dst[off:off+4], bits)
		}
	}
	return nil
}

// decodeSamples reads count samples from src at the given width,
// returning normalized [-1, 1] floats. Float decodes are clamped.
func decodeSamples(src []byte, width PayloadWidth, count int) ([]float64, error) {
	bps := width.BytesPerSample()
	if len(src) < count*bps {
		return nil, malformed("source buffer too small for %d samples at width %d", count, width)
	}
	out := make([]float64, count)
	for i := range out {
		off := i * bps
		switch width {
		case PayloadPCM16:
			v := int16(binary.BigEndian.Uint16(src[off : off+2]))
			out[i] = float64(v) / math.MaxInt16
		case PayloadPCM24:
			v := int32(src[off])<<16 | int32(src[off+1])<<8 | int32(src[off+2])
			if v&0x800000 != 0 {
				v |= ^int32(0xffffff) // sign extend
			}
			out[i] = float64(v) / float64(1<<23)
		case PayloadPCM32:
			bits := binary.BigEndian.Uint32(src[off : off+4])
			f := math.Float32frombits(bits)
			out[i] = float64(clampFloat32(float64(f)))
		default:
			return nil, malformed("unsupported payload width %d", width)
		}
	}
	return out, nil
}

func clampInt(s float64, max, min int) int {
	v := int(math.Round(s * float64(max)))
	if v > max {
		return max
	}
	if v < min {
		return min
	}
	return v
}

func clampFloat32(s float64) float32 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return float32(s)
}
