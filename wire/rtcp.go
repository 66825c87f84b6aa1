package wire

import "encoding/binary"

// ntpEpochOffset is the number of seconds between the NTP epoch
// (1900-01-01) and the Unix epoch (1970-01-01).
const ntpEpochOffset = 2208988800

// NTPTimestamp is a 64-bit NTP-format wallclock value: 32-bit seconds
// since the NTP epoch, 32-bit fractional seconds.
type NTPTimestamp struct {
	Seconds  uint32
	Fraction uint32
}

// NTPFromUnix converts a Unix time (seconds, nanoseconds) to NTP format.
func NTPFromUnix(sec int64, nsec int64) NTPTimestamp {
	return NTPTimestamp{
		Seconds:  uint32(sec + ntpEpochOffset),
		Fraction: uint32((nsec << 32) / 1e9),
	}
}

// middle32 returns the middle 32 bits of the NTP timestamp, as used in
// the "last SR" field of a receiver report.
func (t NTPTimestamp) middle32() uint32 {
	return (t.Seconds << 16) | (t.Fraction >> 16)
}

const senderReportSize = 24
const receiverReportSize = 24

// SenderReport is the RTCP sender report: wallclock at send time, current
// RTP timestamp, cumulative packet/octet counts, and the sender's SSRC.
type SenderReport struct {
	SSRC         uint32
	NTPTime      NTPTimestamp
	RTPTimestamp uint32
	PacketCount  uint32
	OctetCount   uint32
}

// EncodeSenderReport serializes an RTCP SR to a fresh byte slice.
func EncodeSenderReport(sr SenderReport) []byte {
	buf := make([]byte, senderReportSize)
	binary.BigEndian.PutUint32(buf[0:4], sr.SSRC)
	binary.BigEndian.PutUint32(buf[4:8], sr.NTPTime.Seconds)
	binary.BigEndian.PutUint32(buf[8:12], sr.NTPTime.Fraction)
	binary.BigEndian.PutUint32(buf[12:16], sr.RTPTimestamp)
	binary.BigEndian.PutUint32(buf[16:20], sr.PacketCount)
	binary.BigEndian.PutUint32(buf[20:24], sr.OctetCount)
	return buf
}

// DecodeSenderReport parses an RTCP SR from buf.
func DecodeSenderReport(buf []byte) (SenderReport, error) {
	if len(buf) < senderReportSize {
		return SenderReport{}, malformed("sender report too short: %d bytes", len(buf))
	}
	return SenderReport{
		SSRC:         binary.BigEndian.Uint32(buf[0:4]),
		NTPTime:      NTPTimestamp{Seconds: binary.BigEndian.Uint32(buf[4:8]), Fraction: binary.BigEndian.Uint32(buf[8:12])},
		RTPTimestamp: binary.BigEndian.Uint32(buf[12:16]),
		PacketCount:  binary.BigEndian.Uint32(buf[16:20]),
		OctetCount:   binary.BigEndian.Uint32(buf[20:24]),
	}, nil
}

// ReceiverReport is the RTCP receiver report: identifies the sender SSRC
// being reported on, fraction/cumulative loss, extended highest sequence
// number seen, jitter estimate, and the last-SR echo fields.
type ReceiverReport struct {
	SenderSSRC       uint32
	FractionLost     uint8
	CumulativeLost   uint32 // only the low 24 bits are meaningful
	ExtHighestSeq    uint32
	Jitter           uint32
	LastSRMiddle32   uint32
	DelaySinceLastSR uint32 // units of 1/65536 second
}

// EncodeReceiverReport serializes an RTCP RR to a fresh byte slice.
func EncodeReceiverReport(rr ReceiverReport) []byte {
	buf := make([]byte, receiverReportSize)
	binary.BigEndian.PutUint32(buf[0:4], rr.SenderSSRC)
	buf[4] = rr.FractionLost
	lost := rr.CumulativeLost & 0xffffff
	buf[5] = byte(lost >> 16)
	buf[6] = byte(lost >> 8)
	buf[7] = byte(lost)
	binary.BigEndian.PutUint32(buf[8:12], rr.ExtHighestSeq)
	binary.BigEndian.PutUint32(buf[12:16], rr.Jitter)
	binary.BigEndian.PutUint32(buf[16:20], rr.LastSRMiddle32)
	binary.BigEndian.PutUint32(buf[20:24], rr.DelaySinceLastSR)
	return buf
}

// DecodeReceiverReport parses an RTCP RR from buf.
func DecodeReceiverReport(buf []byte) (ReceiverReport, error) {
	if len(buf) < receiverReportSize {
		return ReceiverReport{}, malformed("receiver report too short: %d bytes", len(buf))
	}
	return ReceiverReport{
		SenderSSRC:       binary.BigEndian.Uint32(buf[0:4]),
		FractionLost:     buf[4],
		CumulativeLost:   uint32(buf[5])<<16 | uint32(buf[6])<<8 | uint32(buf[7]),
		ExtHighestSeq:    binary.BigEndian.Uint32(buf[8:12]),
		Jitter:           binary.BigEndian.Uint32(buf[12:16]),
		LastSRMiddle32:   binary.BigEndian.Uint32(buf[16:20]),
		DelaySinceLastSR: binary.BigEndian.Uint32(buf[20:24]),
	}, nil
}

// LastSRMiddle32 is exported for callers building a receiver report from
// a previously-received sender report's NTP timestamp.
func LastSRMiddle32(t NTPTimestamp) uint32 {
	return t.middle32()
}
