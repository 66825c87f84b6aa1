package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSenderReportRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 123456789)
	sr := SenderReport{
		SSRC:         0x11223344,
		NTPTime:      NTPFromUnix(now.Unix(), int64(now.Nanosecond())),
		RTPTimestamp: 999,
		PacketCount:  42,
		OctetCount:   4096,
	}
	buf := EncodeSenderReport(sr)
	require.Len(t, buf, senderReportSize)

	got, err := DecodeSenderReport(buf)
	require.NoError(t, err)
	require.Equal(t, sr, got)
}

func TestDecodeSenderReportTooShort(t *testing.T) {
	_, err := DecodeSenderReport(make([]byte, senderReportSize-1))
	require.Error(t, err)
}

func TestReceiverReportRoundTrip(t *testing.T) {
	rr := ReceiverReport{
		SenderSSRC:       0xaabbccdd,
		FractionLost:     12,
		CumulativeLost:   0x00ff00,
		ExtHighestSeq:    0x00010005,
		Jitter:           77,
		LastSRMiddle32:   0x12345678,
		DelaySinceLastSR: 500,
	}
	buf := EncodeReceiverReport(rr)
	require.Len(t, buf, receiverReportSize)

	got, err := DecodeReceiverReport(buf)
	require.NoError(t, err)
	require.Equal(t, rr, got)
}

func TestLastSRMiddle32MatchesNTPEncoding(t *testing.T) {
	sr := SenderReport{NTPTime: NTPFromUnix(1700000000, 500000000)}
	buf := EncodeSenderReport(sr)
	decoded, err := DecodeSenderReport(buf)
	require.NoError(t, err)
	require.Equal(t, decoded.NTPTime.middle32(), LastSRMiddle32(decoded.NTPTime))
}
