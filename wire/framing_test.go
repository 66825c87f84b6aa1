package wire

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeFrameEscaping(t *testing.T) {
	payload := []byte{0xC0, 0xDB, 0x01, 0xC0}
	framed := EncodeFrame(payload)
	require.Equal(t, byte(frameDelim), framed[0])
	require.Equal(t, byte(frameDelim), framed[len(framed)-1])

	r := NewFrameReader(bytes.NewReader(framed))
	got, err := r.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestFrameReaderMultipleMessages(t *testing.T) {
	m1, err := EncodeMessage(Message{Address: "/sam/ping"})
	require.NoError(t, err)
	m2, err := EncodeMessage(Message{Address: "/sam/set/volume", Args: []Arg{Float(0.5)}})
	require.NoError(t, err)

	var stream bytes.Buffer
	stream.Write(EncodeFrame(m1))
	stream.Write(EncodeFrame(m2))

	r := NewFrameReader(&stream)
	got1, err := r.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, m1, got1)

	got2, err := r.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, m2, got2)

	_, err = r.ReadFrame()
	require.ErrorIs(t, err, io.EOF)
}

func TestFrameReaderUnterminatedFrame(t *testing.T) {
	r := NewFrameReader(bytes.NewReader([]byte{frameDelim, 0x01, 0x02}))
	_, err := r.ReadFrame()
	require.Error(t, err)
}

func TestFrameReaderInvalidEscape(t *testing.T) {
	r := NewFrameReader(bytes.NewReader([]byte{frameDelim, frameEsc, 0x99, frameDelim}))
	_, err := r.ReadFrame()
	require.Error(t, err)
}
