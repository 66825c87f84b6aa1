package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"
	"unicode"
)

// Message is an addressed control message: a hierarchical text address
// (e.g. "/sam/set/volume") and a sequence of typed arguments. Argument
// types follow the typetag alphabet: 'i' (int32), 'f' (float32), 's'
// (string).
type Message struct {
	Address string
	Args    []Arg
}

// ArgType is the typetag character identifying an argument's wire type.
type ArgType byte

// Supported argument types.
const (
	ArgInt32  ArgType = 'i'
	ArgFloat  ArgType = 'f'
	ArgString ArgType = 's'
)

// Arg is a single typed control-message argument.
type Arg struct {
	Type ArgType
	I    int32
	F    float32
	S    string
}

// Int builds an int32 argument.
func Int(v int32) Arg { return Arg{Type: ArgInt32, I: v} }

// Float builds a float32 argument.
func Float(v float32) Arg { return Arg{Type: ArgFloat, F: v} }

// String builds a string argument.
func String(v string) Arg { return Arg{Type: ArgString, S: v} }

// TypeTag returns the typetag string for this message's arguments, e.g.
// "iif" for (int, int, float).
func (m Message) TypeTag() string {
	tags := make([]byte, len(m.Args))
	for i, a := range m.Args {
		tags[i] = byte(a.Type)
	}
	return string(tags)
}

func isPrintableASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

// pad4 returns the number of zero bytes needed to round n up to a
// multiple of 4, matching the spec's 4-byte zero padding between fields.
func pad4(n int) int {
	return (4 - n%4) % 4
}

func writePaddedString(buf *bytes.Buffer, s string) {
	buf.WriteString(s)
	buf.WriteByte(0)
	buf.Write(make([]byte, pad4(len(s)+1)))
}

func readPaddedString(r *bytes.Reader) (string, error) {
	var raw bytes.Buffer
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", malformed("unterminated string")
		}
		if b == 0 {
			break
		}
		raw.WriteByte(b)
	}
	// consume padding: total consumed so far (string + nul) rounded to 4
	consumed := raw.Len() + 1
	for i := 0; i < pad4(consumed); i++ {
		if _, err := r.ReadByte(); err != nil {
			return "", malformed("truncated string padding")
		}
	}
	s := raw.String()
	if !isPrintableASCII(s) {
		return "", malformed("non-printable string %q", s)
	}
	return s, nil
}

// EncodeMessage serializes a Message: address, then typetag (prefixed
// with ','), then arguments in order, each padded to a 4-byte boundary.
func EncodeMessage(m Message) ([]byte, error) {
	if !strings.HasPrefix(m.Address, "/sam/") {
		return nil, malformed("address %q must begin with /sam/", m.Address)
	}
	if !isPrintableASCII(m.Address) {
		return nil, malformed("non-printable address %q", m.Address)
	}
	var buf bytes.Buffer
	writePaddedString(&buf, m.Address)
	writePaddedString(&buf, ","+m.TypeTag())
	for _, a := range m.Args {
		switch a.Type {
		case ArgInt32:
			var tmp [4]byte
			binary.BigEndian.PutUint32(tmp[:], uint32(a.I))
			buf.Write(tmp[:])
		case ArgFloat:
			var tmp [4]byte
			binary.BigEndian.PutUint32(tmp[:], math.Float32bits(a.F))
			buf.Write(tmp[:])
		case ArgString:
			writePaddedString(&buf, a.S)
		default:
			return nil, malformed("unknown type tag %q", a.Type)
		}
	}
	return buf.Bytes(), nil
}

// DecodeMessage parses a single control message out of buf. buf must
// contain exactly one message (the caller is responsible for framing on
// stream transports; see framing.go).
func DecodeMessage(buf []byte) (Message, error) {
	r := bytes.NewReader(buf)
	addr, err := readPaddedString(r)
	if err != nil {
		return Message{}, fmt.Errorf("address: %w", err)
	}
	if !strings.HasPrefix(addr, "/sam/") {
		return Message{}, malformed("address %q must begin with /sam/", addr)
	}
	tag, err := readPaddedString(r)
	if err != nil {
		return Message{}, fmt.Errorf("typetag: %w", err)
	}
	if len(tag) == 0 || tag[0] != ',' {
		return Message{}, malformed("typetag %q missing leading comma", tag)
	}
	tag = tag[1:]
	args := make([]Arg, len(tag))
	for i := 0; i < len(tag); i++ {
		switch ArgType(tag[i]) {
		case ArgInt32:
			var tmp [4]byte
			if _, err := io.ReadFull(r, tmp[:]); err != nil {
				return Message{}, malformed("truncated int32 argument %d", i)
			}
			args[i] = Int(int32(binary.BigEndian.Uint32(tmp[:])))
		case ArgFloat:
			var tmp [4]byte
			if _, err := io.ReadFull(r, tmp[:]); err != nil {
				return Message{}, malformed("truncated float argument %d", i)
			}
			args[i] = Float(math.Float32frombits(binary.BigEndian.Uint32(tmp[:])))
		case ArgString:
			s, err := readPaddedString(r)
			if err != nil {
				return Message{}, fmt.Errorf("string argument %d: %w", i, err)
			}
			args[i] = String(s)
		default:
			return Message{}, malformed("unknown type tag %q", tag[i])
		}
	}
	if r.Len() != 0 {
		return Message{}, malformed("%d trailing bytes after arguments", r.Len())
	}
	return Message{Address: addr, Args: args}, nil
}
