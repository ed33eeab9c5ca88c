package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	HeaderLen uint32 = 8
	TypeAMQP  uint8  = 0x00

	// MinMaxFrameSize is the smallest max-frame-size a peer may advertise.
	MinMaxFrameSize uint32 = 512
)

// ProtocolHeader opens every byte stream in both directions.
var ProtocolHeader = [8]byte{'A', 'M', 'Q', 'P', 0, 1, 0, 0}

var (
	ErrShortHeader       = errors.New("frame: short header")
	ErrIncomplete        = errors.New("frame: incomplete frame")
	ErrPayloadTooLarge   = errors.New("frame: payload too large")
	ErrUnknownType       = errors.New("frame: unknown frame type")
	ErrBadProtocolHeader = errors.New("frame: protocol header mismatch")
)

// Header is the fixed wire header.
type Header struct {
	PayloadLen   uint32
	Type         uint8
	Performative uint8
	Channel      uint16
}

// Frame is one complete wire frame.
type Frame struct {
	Header  Header
	Payload []byte
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint32
}

func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: 1024*1024 - HeaderLen}
}

// LimitsForFrameSize converts a negotiated max-frame-size into payload limits.
func LimitsForFrameSize(maxFrameSize uint32) Limits {
	if maxFrameSize < MinMaxFrameSize {
		maxFrameSize = MinMaxFrameSize
	}
	return Limits{MaxPayloadBytes: maxFrameSize - HeaderLen}
}

// CheckProtocolHeader validates the 8-byte stream preamble.
func CheckProtocolHeader(b []byte) error {
	if len(b) < len(ProtocolHeader) {
		return ErrShortHeader
	}
	if !bytes.Equal(b[:len(ProtocolHeader)], ProtocolHeader[:]) {
		return fmt.Errorf("%w: % x", ErrBadProtocolHeader, b[:len(ProtocolHeader)])
	}
	return nil
}

// Parse decodes one frame from the front of buf without blocking. It returns
// ErrIncomplete when buf holds only part of a frame; n is the number of bytes
// consumed on success.
func Parse(buf []byte, limits Limits) (Frame, int, error) {
	if uint32(len(buf)) < HeaderLen {
		return Frame{}, 0, ErrIncomplete
	}
	h := DecodeHeader(buf[:HeaderLen])
	if err := checkHeader(h, limits); err != nil {
		return Frame{}, 0, err
	}
	total := int(HeaderLen) + int(h.PayloadLen)
	if len(buf) < total {
		return Frame{}, 0, ErrIncomplete
	}
	payload := make([]byte, h.PayloadLen)
	copy(payload, buf[HeaderLen:total])
	return Frame{Header: h, Payload: payload}, total, nil
}

// Append encodes f onto dst.
func Append(dst []byte, f Frame, limits Limits) ([]byte, error) {
	payloadLen := uint64(len(f.Payload))
	if payloadLen > uint64(limits.MaxPayloadBytes) {
		return dst, ErrPayloadTooLarge
	}
	h := f.Header
	h.PayloadLen = uint32(payloadLen)
	dst = append(dst, EncodeHeader(h)...)
	return append(dst, f.Payload...), nil
}

func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [HeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}

	h := DecodeHeader(fixed[:])
	if err := checkHeader(h, limits); err != nil {
		return Frame{}, err
	}

	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Header: h, Payload: payload}, nil
}

func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	buf, err := Append(nil, f, limits)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.PayloadLen)
	buf[4] = h.Type
	buf[5] = h.Performative
	binary.BigEndian.PutUint16(buf[6:8], h.Channel)
	return buf
}

// DecodeHeader reads a header from the first HeaderLen bytes of b.
func DecodeHeader(b []byte) Header {
	return Header{
		PayloadLen:   binary.BigEndian.Uint32(b[0:4]),
		Type:         b[4],
		Performative: b[5],
		Channel:      binary.BigEndian.Uint16(b[6:8]),
	}
}

func checkHeader(h Header, limits Limits) error {
	if h.Type != TypeAMQP {
		return fmt.Errorf("%w: 0x%02x", ErrUnknownType, h.Type)
	}
	if h.PayloadLen > limits.MaxPayloadBytes {
		return fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, h.PayloadLen, limits.MaxPayloadBytes)
	}
	return nil
}
