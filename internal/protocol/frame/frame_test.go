package frame

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/amqpengine/internal/protocol/tlv"
)

func TestReadWriteFrameRoundTrip(t *testing.T) {
	payload := tlv.EncodeFields([]tlv.Field{tlv.String(1, "container-a")})
	in := Frame{
		Header:  Header{Performative: 0x10, Channel: 3},
		Payload: payload,
	}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, in, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	out, err := ReadFrame(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if out.Header.Performative != 0x10 || out.Header.Channel != 3 || out.Header.PayloadLen != uint32(len(payload)) {
		t.Fatalf("header mismatch: got=%+v", out.Header)
	}
	if !bytes.Equal(out.Payload, payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestReadFrameMalformedHeaderIsDeterministic(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{1, 2, 3}), DefaultLimits())
	if !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestParseIncrementalInput(t *testing.T) {
	buf, err := Append(nil, Frame{Header: Header{Performative: 0x11, Channel: 1}, Payload: []byte("abcdef")}, DefaultLimits())
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	for i := 0; i < len(buf); i++ {
		if _, _, err := Parse(buf[:i], DefaultLimits()); !errors.Is(err, ErrIncomplete) {
			t.Fatalf("prefix %d: expected ErrIncomplete, got %v", i, err)
		}
	}
	f, n, err := Parse(append(buf, 0xff), DefaultLimits())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("expected %d consumed bytes, got %d", len(buf), n)
	}
	if string(f.Payload) != "abcdef" || f.Header.Channel != 1 {
		t.Fatalf("unexpected frame: %+v", f)
	}
}

func TestParseRejectsOversizedPayload(t *testing.T) {
	h := EncodeHeader(Header{PayloadLen: 4096})
	_, _, err := Parse(h, LimitsForFrameSize(1024))
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	if _, err := Append(nil, Frame{Payload: make([]byte, 2048)}, LimitsForFrameSize(1024)); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected append to enforce limits, got %v", err)
	}
}

func TestParseRejectsUnknownType(t *testing.T) {
	h := EncodeHeader(Header{Type: 0x01})
	if _, _, err := Parse(h, DefaultLimits()); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestCheckProtocolHeader(t *testing.T) {
	if err := CheckProtocolHeader(ProtocolHeader[:]); err != nil {
		t.Fatalf("expected valid header, got %v", err)
	}
	if err := CheckProtocolHeader([]byte("AMQP")); !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
	if err := CheckProtocolHeader([]byte("HTTP/1.1")); !errors.Is(err, ErrBadProtocolHeader) {
		t.Fatalf("expected ErrBadProtocolHeader, got %v", err)
	}
}

func TestLimitsForFrameSizeClampsMinimum(t *testing.T) {
	if got := LimitsForFrameSize(10).MaxPayloadBytes; got != MinMaxFrameSize-HeaderLen {
		t.Fatalf("expected clamp to minimum, got %d", got)
	}
}
