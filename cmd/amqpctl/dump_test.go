package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/danmuck/amqpengine/internal/engine"
	"github.com/danmuck/amqpengine/internal/protocol/frame"
	"github.com/danmuck/amqpengine/internal/testutil/testlog"
)

func capturedOpen(t *testing.T) []byte {
	t.Helper()
	e := engine.New(nil, engine.Options{ContainerID: "dumper"})
	c := e.Connection()
	if err := c.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := c.OpenSender("queue.dump"); err != nil {
		t.Fatalf("open sender: %v", err)
	}
	return append([]byte(nil), e.WriteBuffer()...)
}

func TestDumpDecodesEngineOutput(t *testing.T) {
	testlog.Start(t)
	var out bytes.Buffer
	if err := dump(bytes.NewReader(capturedOpen(t)), &out, true, frame.DefaultLimits()); err != nil {
		t.Fatalf("dump: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header plus 3 frames, got %q", lines)
	}
	for i, want := range []string{"header", "0 ch=0 open", "1 ch=0 begin", "2 ch=0 attach"} {
		if !strings.HasPrefix(lines[i], want) {
			t.Fatalf("line %d: expected prefix %q, got %q", i, want, lines[i])
		}
	}
	if !strings.Contains(lines[1], "ContainerID:dumper") || !strings.Contains(lines[3], "Address:queue.dump") {
		t.Fatalf("expected decoded fields, got %q", lines)
	}
}

func TestDumpHeartbeatAndTruncatedStream(t *testing.T) {
	testlog.Start(t)
	heartbeat, err := frame.Append(nil, frame.Frame{}, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	var out bytes.Buffer
	if err := dump(bytes.NewReader(heartbeat), &out, false, frame.DefaultLimits()); err != nil {
		t.Fatalf("dump: %v", err)
	}
	if strings.TrimSpace(out.String()) != "0 ch=0 heartbeat" {
		t.Fatalf("unexpected heartbeat output %q", out.String())
	}

	stream := capturedOpen(t)
	if err := dump(bytes.NewReader(stream[:len(stream)-3]), &out, true, frame.DefaultLimits()); err == nil {
		t.Fatalf("expected truncated stream to fail")
	}
	if err := dump(strings.NewReader("HTTP/1.1 200 OK\r\n"), &out, true, frame.DefaultLimits()); err == nil {
		t.Fatalf("expected bad protocol header to fail")
	}
}
