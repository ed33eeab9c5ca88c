package engine

import (
	"errors"
	"testing"

	"github.com/danmuck/amqpengine/internal/condition"
	"github.com/danmuck/amqpengine/internal/endpoint"
	"github.com/danmuck/amqpengine/internal/protocol/frame"
	"github.com/danmuck/amqpengine/internal/protocol/performative"
	"github.com/danmuck/amqpengine/internal/protocol/schema"
	"github.com/danmuck/amqpengine/internal/testutil/testlog"
)

func TestContainerIDIsPerEngine(t *testing.T) {
	testlog.Start(t)
	p := newPipe(t, newRecorder(), newRecorder(), Options{}, Options{})
	if got := p.a.Connection().ContainerID(); got != "a" {
		t.Fatalf("expected container a, got %q", got)
	}
	if got := p.b.Connection().ContainerID(); got != "b" {
		t.Fatalf("expected container b, got %q", got)
	}
	mustOpen(t, p.a.Connection())
	p.until("remote container id", func() bool { return p.b.Connection().RemoteContainerID() == "a" })

	x := New(nil, Options{})
	y := New(nil, Options{})
	if x.Connection().ContainerID() == "" || x.Connection().ContainerID() == y.Connection().ContainerID() {
		t.Fatalf("expected distinct generated container ids")
	}
}

func TestEndpointStatesAreExclusive(t *testing.T) {
	testlog.Start(t)
	p := newPipe(t, newRecorder(), newRecorder(), Options{}, Options{})
	check := func(c Connection) {
		t.Helper()
		n := 0
		for _, v := range []bool{c.Uninitialized(), c.Active(), c.Closed()} {
			if v {
				n++
			}
		}
		if n > 1 {
			t.Fatalf("expected exclusive states, got %s", c)
		}
	}
	ca, cb := p.a.Connection(), p.b.Connection()
	if !ca.Uninitialized() {
		t.Fatalf("expected uninitialized before open")
	}
	check(ca)
	mustOpen(t, ca)
	check(ca)
	if ca.Active() {
		t.Fatalf("expected local open alone not to be active")
	}
	p.until("active", func() bool { return ca.Active() && cb.Active() })
	check(ca)
	check(cb)
	if err := ca.Close(condition.Condition{}); err != nil {
		t.Fatalf("close: %v", err)
	}
	check(ca)
	p.until("closed", func() bool { return cb.Closed() })
	check(cb)
}

func TestTransportCloseFailsOnce(t *testing.T) {
	testlog.Start(t)
	ra := newRecorder()
	p := newPipe(t, ra, newRecorder(), Options{}, Options{})
	mustOpen(t, p.a.Connection())
	p.until("b active", func() bool { return p.b.Connection().Active() })

	p.a.Close(named("oops", "engine failure"))
	p.a.Close(named("later", "ignored"))
	more, err := p.a.Dispatch()
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if more {
		t.Fatalf("expected dispatch to report no more work")
	}
	if len(ra.transportErrs) != 1 || ra.transportErrs[0] != "oops: engine failure" {
		t.Fatalf("expected one transport error, got %v", ra.transportErrs)
	}
	if ra.transportClose != 1 {
		t.Fatalf("expected one transport close, got %d", ra.transportClose)
	}
	if p.a.Connection().Closed() {
		t.Fatalf("expected connection not to be closed by a transport failure")
	}
	if got := p.a.Transport().Error().Describe(); got != "oops: engine failure" {
		t.Fatalf("unexpected transport condition %q", got)
	}
	if len(p.a.ReadBuffer()) != 0 || len(p.a.WriteBuffer()) != 0 {
		t.Fatalf("expected no more I/O after failure")
	}
	if more, _ := p.a.Dispatch(); more {
		t.Fatalf("expected dispatch to stay finished")
	}
}

func TestTransportCloseWithEmptyCondition(t *testing.T) {
	testlog.Start(t)
	ra := newRecorder()
	e := New(ra, Options{ContainerID: "a"})
	e.Close(condition.Condition{})
	if more, err := e.Dispatch(); more || err != nil {
		t.Fatalf("expected finished dispatch, got more=%v err=%v", more, err)
	}
	if len(ra.transportErrs) != 0 || ra.transportClose != 1 {
		t.Fatalf("expected close without error, errs=%v closes=%d", ra.transportErrs, ra.transportClose)
	}
}

func TestEnginePairMirrorsLinks(t *testing.T) {
	testlog.Start(t)
	ra, rb := newRecorder(), newRecorder()
	p := newPipe(t, ra, rb, Options{}, Options{})
	ca := p.a.Connection()
	mustOpen(t, ca)
	if _, err := ca.OpenSender("x"); err != nil {
		t.Fatalf("open sender: %v", err)
	}
	if _, err := ca.OpenReceiver("y"); err != nil {
		t.Fatalf("open receiver: %v", err)
	}
	p.until("links mirrored", func() bool { return len(ra.senders) == 1 && len(ra.receivers) == 1 })

	if len(rb.receivers) != 1 || rb.receivers[0].Name() != "x" {
		t.Fatalf("expected one receiver x on b, got %v", rb.receivers)
	}
	if len(rb.senders) != 1 || rb.senders[0].Name() != "y" {
		t.Fatalf("expected one sender y on b, got %v", rb.senders)
	}
	if rb.sessions != 1 || ra.sessions != 1 {
		t.Fatalf("expected one session open each side, a=%d b=%d", ra.sessions, rb.sessions)
	}
	if got := len(p.b.Connection().Senders()); got != 1 {
		t.Fatalf("expected b to list one sender, got %d", got)
	}
	if !ra.senders[0].Active() || !rb.receivers[0].Active() {
		t.Fatalf("expected links to be active")
	}
}

func TestEndpointCloseCarriesCondition(t *testing.T) {
	testlog.Start(t)
	ra, rb := newRecorder(), newRecorder()
	p := newPipe(t, ra, rb, Options{}, Options{})
	ca, cb := p.a.Connection(), p.b.Connection()
	mustOpen(t, ca)
	ax, _ := ca.OpenSender("x")
	ay, _ := ca.OpenReceiver("y")
	p.until("links", func() bool { return len(ra.senders) == 1 && len(ra.receivers) == 1 })
	bx, by := rb.receivers[0], rb.senders[0]

	if err := ax.Close(named("err", "foo bar")); err != nil {
		t.Fatalf("close x: %v", err)
	}
	p.until("x closed", bx.Closed)
	if got := bx.Error().Describe(); got != "err: foo bar" {
		t.Fatalf("expected err: foo bar, got %q", got)
	}
	if len(rb.unhandled) != 1 || rb.unhandled[0] != "receiver_error err: foo bar" {
		t.Fatalf("expected receiver error to reach OnError, got %v", rb.unhandled)
	}

	if err := ay.Close(condition.Condition{}); err != nil {
		t.Fatalf("close y: %v", err)
	}
	p.until("y closed", by.Closed)
	if !by.Error().Empty() {
		t.Fatalf("expected empty condition, got %q", by.Error().Describe())
	}

	if err := ca.Close(named("conn", "bad connection")); err != nil {
		t.Fatalf("close connection: %v", err)
	}
	p.until("connection closed", cb.Closed)
	if got := cb.Error().Describe(); got != "conn: bad connection" {
		t.Fatalf("unexpected connection error %q", got)
	}
	if len(rb.connectionErrs) != 1 {
		t.Fatalf("expected one connection error on b, got %v", rb.connectionErrs)
	}
	if len(ra.connectionErrs) != 0 {
		t.Fatalf("expected no connection error on a, got %v", ra.connectionErrs)
	}
}

func TestCleanShutdownClosesTransport(t *testing.T) {
	testlog.Start(t)
	ra, rb := newRecorder(), newRecorder()
	p := newPipe(t, ra, rb, Options{}, Options{})
	mustOpen(t, p.a.Connection())
	p.until("active", p.a.Connection().Active)
	if err := p.a.Connection().Close(condition.Condition{}); err != nil {
		t.Fatalf("close: %v", err)
	}
	p.until("transports closed", func() bool { return ra.transportClose == 1 && rb.transportClose == 1 })
	if len(ra.transportErrs) != 0 || len(rb.transportErrs) != 0 {
		t.Fatalf("expected clean close, a=%v b=%v", ra.transportErrs, rb.transportErrs)
	}
	for _, e := range []*Engine{p.a, p.b} {
		if more, err := e.Dispatch(); more || err != nil {
			t.Fatalf("expected finished engine, more=%v err=%v", more, err)
		}
		if !e.Transport().Closed() || e.Transport().Failed() {
			t.Fatalf("expected closed, unfailed transport")
		}
	}
}

func TestMessageAcceptAndSettle(t *testing.T) {
	testlog.Start(t)
	ra, rb := newRecorder(), newRecorder()
	p := newPipe(t, ra, rb, Options{}, Options{})
	ca := p.a.Connection()
	mustOpen(t, ca)
	snd, err := ca.OpenSender("q")
	if err != nil {
		t.Fatalf("open sender: %v", err)
	}
	if _, err := snd.Send([]byte("early")); !errors.Is(err, ErrNoCredit) {
		t.Fatalf("expected ErrNoCredit before flow, got %v", err)
	}
	p.until("credit", func() bool { return snd.Credit() > 0 })
	if got := snd.Credit(); got != DefaultCreditWindow {
		t.Fatalf("expected credit %d, got %d", DefaultCreditWindow, got)
	}

	var trackers []Tracker
	for _, m := range []string{"m1", "m2", "m3", "m4", "m5", "m6"} {
		tr, err := snd.Send([]byte(m))
		if err != nil {
			t.Fatalf("send %s: %v", m, err)
		}
		trackers = append(trackers, tr)
	}
	p.until("settled", func() bool { return ra.trackerSettles == 6 })
	if len(rb.messages) != 6 || rb.messages[0] != "m1" || rb.messages[5] != "m6" {
		t.Fatalf("unexpected messages %v", rb.messages)
	}
	if ra.accepts != 6 {
		t.Fatalf("expected 6 accepts, got %d", ra.accepts)
	}
	for _, tr := range trackers {
		if !tr.Settled() {
			t.Fatalf("expected settled tracker")
		}
		if _, err := tr.rec(); !errors.Is(err, ErrStaleHandle) {
			t.Fatalf("expected settled tracker to be released, got %v", err)
		}
	}
	p.until("credit replenished", func() bool { return snd.Credit() >= 5 })
	if rcv := rb.receivers[0]; rcv.Credit() < 5 {
		t.Fatalf("expected receiver credit to be topped up, got %d", rcv.Credit())
	}
}

func TestRejectCarriesCondition(t *testing.T) {
	testlog.Start(t)
	ra, rb := newRecorder(), newRecorder()
	rb.reg.On(Message, func(ev Event) error {
		return ev.Delivery().Reject(named("bad", "payload"))
	})
	p := newPipe(t, ra, rb, Options{}, Options{DisableAutoAccept: true})
	mustOpen(t, p.a.Connection())
	snd, _ := p.a.Connection().OpenSender("q")
	p.until("credit", func() bool { return snd.Credit() > 0 })
	if _, err := snd.Send([]byte("x")); err != nil {
		t.Fatalf("send: %v", err)
	}
	p.until("reject", func() bool { return len(ra.rejects) == 1 })
	if ra.rejects[0] != "bad: payload" {
		t.Fatalf("unexpected reject condition %q", ra.rejects[0])
	}
}

func TestPresettledTransfer(t *testing.T) {
	testlog.Start(t)
	ra, rb := newRecorder(), newRecorder()
	p := newPipe(t, ra, rb, Options{}, Options{})
	mustOpen(t, p.a.Connection())
	snd, _ := p.a.Connection().OpenSender("q", WithPresettled())
	p.until("credit", func() bool { return snd.Credit() > 0 })
	tr, err := snd.Send([]byte("fire"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !tr.Settled() {
		t.Fatalf("expected presettled tracker")
	}
	p.until("message", func() bool { return len(rb.messages) == 1 })
	p.process()
	if ra.trackerSettles != 0 || ra.accepts != 0 {
		t.Fatalf("expected no disposition for presettled transfer")
	}
}

func TestTrackerSettleNotifiesReceiver(t *testing.T) {
	testlog.Start(t)
	ra, rb := newRecorder(), newRecorder()
	p := newPipe(t, ra, rb, Options{}, Options{DisableAutoAccept: true})
	mustOpen(t, p.a.Connection())
	snd, _ := p.a.Connection().OpenSender("q")
	p.until("credit", func() bool { return snd.Credit() > 0 })
	tr, _ := snd.Send([]byte("x"))
	p.until("message", func() bool { return len(rb.messages) == 1 })
	if err := tr.Settle(); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if err := tr.Settle(); !errors.Is(err, ErrStaleHandle) && !errors.Is(err, ErrSettled) {
		t.Fatalf("expected second settle to fail, got %v", err)
	}
	p.until("delivery settle", func() bool { return rb.deliverySettle == 1 })
}

func TestDrainReturnsCredit(t *testing.T) {
	testlog.Start(t)
	ra, rb := newRecorder(), newRecorder()
	p := newPipe(t, ra, rb, Options{}, Options{})
	mustOpen(t, p.a.Connection())
	rcv, err := p.a.Connection().OpenReceiver("d")
	if err != nil {
		t.Fatalf("open receiver: %v", err)
	}
	p.until("b sender credit", func() bool { return len(rb.senders) == 1 && rb.senders[0].Credit() == DefaultCreditWindow })
	if err := rcv.Drain(); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if !rcv.Draining() {
		t.Fatalf("expected draining receiver")
	}
	p.until("drain finish", func() bool { return ra.drainFinishes == 1 })
	if rb.drainStarts != 1 {
		t.Fatalf("expected one drain start, got %d", rb.drainStarts)
	}
	if rcv.Credit() != 0 || rcv.Draining() {
		t.Fatalf("expected drained receiver, credit=%d draining=%v", rcv.Credit(), rcv.Draining())
	}
	if got := rb.senders[0].Credit(); got != 0 {
		t.Fatalf("expected sender credit returned, got %d", got)
	}

	if err := rcv.AddCredit(3); err != nil {
		t.Fatalf("add credit: %v", err)
	}
	p.until("credit restored", func() bool { return rb.senders[0].Credit() == 3 })
}

func TestBufferBounds(t *testing.T) {
	testlog.Start(t)
	e := New(newRecorder(), Options{ContainerID: "a"})
	if err := e.ReadDone(1); !errors.Is(err, ErrBufferBounds) {
		t.Fatalf("expected ErrBufferBounds without a read buffer, got %v", err)
	}
	buf := e.ReadBuffer()
	if len(buf) == 0 {
		t.Fatalf("expected a read buffer")
	}
	if err := e.ReadDone(len(buf) + 1); !errors.Is(err, ErrBufferBounds) {
		t.Fatalf("expected ErrBufferBounds, got %v", err)
	}
	if err := e.ReadDone(-1); !errors.Is(err, ErrBufferBounds) {
		t.Fatalf("expected ErrBufferBounds for negative count, got %v", err)
	}
	out := e.WriteBuffer()
	if string(out) != string(frame.ProtocolHeader[:]) {
		t.Fatalf("expected protocol header first, got %q", out)
	}
	if err := e.WriteDone(len(out) + 1); !errors.Is(err, ErrBufferBounds) {
		t.Fatalf("expected ErrBufferBounds, got %v", err)
	}
	if err := e.WriteDone(3); err != nil {
		t.Fatalf("partial write: %v", err)
	}
	if got := e.WriteBuffer(); string(got) != string(frame.ProtocolHeader[3:]) {
		t.Fatalf("expected remaining header bytes, got %q", got)
	}
	if e.Transport().Failed() {
		t.Fatalf("expected bound violations not to fail the transport")
	}
}

func TestReadDoneCommitsOncePerBuffer(t *testing.T) {
	testlog.Start(t)
	a := New(nil, Options{ContainerID: "a"})
	mustOpen(t, a.Connection())
	wire := append([]byte(nil), a.WriteBuffer()...)

	b := New(newRecorder(), Options{ContainerID: "b"})
	buf := b.ReadBuffer()
	n := copy(buf, wire)
	if n <= 11 {
		t.Fatalf("expected header and open frame, got %d bytes", n)
	}
	if err := b.ReadDone(11); err != nil {
		t.Fatalf("read done: %v", err)
	}
	if err := b.ReadDone(n - 11); !errors.Is(err, ErrBufferBounds) {
		t.Fatalf("expected second commit on one buffer to fail, got %v", err)
	}

	buf = b.ReadBuffer()
	copy(buf, wire[11:])
	if err := b.ReadDone(len(wire) - 11); err != nil {
		t.Fatalf("read done: %v", err)
	}
	if got := b.Connection().RemoteState(); got != endpoint.Opened {
		t.Fatalf("expected remote open to be decoded, got %s", got)
	}
	if got := b.Connection().RemoteContainerID(); got != "a" {
		t.Fatalf("expected remote container a, got %q", got)
	}
	if b.Transport().Failed() {
		t.Fatalf("expected no transport failure, got %q", b.Transport().Error().Describe())
	}
}

func TestFramingErrors(t *testing.T) {
	testlog.Start(t)
	feed := func(t *testing.T, data []byte) *recorder {
		t.Helper()
		r := newRecorder()
		e := New(r, Options{ContainerID: "a"})
		buf := e.ReadBuffer()
		n := copy(buf, data)
		if err := e.ReadDone(n); err != nil {
			t.Fatalf("read done: %v", err)
		}
		if more, err := e.Dispatch(); more || err != nil {
			t.Fatalf("expected finished engine, more=%v err=%v", more, err)
		}
		return r
	}

	r := feed(t, []byte("HTTP/1.1 200 OK\r\n"))
	if len(r.transportErrs) != 1 {
		t.Fatalf("expected one transport error, got %v", r.transportErrs)
	}

	attach, err := performative.Encode(0, performative.Attach{Name: "x", Handle: 0})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	data := append([]byte(nil), frame.ProtocolHeader[:]...)
	data, _ = frame.Append(data, attach, frame.DefaultLimits())
	r = feed(t, data)
	if len(r.transportErrs) != 1 {
		t.Fatalf("expected attach before open to fail, got %v", r.transportErrs)
	}

	bad := frame.Frame{Header: frame.Header{Performative: schema.PerfOpen}, Payload: []byte{0xff}}
	data = append([]byte(nil), frame.ProtocolHeader[:]...)
	data, _ = frame.Append(data, bad, frame.DefaultLimits())
	r = feed(t, data)
	if len(r.transportErrs) != 1 {
		t.Fatalf("expected malformed body to fail, got %v", r.transportErrs)
	}
}

func TestReadCloseBeforeRemoteClose(t *testing.T) {
	testlog.Start(t)
	r := newRecorder()
	e := New(r, Options{ContainerID: "a"})
	buf := e.ReadBuffer()
	n := copy(buf, frame.ProtocolHeader[:])
	if err := e.ReadDone(n); err != nil {
		t.Fatalf("read done: %v", err)
	}
	e.ReadClose()
	if _, err := e.Dispatch(); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(r.transportErrs) != 1 || r.transportErrs[0] != condition.FramingError+": connection aborted" {
		t.Fatalf("unexpected transport errors %v", r.transportErrs)
	}
}

func TestOutboundIntentsWaitForParents(t *testing.T) {
	testlog.Start(t)
	e := New(newRecorder(), Options{ContainerID: "a"})
	c := e.Connection()
	if _, err := c.OpenSender("x"); err != nil {
		t.Fatalf("open sender: %v", err)
	}
	if got := e.WriteBuffer(); len(got) != len(frame.ProtocolHeader) {
		t.Fatalf("expected only the protocol header before open, got %d bytes", len(got))
	}
	mustOpen(t, c)
	out := e.WriteBuffer()[len(frame.ProtocolHeader):]
	var perfs []uint8
	for len(out) > 0 {
		f, n, err := frame.Parse(out, frame.DefaultLimits())
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		perfs = append(perfs, f.Header.Performative)
		out = out[n:]
	}
	want := []uint8{schema.PerfOpen, schema.PerfBegin, schema.PerfAttach}
	if len(perfs) != len(want) {
		t.Fatalf("expected %v, got %v", want, perfs)
	}
	for i := range want {
		if perfs[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, perfs)
		}
	}
}

func TestRegistryEscalatesUnhandledErrors(t *testing.T) {
	testlog.Start(t)
	p := newPipe(t, newRecorder(), NewRegistry(), Options{}, Options{})
	ca := p.a.Connection()
	mustOpen(t, ca)
	p.until("active", func() bool { return p.b.Connection().Active() })
	if err := ca.Close(named("conn", "bad connection")); err != nil {
		t.Fatalf("close: %v", err)
	}
	var appErr *ApplicationError
	for i := 0; i < 8 && appErr == nil; i++ {
		if err := p.step(p.a, &p.ba, &p.ab); err != nil {
			t.Fatalf("dispatch a: %v", err)
		}
		if err := p.step(p.b, &p.ab, &p.ba); err != nil {
			if !errors.As(err, &appErr) {
				t.Fatalf("expected ApplicationError, got %v", err)
			}
		}
	}
	if appErr == nil {
		t.Fatalf("expected escalation from b")
	}
	if appErr.Kind != ConnectionError || appErr.Condition.Describe() != "conn: bad connection" {
		t.Fatalf("unexpected application error %v", appErr)
	}
	// the close event stays queued behind the failed one
	if more, err := p.b.Dispatch(); err != nil || !more {
		t.Fatalf("expected remaining events to dispatch, more=%v err=%v", more, err)
	}
	if p.b.Connection().LocalState() != endpoint.Closed {
		t.Fatalf("expected auto close after ConnectionClose")
	}
}

func TestRegistryOverrideSuppressesEscalation(t *testing.T) {
	testlog.Start(t)
	seen := 0
	reg := NewRegistry().On(ConnectionError, func(Event) error { seen++; return nil })
	p := newPipe(t, newRecorder(), reg, Options{}, Options{})
	mustOpen(t, p.a.Connection())
	p.until("active", func() bool { return p.b.Connection().Active() })
	_ = p.a.Connection().Close(named("conn", "bad"))
	p.until("b closed", p.b.Connection().Closed)
	p.process()
	if seen != 1 {
		t.Fatalf("expected override to run once, got %d", seen)
	}
}
