package engine

import (
	"testing"

	"github.com/danmuck/amqpengine/internal/condition"
)

// pipe shuttles bytes between two engines in memory.
type pipe struct {
	t      *testing.T
	a, b   *Engine
	ab, ba []byte
}

func newPipe(t *testing.T, ha, hb Handler, oa, ob Options) *pipe {
	t.Helper()
	if oa.ContainerID == "" {
		oa.ContainerID = "a"
	}
	if ob.ContainerID == "" {
		ob.ContainerID = "b"
	}
	return &pipe{t: t, a: New(ha, oa), b: New(hb, ob)}
}

func (p *pipe) step(e *Engine, in, out *[]byte) error {
	p.t.Helper()
	buf := e.ReadBuffer()
	n := copy(buf, *in)
	if err := e.ReadDone(n); err != nil {
		p.t.Fatalf("read done: %v", err)
	}
	*in = (*in)[n:]
	w := e.WriteBuffer()
	*out = append(*out, w...)
	if err := e.WriteDone(len(w)); err != nil {
		p.t.Fatalf("write done: %v", err)
	}
	_, err := e.Dispatch()
	return err
}

func (p *pipe) process() {
	p.t.Helper()
	if err := p.step(p.a, &p.ba, &p.ab); err != nil {
		p.t.Fatalf("dispatch a: %v", err)
	}
	if err := p.step(p.b, &p.ab, &p.ba); err != nil {
		p.t.Fatalf("dispatch b: %v", err)
	}
}

func (p *pipe) until(what string, cond func() bool) {
	p.t.Helper()
	for i := 0; i < 64 && !cond(); i++ {
		p.process()
	}
	if !cond() {
		p.t.Fatalf("timed out waiting for %s", what)
	}
}

// recorder captures events and swallows every error event.
type recorder struct {
	reg *Registry

	senders        []Sender
	receivers      []Receiver
	sessions       int
	transportErrs  []string
	connectionErrs []string
	unhandled      []string
	transportClose int
	messages       []string
	accepts        int
	rejects        []string
	trackerSettles int
	deliverySettle int
	drainStarts    int
	drainFinishes  int
	sendable       int
}

func newRecorder() *recorder {
	r := &recorder{}
	r.reg = NewRegistry().
		On(SessionOpen, func(Event) error { r.sessions++; return nil }).
		On(SenderOpen, func(ev Event) error { r.senders = append(r.senders, ev.Sender()); return nil }).
		On(ReceiverOpen, func(ev Event) error { r.receivers = append(r.receivers, ev.Receiver()); return nil }).
		On(TransportError, func(ev Event) error {
			r.transportErrs = append(r.transportErrs, ev.Condition().Describe())
			return nil
		}).
		On(TransportClose, func(Event) error { r.transportClose++; return nil }).
		On(ConnectionError, func(ev Event) error {
			r.connectionErrs = append(r.connectionErrs, ev.Condition().Describe())
			return nil
		}).
		On(Message, func(ev Event) error { r.messages = append(r.messages, string(ev.Message())); return nil }).
		On(TrackerAccept, func(ev Event) error {
			if ev.Tracker().RemoteState() == StateAccepted {
				r.accepts++
			}
			return nil
		}).
		On(TrackerReject, func(ev Event) error {
			r.rejects = append(r.rejects, ev.Tracker().RemoteError().Describe())
			return nil
		}).
		On(TrackerSettle, func(Event) error { r.trackerSettles++; return nil }).
		On(DeliverySettle, func(Event) error { r.deliverySettle++; return nil }).
		On(SenderDrainStart, func(Event) error { r.drainStarts++; return nil }).
		On(ReceiverDrainFinish, func(Event) error { r.drainFinishes++; return nil }).
		On(Sendable, func(Event) error { r.sendable++; return nil }).
		OnError(func(ev Event) error {
			r.unhandled = append(r.unhandled, ev.Kind.String()+" "+ev.Condition().Describe())
			return nil
		})
	return r
}

func (r *recorder) HandleEvent(ev Event) error { return r.reg.HandleEvent(ev) }

func mustOpen(t *testing.T, c Connection) {
	t.Helper()
	if err := c.Open(); err != nil {
		t.Fatalf("open connection: %v", err)
	}
}

func named(name, desc string) condition.Condition { return condition.Named(name, desc) }
