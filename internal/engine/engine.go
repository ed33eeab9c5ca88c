package engine

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/danmuck/amqpengine/internal/condition"
	"github.com/danmuck/amqpengine/internal/endpoint"
)

// Engine is one connection's protocol state machine.
type Engine struct {
	handler Handler
	opts    Options
	log     zerolog.Logger
	obs     Observer

	epoch uint32
	freed bool

	conn      connRecord
	transport transportRecord
	sessions  arena[sessionRecord]
	links     arena[linkRecord]
	delivs    arena[deliveryRecord]

	remoteChannels map[uint16]ref
	// refused holds remote channels whose Begin was turned away. Frames on
	// them are dropped until the peer ends the session.
	refused map[uint16]struct{}

	in         []byte
	inLen      int
	lastRead   int
	headerRead bool
	tailClosed bool

	out        []byte
	headerSent bool
	headClosed bool

	intents []intent
	events  []Event
	evHead  int
}

// New binds h to a fresh engine. A nil h drops every event.
func New(h Handler, opts Options) *Engine {
	opts = opts.withDefaults()
	if h == nil {
		h = NewRegistry().OnError(func(Event) error { return nil })
	}
	e := &Engine{
		handler:        h,
		opts:           opts,
		log:            opts.Logger.With().Str("container", opts.ContainerID).Logger(),
		obs:            opts.Observer,
		epoch:          1,
		remoteChannels: make(map[uint16]ref),
		refused:        make(map[uint16]struct{}),
		in:             make([]byte, opts.MaxFrameSize),
	}
	e.conn = connRecord{
		containerID:  opts.ContainerID,
		virtualHost:  opts.VirtualHost,
		maxFrameSize: opts.MaxFrameSize,
		maxSessions:  opts.MaxSessions,
		idleTimeout:  opts.IdleTimeout,
	}
	if opts.Container != nil {
		e.push(ContainerStart, ref{}, ref{}, ref{})
	}
	return e
}

func (e *Engine) Connection() Connection {
	if e.freed {
		return Connection{e: e, epoch: 0}
	}
	return Connection{e: e, epoch: e.epoch}
}

func (e *Engine) Transport() Transport {
	if e.freed {
		return Transport{e: e, epoch: 0}
	}
	return Transport{e: e, epoch: e.epoch}
}

// ReadBuffer returns the region the next read should fill. It is empty once
// no more input is wanted.
func (e *Engine) ReadBuffer() []byte {
	if e.freed || e.tailClosed {
		e.lastRead = 0
		return nil
	}
	buf := e.in[e.inLen:]
	e.lastRead = len(buf)
	return buf
}

// ReadDone commits n bytes written into the last ReadBuffer and decodes
// every complete frame. Each ReadBuffer allows one commit.
func (e *Engine) ReadDone(n int) error {
	if n < 0 || n > e.lastRead {
		return fmt.Errorf("%w: read %d of %d", ErrBufferBounds, n, e.lastRead)
	}
	e.lastRead = 0
	if n == 0 {
		return nil
	}
	e.inLen += n
	e.obs.BytesRead(n)
	e.decode()
	return nil
}

// ReadClose records input EOF. EOF before the peer's close is a transport
// failure.
func (e *Engine) ReadClose() {
	if e.freed || e.tailClosed {
		return
	}
	e.fail(condition.Named(condition.FramingError, "connection aborted"))
}

// WriteBuffer serializes queued intents and returns all pending output.
func (e *Engine) WriteBuffer() []byte {
	if e.freed {
		return nil
	}
	e.serialize()
	return e.out
}

// WriteDone marks n bytes of the last WriteBuffer as written.
func (e *Engine) WriteDone(n int) error {
	if n < 0 || n > len(e.out) {
		return fmt.Errorf("%w: wrote %d of %d", ErrBufferBounds, n, len(e.out))
	}
	if n == 0 {
		return nil
	}
	e.out = append(e.out[:0], e.out[n:]...)
	e.obs.BytesWritten(n)
	if e.conn.closeSent && len(e.out) == 0 && !e.headClosed {
		e.headClosed = true
		e.finish()
	}
	return nil
}

// WriteClose records that no more output can be written. Unwritten output
// is discarded.
func (e *Engine) WriteClose() {
	if e.freed || e.headClosed {
		return
	}
	if e.conn.closeSent && len(e.out) == 0 {
		e.headClosed = true
		e.finish()
		return
	}
	e.fail(condition.Named(condition.FramingError, "connection aborted"))
}

// Close fails the transport with c. The first call wins; the connection is
// not closed at the protocol level.
func (e *Engine) Close(c condition.Condition) {
	if e.freed {
		return
	}
	e.fail(c)
}

// Dispatch delivers queued events to the handler in order. It reports
// whether the engine expects more work. A handler error stops dispatch and
// leaves later events queued.
func (e *Engine) Dispatch() (bool, error) {
	if e.freed {
		return false, nil
	}
	for e.evHead < len(e.events) {
		ev := e.events[e.evHead]
		e.events[e.evHead] = Event{}
		e.evHead++
		e.obs.EventDispatched(ev.Kind.String())
		e.log.Trace().Str("event", ev.Kind.String()).Msg("dispatch")
		if err := e.handler.HandleEvent(ev); err != nil {
			e.log.Debug().Err(err).Str("event", ev.Kind.String()).Msg("handler error")
			return e.more(), err
		}
		e.after(ev)
	}
	e.events = e.events[:0]
	e.evHead = 0
	e.sweep()
	return e.more(), nil
}

// Free releases every record. All handles into the engine become stale.
func (e *Engine) Free() {
	if e.freed {
		return
	}
	e.freed = true
	e.epoch++
	e.delivs.releaseAll()
	e.links.releaseAll()
	e.sessions.releaseAll()
	e.conn = connRecord{}
	e.remoteChannels = nil
	e.events = nil
	e.intents = nil
	e.in = nil
	e.out = nil
}

func (e *Engine) more() bool {
	if e.freed {
		return false
	}
	return !(e.tailClosed && e.headClosed && e.evHead == len(e.events))
}

func (e *Engine) push(kind Kind, s, l, d ref) {
	if !s.valid() && l.valid() {
		if lr := e.links.get(l); lr != nil {
			s = lr.session
		}
	}
	e.events = append(e.events, Event{Kind: kind, e: e, epoch: e.epoch, session: s, link: l, delivery: d})
}

func (e *Engine) queue(kind intentKind, target ref) {
	if e.transport.failed || e.conn.closeSent {
		return
	}
	if kind == intentTransfer || kind == intentDisposition {
		if d := e.delivs.get(target); d != nil {
			d.pending++
		}
	}
	e.intents = append(e.intents, intent{kind: kind, target: target})
}

// fail moves the transport into the failed state. Only the first failure is
// recorded.
func (e *Engine) fail(c condition.Condition) {
	if e.transport.failed || e.transport.closeQueued {
		return
	}
	e.transport.failed = true
	e.transport.cond = c
	e.tailClosed = true
	e.headClosed = true
	e.inLen = 0
	e.lastRead = 0
	e.out = e.out[:0]
	e.intents = nil
	e.obs.TransportFailed(c.Name())
	e.log.Warn().Str("condition", c.Describe()).Msg("transport failed")
	if !c.Empty() {
		e.push(TransportError, ref{}, ref{}, ref{})
	}
	e.finish()
}

// finish queues TransportClose once both directions are closed.
func (e *Engine) finish() {
	if e.transport.closeQueued || !e.tailClosed || !e.headClosed {
		return
	}
	e.transport.closeQueued = true
	e.push(TransportClose, ref{}, ref{}, ref{})
}

// after runs the automatic responses for an event the handler accepted.
func (e *Engine) after(ev Event) {
	if e.transport.failed {
		return
	}
	switch ev.Kind {
	case ConnectionOpen:
		if e.conn.Uninitialized() {
			_ = e.Connection().Open()
		}
	case ConnectionClose:
		if e.conn.Local() != endpoint.Closed {
			_ = e.Connection().Close(condition.Condition{})
		}
	case SessionOpen:
		if s := e.sessions.get(ev.session); s != nil && s.Uninitialized() {
			_ = Session{e: e, r: ev.session}.Open()
		}
	case SessionClose:
		if s := e.sessions.get(ev.session); s != nil && s.Local() != endpoint.Closed {
			_ = Session{e: e, r: ev.session}.Close(condition.Condition{})
		}
	case SenderOpen, ReceiverOpen:
		if l := e.links.get(ev.link); l != nil && l.Uninitialized() {
			_ = Link{e: e, r: ev.link}.Open()
		}
	case SenderClose, ReceiverClose:
		if l := e.links.get(ev.link); l != nil && l.Local() != endpoint.Closed {
			_ = Link{e: e, r: ev.link}.Close(condition.Condition{})
		}
	case SenderDrainStart:
		if l := e.links.get(ev.link); l != nil && l.draining {
			e.returnCredit(ev.link, l)
		}
	case Message:
		e.afterMessage(ev)
	case TrackerSettle:
		d := e.delivs.get(ev.delivery)
		if d == nil || d.localSettled {
			return
		}
		if l := e.links.get(d.link); l != nil && l.autoSettle {
			d.localSettled = true
		}
	}
}

func (e *Engine) afterMessage(ev Event) {
	d := e.delivs.get(ev.delivery)
	if d == nil {
		return
	}
	l := e.links.get(d.link)
	if l == nil {
		return
	}
	if d.remoteSettled {
		d.localSettled = true
	} else if l.autoAccept && !d.localSettled {
		_ = Delivery{e: e, r: ev.delivery}.Accept()
	}
	if l.creditWindow > 0 && !l.draining && l.Local() == endpoint.Opened && l.credit <= l.creditWindow/2 {
		l.credit = l.creditWindow
		e.queue(intentFlow, d.link)
	}
}

// sweep releases deliveries that are settled locally and have nothing left
// to put on the wire.
func (e *Engine) sweep() {
	var done []ref
	e.delivs.each(func(r ref, d *deliveryRecord) {
		if d.localSettled && d.pending == 0 {
			done = append(done, r)
		}
	})
	for _, r := range done {
		e.delivs.release(r)
	}
}
