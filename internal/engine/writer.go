package engine

import (
	"encoding/binary"

	"github.com/danmuck/amqpengine/internal/condition"
	"github.com/danmuck/amqpengine/internal/protocol/frame"
	"github.com/danmuck/amqpengine/internal/protocol/performative"
	"github.com/danmuck/amqpengine/internal/protocol/schema"
)

// serialize turns queued intents into output bytes. Intents whose parent
// endpoint has not been announced stay queued in order.
func (e *Engine) serialize() {
	if e.transport.failed || e.headClosed {
		return
	}
	if !e.headerSent {
		e.out = append(e.out, frame.ProtocolHeader[:]...)
		e.headerSent = true
	}
	for len(e.intents) > 0 && !e.transport.failed {
		if !e.serializePass() {
			break
		}
	}
}

// serializePass emits every ready intent once and reports whether any
// frame was written.
func (e *Engine) serializePass() bool {
	pending := e.intents
	e.intents = nil
	var held []intent
	progressed := false
	for i, in := range pending {
		if e.conn.closeSent {
			for _, rest := range pending[i:] {
				e.consumed(rest)
			}
			break
		}
		switch e.readiness(in) {
		case hold:
			held = append(held, in)
			continue
		case drop:
			e.consumed(in)
			continue
		}
		e.consumed(in)
		if err := e.emit(in); err != nil {
			e.fail(condition.Named(condition.InternalError, err.Error()))
			return false
		}
		progressed = true
	}
	if e.conn.closeSent {
		for _, in := range held {
			e.consumed(in)
		}
		e.intents = nil
		return false
	}
	e.intents = append(held, e.intents...)
	return progressed
}

type readiness uint8

const (
	ready readiness = iota
	hold
	drop
)

func (e *Engine) readiness(in intent) readiness {
	switch in.kind {
	case intentOpen, intentClose:
		return ready
	case intentBegin:
		if e.sessions.get(in.target) == nil {
			return drop
		}
		if !e.conn.openSent {
			return hold
		}
	case intentEnd:
		s := e.sessions.get(in.target)
		if s == nil || s.endSent {
			return drop
		}
		if !s.beginSent {
			return hold
		}
	case intentAttach:
		l := e.links.get(in.target)
		if l == nil {
			return drop
		}
		s := e.sessions.get(l.session)
		if s == nil || s.endSent {
			return drop
		}
		if !s.beginSent {
			return hold
		}
	case intentDetach, intentFlow:
		l := e.links.get(in.target)
		if l == nil || l.detachSent {
			return drop
		}
		if !l.attachSent {
			return hold
		}
	case intentTransfer, intentDisposition:
		d := e.delivs.get(in.target)
		if d == nil {
			return drop
		}
		l := e.links.get(d.link)
		if l == nil || l.detachSent {
			return drop
		}
		if !l.attachSent {
			return hold
		}
	}
	return ready
}

// consumed releases the delivery reference an intent holds.
func (e *Engine) consumed(in intent) {
	if in.kind != intentTransfer && in.kind != intentDisposition {
		return
	}
	if d := e.delivs.get(in.target); d != nil && d.pending > 0 {
		d.pending--
	}
}

func (e *Engine) emit(in intent) error {
	c := &e.conn
	switch in.kind {
	case intentOpen:
		if c.openSent {
			return nil
		}
		c.openSent = true
		return e.writeFrame(0, e.openBody())
	case intentClose:
		if !c.openSent {
			c.openSent = true
			if err := e.writeFrame(0, e.openBody()); err != nil {
				return err
			}
		}
		c.closeSent = true
		e.intents = nil
		return e.writeFrame(0, performative.Close{Error: c.LocalCondition()})
	case intentBegin:
		s := e.sessions.get(in.target)
		if s.beginSent {
			return nil
		}
		s.beginSent = true
		return e.writeFrame(s.localChannel, performative.Begin{RemoteChannel: s.remoteChannel, HasRemoteChannel: s.hasRemoteChannel})
	case intentEnd:
		s := e.sessions.get(in.target)
		s.endSent = true
		return e.writeFrame(s.localChannel, performative.End{Error: s.LocalCondition()})
	case intentAttach:
		l := e.links.get(in.target)
		if l.attachSent {
			return nil
		}
		l.attachSent = true
		s := e.sessions.get(l.session)
		return e.writeFrame(s.localChannel, performative.Attach{Name: l.name, Handle: l.localHandle, Role: l.role, Address: l.address})
	case intentDetach:
		l := e.links.get(in.target)
		l.detachSent = true
		s := e.sessions.get(l.session)
		return e.writeFrame(s.localChannel, performative.Detach{Handle: l.localHandle, Closed: true, Error: l.LocalCondition()})
	case intentFlow:
		l := e.links.get(in.target)
		s := e.sessions.get(l.session)
		drain := l.draining
		if l.role == performative.RoleSender {
			drain = l.drainEcho
			l.drainEcho = false
		}
		return e.writeFrame(s.localChannel, performative.Flow{
			Handle:        l.localHandle,
			DeliveryCount: l.deliveryCount,
			LinkCredit:    l.credit,
			Drain:         drain,
		})
	case intentTransfer:
		d := e.delivs.get(in.target)
		l := e.links.get(d.link)
		s := e.sessions.get(l.session)
		if d.localSettled {
			// presettled: the peer never answers
			d.remoteSettled = true
		}
		return e.writeFrame(s.localChannel, performative.Transfer{
			Handle:      l.localHandle,
			DeliveryID:  d.id,
			DeliveryTag: d.tag,
			Settled:     d.localSettled,
			Payload:     d.payload,
		})
	case intentDisposition:
		d := e.delivs.get(in.target)
		l := e.links.get(d.link)
		s := e.sessions.get(l.session)
		return e.writeFrame(s.localChannel, performative.Disposition{
			Role:    l.role,
			First:   d.id,
			Settled: d.localSettled,
			State:   d.localState,
			Error:   d.localCond,
		})
	}
	return nil
}

func (e *Engine) openBody() performative.Open {
	c := &e.conn
	return performative.Open{
		ContainerID:  c.containerID,
		Hostname:     c.virtualHost,
		MaxFrameSize: c.maxFrameSize,
		ChannelMax:   c.maxSessions - 1,
		IdleTimeout:  uint32(c.idleTimeout.Milliseconds()),
	}
}

func (e *Engine) writeFrame(channel uint16, body performative.Body) error {
	f, err := performative.Encode(channel, body)
	if err != nil {
		return err
	}
	out, err := frame.Append(e.out, f, e.outLimits())
	if err != nil {
		return err
	}
	e.out = out
	name := schema.Name(body.Performative())
	e.obs.FrameSent(name)
	e.log.Debug().Str("dir", "out").Str("performative", name).Uint16("channel", channel).Msg("frame")
	return nil
}

// outLimits honours the peer's max-frame-size once known.
func (e *Engine) outLimits() frame.Limits {
	if e.conn.remoteSeen && e.conn.remote.MaxFrameSize != 0 {
		return frame.LimitsForFrameSize(e.conn.remote.MaxFrameSize)
	}
	return frame.LimitsForFrameSize(frame.MinMaxFrameSize)
}

func deliveryTag(n uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	return b[:]
}
