package engine

import (
	"errors"
	"fmt"

	"github.com/danmuck/amqpengine/internal/condition"
	"github.com/danmuck/amqpengine/internal/endpoint"
	"github.com/danmuck/amqpengine/internal/protocol/frame"
	"github.com/danmuck/amqpengine/internal/protocol/performative"
	"github.com/danmuck/amqpengine/internal/protocol/schema"
)

var (
	errUnknownChannel = errors.New("unknown channel")
	errUnknownHandle  = errors.New("unknown handle")
	errUnexpected     = errors.New("unexpected performative")
)

// decode consumes every complete frame in the input buffer.
func (e *Engine) decode() {
	pos := 0
	for !e.tailClosed && !e.transport.failed {
		data := e.in[pos:e.inLen]
		if !e.headerRead {
			if len(data) < len(frame.ProtocolHeader) {
				break
			}
			if err := frame.CheckProtocolHeader(data); err != nil {
				e.fail(condition.Named(condition.FramingError, err.Error()))
				return
			}
			pos += len(frame.ProtocolHeader)
			e.headerRead = true
			e.push(TransportOpen, ref{}, ref{}, ref{})
			continue
		}
		f, n, err := frame.Parse(data, frame.LimitsForFrameSize(e.conn.maxFrameSize))
		if errors.Is(err, frame.ErrIncomplete) {
			break
		}
		if err != nil {
			e.fail(condition.Named(condition.FramingError, err.Error()))
			return
		}
		pos += n
		if err := e.handleFrame(f); err != nil {
			e.fail(condition.Named(condition.FramingError, err.Error()))
			return
		}
	}
	if e.tailClosed || e.transport.failed {
		e.inLen = 0
		return
	}
	copy(e.in, e.in[pos:e.inLen])
	e.inLen -= pos
}

func (e *Engine) handleFrame(f frame.Frame) error {
	// An empty frame is a keepalive.
	if f.Header.PayloadLen == 0 && f.Header.Performative == 0 {
		e.log.Trace().Msg("heartbeat")
		return nil
	}
	body, err := performative.Decode(f)
	if err != nil {
		return err
	}
	name := schema.Name(f.Header.Performative)
	e.obs.FrameReceived(name)
	e.log.Debug().Str("dir", "in").Str("performative", name).Uint16("channel", f.Header.Channel).Msg("frame")

	if !e.conn.remoteSeen {
		if _, ok := body.(performative.Open); !ok {
			return fmt.Errorf("%w: %s before open", errUnexpected, name)
		}
	}

	switch b := body.(type) {
	case performative.Open:
		return e.onOpen(b)
	case performative.Close:
		return e.onClose(b)
	case performative.Begin:
		return e.onBegin(f.Header.Channel, b)
	}

	if _, ok := e.refused[f.Header.Channel]; ok {
		if _, end := body.(performative.End); end {
			delete(e.refused, f.Header.Channel)
		}
		e.log.Debug().Uint16("channel", f.Header.Channel).Str("performative", name).Msg("dropping frame on refused channel")
		return nil
	}

	sr, s, err := e.sessionForChannel(f.Header.Channel)
	if err != nil {
		return err
	}
	switch b := body.(type) {
	case performative.End:
		return e.onEnd(f.Header.Channel, sr, s, b)
	case performative.Attach:
		return e.onAttach(sr, s, b)
	case performative.Detach:
		return e.onDetach(sr, s, b)
	case performative.Flow:
		return e.onFlow(sr, s, b)
	case performative.Transfer:
		return e.onTransfer(sr, s, b)
	case performative.Disposition:
		return e.onDisposition(s, b)
	default:
		return fmt.Errorf("%w: %s", errUnexpected, name)
	}
}

func (e *Engine) sessionForChannel(ch uint16) (ref, *sessionRecord, error) {
	r, ok := e.remoteChannels[ch]
	if !ok {
		return ref{}, nil, fmt.Errorf("%w: %d", errUnknownChannel, ch)
	}
	s := e.sessions.get(r)
	if s == nil {
		return ref{}, nil, fmt.Errorf("%w: %d", errUnknownChannel, ch)
	}
	return r, s, nil
}

func (e *Engine) linkForHandle(s *sessionRecord, h uint32) (ref, *linkRecord, error) {
	r, ok := s.byRemoteHandle[h]
	if !ok {
		return ref{}, nil, fmt.Errorf("%w: %d", errUnknownHandle, h)
	}
	l := e.links.get(r)
	if l == nil {
		return ref{}, nil, fmt.Errorf("%w: %d", errUnknownHandle, h)
	}
	return r, l, nil
}

func (e *Engine) onOpen(b performative.Open) error {
	if err := e.conn.RemoteOpen(); err != nil {
		return err
	}
	e.conn.remote = b
	e.conn.remoteSeen = true
	e.push(ConnectionOpen, ref{}, ref{}, ref{})
	return nil
}

func (e *Engine) onClose(b performative.Close) error {
	if err := e.conn.RemoteClose(b.Error); err != nil {
		return err
	}
	if !b.Error.Empty() {
		e.push(ConnectionError, ref{}, ref{}, ref{})
	}
	e.push(ConnectionClose, ref{}, ref{}, ref{})
	e.tailClosed = true
	e.finish()
	return nil
}

func (e *Engine) onBegin(ch uint16, b performative.Begin) error {
	if _, taken := e.remoteChannels[ch]; taken {
		return fmt.Errorf("%w: channel %d already begun", errUnexpected, ch)
	}
	if _, ok := e.refused[ch]; ok {
		return nil
	}
	var r ref
	if b.HasRemoteChannel {
		found := false
		for _, sr := range e.conn.sessions {
			s := e.sessions.get(sr)
			if s != nil && s.localChannel == b.RemoteChannel && !s.hasRemoteChannel && s.Local() != endpoint.None {
				r, found = sr, true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: begin for unknown local channel %d", errUnexpected, b.RemoteChannel)
		}
	} else {
		var err error
		r, err = e.newSession()
		if err != nil {
			e.log.Warn().Err(err).Uint16("channel", ch).Msg("refusing session")
			e.refused[ch] = struct{}{}
			_ = e.Connection().Close(condition.Named(condition.ResourceLimitExceeded, err.Error()))
			return nil
		}
	}
	s := e.sessions.get(r)
	s.remoteChannel = ch
	s.hasRemoteChannel = true
	e.remoteChannels[ch] = r
	if err := s.RemoteOpen(); err != nil {
		return err
	}
	e.push(SessionOpen, r, ref{}, ref{})
	return nil
}

func (e *Engine) onEnd(ch uint16, r ref, s *sessionRecord, b performative.End) error {
	if err := s.RemoteClose(b.Error); err != nil {
		return err
	}
	delete(e.remoteChannels, ch)
	if !b.Error.Empty() {
		e.push(SessionError, r, ref{}, ref{})
	}
	e.push(SessionClose, r, ref{}, ref{})
	return nil
}

func (e *Engine) onAttach(sr ref, s *sessionRecord, b performative.Attach) error {
	if _, taken := s.byRemoteHandle[b.Handle]; taken {
		return fmt.Errorf("%w: handle %d already attached", errUnexpected, b.Handle)
	}
	var lr ref
	for _, r := range s.links {
		l := e.links.get(r)
		if l != nil && l.name == b.Name && l.role != b.Role && !l.hasRemoteHandle && l.Local() != endpoint.None {
			lr = r
			break
		}
	}
	if !lr.valid() {
		lr = e.newLink(sr, s, !b.Role, b.Name, b.Address, e.defaultLinkConfig())
	}
	l := e.links.get(lr)
	if l.address == "" {
		l.address = b.Address
	}
	l.remoteHandle = b.Handle
	l.hasRemoteHandle = true
	s.byRemoteHandle[b.Handle] = lr
	if err := l.RemoteOpen(); err != nil {
		return err
	}
	if l.role == performative.RoleSender {
		e.push(SenderOpen, sr, lr, ref{})
	} else {
		e.push(ReceiverOpen, sr, lr, ref{})
	}
	return nil
}

func (e *Engine) onDetach(sr ref, s *sessionRecord, b performative.Detach) error {
	lr, l, err := e.linkForHandle(s, b.Handle)
	if err != nil {
		return err
	}
	if err := l.RemoteClose(b.Error); err != nil {
		return err
	}
	delete(s.byRemoteHandle, b.Handle)
	errKind, closeKind := SenderError, SenderClose
	if l.role == performative.RoleReceiver {
		errKind, closeKind = ReceiverError, ReceiverClose
	}
	if !b.Error.Empty() {
		e.push(errKind, sr, lr, ref{})
	}
	e.push(closeKind, sr, lr, ref{})
	return nil
}

func (e *Engine) onFlow(sr ref, s *sessionRecord, b performative.Flow) error {
	lr, l, err := e.linkForHandle(s, b.Handle)
	if err != nil {
		return err
	}
	if l.role == performative.RoleSender {
		// credit = delivery-count(rcv) + link-credit(rcv) - delivery-count(snd)
		credit := int64(b.DeliveryCount) + int64(b.LinkCredit) - int64(l.deliveryCount)
		if credit < 0 {
			credit = 0
		}
		l.credit = uint32(credit)
		wasDraining := l.draining
		l.draining = b.Drain
		if l.credit > 0 {
			e.push(Sendable, sr, lr, ref{})
		}
		if l.draining && !wasDraining {
			e.push(SenderDrainStart, sr, lr, ref{})
		}
		return nil
	}
	l.deliveryCount = b.DeliveryCount
	l.credit = b.LinkCredit
	if l.draining && b.Drain && b.LinkCredit == 0 {
		l.draining = false
		e.push(ReceiverDrainFinish, sr, lr, ref{})
	}
	return nil
}

func (e *Engine) onTransfer(sr ref, s *sessionRecord, b performative.Transfer) error {
	lr, l, err := e.linkForHandle(s, b.Handle)
	if err != nil {
		return err
	}
	if l.role != performative.RoleReceiver {
		return fmt.Errorf("%w: transfer on sending link %q", errUnexpected, l.name)
	}
	if l.Local() == endpoint.Closed {
		return nil
	}
	if l.credit == 0 {
		e.log.Warn().Str("link", l.name).Msg("transfer without credit")
		_ = Link{e: e, r: lr}.Close(condition.Named(condition.TransferLimitExceeded, "transfer without credit"))
		return nil
	}
	l.credit--
	l.deliveryCount++
	dr := e.delivs.alloc(deliveryRecord{
		link:          lr,
		id:            b.DeliveryID,
		tag:           b.DeliveryTag,
		payload:       b.Payload,
		remoteSettled: b.Settled,
	})
	if !b.Settled {
		s.incoming[b.DeliveryID] = dr
	}
	e.push(Message, sr, lr, dr)
	return nil
}

func (e *Engine) onDisposition(s *sessionRecord, b performative.Disposition) error {
	if b.Role == performative.RoleReceiver {
		// the peer is the receiver: our trackers
		dr, ok := s.outgoing[b.First]
		if !ok {
			return nil
		}
		d := e.delivs.get(dr)
		if d == nil {
			delete(s.outgoing, b.First)
			return nil
		}
		if b.State != performative.StateNone && b.State != d.remoteState {
			d.remoteState = b.State
			d.remoteCond = b.Error
			switch b.State {
			case performative.StateAccepted:
				e.push(TrackerAccept, ref{}, d.link, dr)
			case performative.StateRejected:
				e.push(TrackerReject, ref{}, d.link, dr)
			case performative.StateReleased:
				e.push(TrackerRelease, ref{}, d.link, dr)
			}
		}
		if b.Settled {
			d.remoteSettled = true
			delete(s.outgoing, b.First)
			e.push(TrackerSettle, ref{}, d.link, dr)
		}
		return nil
	}
	dr, ok := s.incoming[b.First]
	if !ok {
		return nil
	}
	d := e.delivs.get(dr)
	if d == nil {
		delete(s.incoming, b.First)
		return nil
	}
	if b.Settled {
		d.remoteSettled = true
		delete(s.incoming, b.First)
		e.push(DeliverySettle, ref{}, d.link, dr)
	}
	return nil
}
