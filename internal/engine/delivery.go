package engine

import (
	"github.com/danmuck/amqpengine/internal/condition"
	"github.com/danmuck/amqpengine/internal/protocol/performative"
)

type DeliveryState = performative.DeliveryState

const (
	StateNone     = performative.StateNone
	StateAccepted = performative.StateAccepted
	StateRejected = performative.StateRejected
	StateReleased = performative.StateReleased
)

// Delivery is the receiving view of one transfer. A settled delivery is
// released after the next Dispatch and its handle goes stale.
type Delivery struct {
	e *Engine
	r ref
}

func (d Delivery) rec() (*deliveryRecord, error) {
	if d.e == nil {
		return nil, ErrUnbound
	}
	rec := d.e.delivs.get(d.r)
	if rec == nil {
		return nil, ErrStaleHandle
	}
	return rec, nil
}

func (d Delivery) IsZero() bool { return d.e == nil }

// Message returns the payload. It is not copied.
func (d Delivery) Message() []byte {
	rec, err := d.rec()
	if err != nil {
		return nil
	}
	return rec.payload
}

func (d Delivery) Tag() []byte {
	rec, err := d.rec()
	if err != nil {
		return nil
	}
	return rec.tag
}

func (d Delivery) Receiver() Receiver {
	rec, err := d.rec()
	if err != nil {
		return Receiver{}
	}
	return Receiver{Link{e: d.e, r: rec.link}}
}

func (d Delivery) Accept() error {
	return d.settle(StateAccepted, condition.Condition{})
}

// Reject settles the delivery as rejected, carrying c to the sender.
func (d Delivery) Reject(c condition.Condition) error {
	return d.settle(StateRejected, c)
}

func (d Delivery) Release() error {
	return d.settle(StateReleased, condition.Condition{})
}

// Settle settles without an outcome.
func (d Delivery) Settle() error {
	return d.settle(StateNone, condition.Condition{})
}

func (d Delivery) settle(state DeliveryState, c condition.Condition) error {
	rec, err := d.rec()
	if err != nil {
		return err
	}
	if rec.localSettled {
		return ErrSettled
	}
	rec.localState = state
	rec.localCond = c
	rec.localSettled = true
	if l := d.e.links.get(rec.link); l != nil {
		if s := d.e.sessions.get(l.session); s != nil {
			delete(s.incoming, rec.id)
		}
	}
	if !rec.remoteSettled {
		d.e.queue(intentDisposition, d.r)
	}
	return nil
}

// Settled reports local settlement. A released record reports true.
func (d Delivery) Settled() bool {
	rec, err := d.rec()
	if err != nil {
		return d.e != nil
	}
	return rec.localSettled
}

func (d Delivery) RemoteSettled() bool {
	rec, err := d.rec()
	if err != nil {
		return d.e != nil
	}
	return rec.remoteSettled
}

// State is the local outcome.
func (d Delivery) State() DeliveryState {
	rec, err := d.rec()
	if err != nil {
		return StateNone
	}
	return rec.localState
}

// Tracker is the sending view of one transfer.
type Tracker struct {
	e *Engine
	r ref
}

func (t Tracker) rec() (*deliveryRecord, error) {
	if t.e == nil {
		return nil, ErrUnbound
	}
	rec := t.e.delivs.get(t.r)
	if rec == nil {
		return nil, ErrStaleHandle
	}
	return rec, nil
}

func (t Tracker) IsZero() bool { return t.e == nil }

func (t Tracker) Tag() []byte {
	rec, err := t.rec()
	if err != nil {
		return nil
	}
	return rec.tag
}

func (t Tracker) Sender() Sender {
	rec, err := t.rec()
	if err != nil {
		return Sender{}
	}
	return Sender{Link{e: t.e, r: rec.link}}
}

// Settle forgets the delivery locally and tells the receiver.
func (t Tracker) Settle() error {
	rec, err := t.rec()
	if err != nil {
		return err
	}
	if rec.localSettled {
		return ErrSettled
	}
	rec.localSettled = true
	if l := t.e.links.get(rec.link); l != nil {
		if s := t.e.sessions.get(l.session); s != nil {
			delete(s.outgoing, rec.id)
		}
	}
	if !rec.remoteSettled {
		t.e.queue(intentDisposition, t.r)
	}
	return nil
}

func (t Tracker) Settled() bool {
	rec, err := t.rec()
	if err != nil {
		return t.e != nil
	}
	return rec.localSettled
}

func (t Tracker) RemoteSettled() bool {
	rec, err := t.rec()
	if err != nil {
		return t.e != nil
	}
	return rec.remoteSettled
}

// RemoteState is the outcome reported by the receiver.
func (t Tracker) RemoteState() DeliveryState {
	rec, err := t.rec()
	if err != nil {
		return StateNone
	}
	return rec.remoteState
}

// RemoteError is the condition attached to a rejection.
func (t Tracker) RemoteError() condition.Condition {
	rec, err := t.rec()
	if err != nil {
		return condition.Condition{}
	}
	return rec.remoteCond
}
