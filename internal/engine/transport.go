package engine

import "github.com/danmuck/amqpengine/internal/condition"

// Transport is a handle to the engine's I/O state.
type Transport struct {
	e     *Engine
	epoch uint32
}

func (t Transport) live() bool {
	return t.e != nil && t.epoch != 0 && !t.e.freed && t.epoch == t.e.epoch
}

func (t Transport) IsZero() bool { return t.e == nil }

// Error is the failure condition, empty unless the transport failed.
func (t Transport) Error() condition.Condition {
	if !t.live() {
		return condition.Condition{}
	}
	return t.e.transport.cond
}

// Failed reports a transport failure.
func (t Transport) Failed() bool {
	return t.live() && t.e.transport.failed
}

// Closed reports that both directions are closed.
func (t Transport) Closed() bool {
	if !t.live() {
		return t.e != nil
	}
	return t.e.tailClosed && t.e.headClosed
}

func (t Transport) Connection() Connection {
	if t.e == nil {
		return Connection{}
	}
	return Connection{e: t.e, epoch: t.epoch}
}
