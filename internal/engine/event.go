package engine

import "github.com/danmuck/amqpengine/internal/condition"

// Kind identifies one protocol event.
type Kind uint8

const (
	ContainerStart Kind = iota + 1
	TransportOpen
	TransportClose
	TransportError
	ConnectionOpen
	ConnectionClose
	ConnectionError
	SessionOpen
	SessionClose
	SessionError
	SenderOpen
	SenderClose
	SenderError
	SenderDrainStart
	ReceiverOpen
	ReceiverClose
	ReceiverError
	ReceiverDrainFinish
	Message
	Sendable
	TrackerAccept
	TrackerReject
	TrackerRelease
	TrackerSettle
	DeliverySettle
)

var kindNames = [...]string{
	ContainerStart:      "container_start",
	TransportOpen:       "transport_open",
	TransportClose:      "transport_close",
	TransportError:      "transport_error",
	ConnectionOpen:      "connection_open",
	ConnectionClose:     "connection_close",
	ConnectionError:     "connection_error",
	SessionOpen:         "session_open",
	SessionClose:        "session_close",
	SessionError:        "session_error",
	SenderOpen:          "sender_open",
	SenderClose:         "sender_close",
	SenderError:         "sender_error",
	SenderDrainStart:    "sender_drain_start",
	ReceiverOpen:        "receiver_open",
	ReceiverClose:       "receiver_close",
	ReceiverError:       "receiver_error",
	ReceiverDrainFinish: "receiver_drain_finish",
	Message:             "message",
	Sendable:            "sendable",
	TrackerAccept:       "tracker_accept",
	TrackerReject:       "tracker_reject",
	TrackerRelease:      "tracker_release",
	TrackerSettle:       "tracker_settle",
	DeliverySettle:      "delivery_settle",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return "unknown"
}

// IsError reports whether k belongs to the error family routed to OnError.
func (k Kind) IsError() bool {
	switch k {
	case TransportError, ConnectionError, SessionError, SenderError, ReceiverError:
		return true
	default:
		return false
	}
}

// Event is one queued protocol event. Entity accessors return empty handles
// when the event does not concern that entity.
type Event struct {
	Kind Kind

	e        *Engine
	epoch    uint32
	session  ref
	link     ref
	delivery ref
}

func (ev Event) Transport() Transport {
	if ev.e == nil {
		return Transport{}
	}
	return Transport{e: ev.e, epoch: ev.epoch}
}

func (ev Event) Connection() Connection {
	if ev.e == nil {
		return Connection{}
	}
	return Connection{e: ev.e, epoch: ev.epoch}
}

func (ev Event) Session() Session {
	if ev.e == nil || !ev.session.valid() {
		return Session{}
	}
	return Session{e: ev.e, r: ev.session}
}

func (ev Event) Link() Link {
	if ev.e == nil || !ev.link.valid() {
		return Link{}
	}
	return Link{e: ev.e, r: ev.link}
}

func (ev Event) Sender() Sender {
	l := ev.Link()
	if l.IsZero() || l.Role() != RoleSender {
		return Sender{}
	}
	return Sender{l}
}

func (ev Event) Receiver() Receiver {
	l := ev.Link()
	if l.IsZero() || l.Role() != RoleReceiver {
		return Receiver{}
	}
	return Receiver{l}
}

// Delivery is set for Message and DeliverySettle events.
func (ev Event) Delivery() Delivery {
	if ev.e == nil || !ev.delivery.valid() || ev.Kind == TrackerAccept || ev.Kind == TrackerReject ||
		ev.Kind == TrackerRelease || ev.Kind == TrackerSettle {
		return Delivery{}
	}
	return Delivery{e: ev.e, r: ev.delivery}
}

// Tracker is set for Tracker* events.
func (ev Event) Tracker() Tracker {
	if ev.e == nil || !ev.delivery.valid() || ev.Kind == Message || ev.Kind == DeliverySettle {
		return Tracker{}
	}
	return Tracker{e: ev.e, r: ev.delivery}
}

// Message returns the payload of a Message event.
func (ev Event) Message() []byte {
	if ev.Kind != Message {
		return nil
	}
	return ev.Delivery().Message()
}

// Condition returns the remote condition of the entity an error event
// concerns, or the transport condition for TransportError.
func (ev Event) Condition() condition.Condition {
	switch ev.Kind {
	case TransportError:
		return ev.Transport().Error()
	case ConnectionError:
		return ev.Connection().Error()
	case SessionError:
		return ev.Session().Error()
	case SenderError, ReceiverError:
		return ev.Link().Error()
	default:
		return condition.Condition{}
	}
}

func (ev Event) String() string {
	return ev.Kind.String()
}
