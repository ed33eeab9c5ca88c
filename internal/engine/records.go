package engine

import (
	"time"

	"github.com/danmuck/amqpengine/internal/condition"
	"github.com/danmuck/amqpengine/internal/endpoint"
	"github.com/danmuck/amqpengine/internal/protocol/performative"
)

type connRecord struct {
	endpoint.Tracker

	containerID  string
	virtualHost  string
	maxFrameSize uint32
	maxSessions  uint16
	idleTimeout  time.Duration

	remote     performative.Open
	remoteSeen bool

	sessions       []ref
	defaultSession ref
	openSent       bool
	closeSent      bool
}

type sessionRecord struct {
	endpoint.Tracker

	localChannel     uint16
	remoteChannel    uint16
	hasRemoteChannel bool

	links          []ref
	byRemoteHandle map[uint32]ref
	nextHandle     uint32

	nextDeliveryID uint32
	outgoing       map[uint32]ref // unsettled trackers by delivery id
	incoming       map[uint32]ref // unsettled deliveries by delivery id

	beginSent bool
	endSent   bool
}

type linkRecord struct {
	endpoint.Tracker

	session ref
	name    string
	address string
	role    performative.Role

	localHandle     uint32
	remoteHandle    uint32
	hasRemoteHandle bool

	credit        uint32
	deliveryCount uint32
	draining      bool
	drainEcho     bool

	creditWindow uint32
	autoAccept   bool
	autoSettle   bool
	presettled   bool

	nextTag    uint64
	attachSent bool
	detachSent bool
}

type deliveryRecord struct {
	link     ref
	outgoing bool

	id      uint32
	tag     []byte
	payload []byte

	localState    performative.DeliveryState
	localCond     condition.Condition
	remoteState   performative.DeliveryState
	remoteCond    condition.Condition
	localSettled  bool
	remoteSettled bool

	pending int // queued transfer/disposition intents
}

type transportRecord struct {
	cond        condition.Condition
	failed      bool
	closeQueued bool
}

type intentKind uint8

const (
	intentOpen intentKind = iota
	intentClose
	intentBegin
	intentEnd
	intentAttach
	intentDetach
	intentFlow
	intentTransfer
	intentDisposition
)

// intent is one queued outbound performative. Frame contents are taken
// from the target record when the intent is serialized.
type intent struct {
	kind   intentKind
	target ref
}
