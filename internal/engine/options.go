package engine

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/amqpengine/internal/logging"
	"github.com/danmuck/amqpengine/internal/protocol/frame"
)

const (
	DefaultMaxFrameSize uint32 = 64 * 1024
	DefaultMaxSessions  uint16 = 256
	DefaultCreditWindow uint32 = 10
)

// Container identifies the process that owns an engine.
type Container interface {
	ID() string
}

// Options configures a new Engine. The zero value is usable; zero numeric
// fields take the package defaults.
type Options struct {
	ContainerID  string
	VirtualHost  string
	MaxFrameSize uint32
	MaxSessions  uint16
	IdleTimeout  time.Duration

	// CreditWindow is granted to every receiver on open and topped up as
	// messages arrive. Negative disables automatic credit.
	CreditWindow int

	DisableAutoAccept bool
	DisableAutoSettle bool

	Container Container
	Logger    *zerolog.Logger
	Observer  Observer
}

func DefaultOptions() Options {
	return Options{
		MaxFrameSize: DefaultMaxFrameSize,
		MaxSessions:  DefaultMaxSessions,
		CreditWindow: int(DefaultCreditWindow),
	}
}

// withDefaults fills unset fields.
func (o Options) withDefaults() Options {
	if o.MaxFrameSize == 0 {
		o.MaxFrameSize = DefaultMaxFrameSize
	}
	if o.MaxFrameSize < frame.MinMaxFrameSize {
		o.MaxFrameSize = frame.MinMaxFrameSize
	}
	if o.MaxSessions == 0 {
		o.MaxSessions = DefaultMaxSessions
	}
	if o.CreditWindow == 0 {
		o.CreditWindow = int(DefaultCreditWindow)
	}
	if o.CreditWindow < 0 {
		o.CreditWindow = 0
	}
	if o.ContainerID == "" {
		if o.Container != nil {
			o.ContainerID = o.Container.ID()
		} else {
			o.ContainerID = randomID()
		}
	}
	if o.Logger == nil {
		l := logging.Component("engine")
		o.Logger = &l
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	return o
}

func randomID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "container"
	}
	return hex.EncodeToString(b[:])
}
