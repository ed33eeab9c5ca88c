// Package endpoint holds the local/remote lifecycle state machine shared by
// connections, sessions and links.
package endpoint

import (
	"errors"

	"github.com/danmuck/amqpengine/internal/condition"
)

var (
	ErrAlreadyOpen         = errors.New("endpoint: already opened")
	ErrAlreadyClosed       = errors.New("endpoint: already closed")
	ErrRemoteAlreadyOpen   = errors.New("endpoint: remote already opened")
	ErrRemoteAlreadyClosed = errors.New("endpoint: remote already closed")
)

// State is one side of an endpoint lifecycle.
type State uint8

const (
	None State = iota
	Opened
	Closed
)

func (s State) String() string {
	switch s {
	case None:
		return "none"
	case Opened:
		return "opened"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Tracker records the local and remote halves of an endpoint. Once a half
// reaches Closed it never changes again.
type Tracker struct {
	local      State
	remote     State
	localCond  condition.Condition
	remoteCond condition.Condition
}

// Open moves the local half from None to Opened.
func (t *Tracker) Open() error {
	if t.local != None {
		return ErrAlreadyOpen
	}
	t.local = Opened
	return nil
}

// Close moves the local half to Closed and records c, which may be empty.
func (t *Tracker) Close(c condition.Condition) error {
	if t.local == Closed {
		return ErrAlreadyClosed
	}
	t.local = Closed
	t.localCond = c
	return nil
}

// RemoteOpen records a decoded open from the peer.
func (t *Tracker) RemoteOpen() error {
	if t.remote != None {
		return ErrRemoteAlreadyOpen
	}
	t.remote = Opened
	return nil
}

// RemoteClose records a decoded close from the peer.
func (t *Tracker) RemoteClose(c condition.Condition) error {
	if t.remote == Closed {
		return ErrRemoteAlreadyClosed
	}
	t.remote = Closed
	t.remoteCond = c
	return nil
}

// Local returns the state of the half this process controls.
func (t *Tracker) Local() State { return t.local }

// Remote returns the state last reported by the peer.
func (t *Tracker) Remote() State { return t.remote }

// LocalCondition is the condition passed to Close, empty until then.
func (t *Tracker) LocalCondition() condition.Condition { return t.localCond }

// RemoteCondition is the condition carried by the peer's close.
func (t *Tracker) RemoteCondition() condition.Condition { return t.remoteCond }

// Uninitialized reports that the local half was never opened or closed.
func (t *Tracker) Uninitialized() bool {
	return t.local == None
}

// Active requires both halves to be opened.
func (t *Tracker) Active() bool {
	return t.local == Opened && t.remote == Opened
}

// Closed reports that either half is closed.
func (t *Tracker) Closed() bool {
	return t.local == Closed || t.remote == Closed
}

// Finished reports that both halves are closed.
func (t *Tracker) Finished() bool {
	return t.local == Closed && t.remote == Closed
}
