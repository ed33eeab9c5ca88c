package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/amqpengine/internal/condition"
	"github.com/danmuck/amqpengine/internal/endpoint"
)

// Connection is a handle to the engine's root endpoint. The zero value is
// empty.
type Connection struct {
	e     *Engine
	epoch uint32
}

func (c Connection) rec() (*connRecord, error) {
	if c.e == nil {
		return nil, ErrUnbound
	}
	if c.epoch == 0 || c.e.freed || c.epoch != c.e.epoch {
		return nil, ErrStaleHandle
	}
	return &c.e.conn, nil
}

func (c Connection) IsZero() bool { return c.e == nil }

// Open queues the local open.
func (c Connection) Open() error {
	rec, err := c.rec()
	if err != nil {
		return err
	}
	if err := rec.Open(); err != nil {
		return err
	}
	c.e.queue(intentOpen, ref{})
	return nil
}

// Close queues the local close carrying cond, which may be empty.
func (c Connection) Close(cond condition.Condition) error {
	rec, err := c.rec()
	if err != nil {
		return err
	}
	if err := rec.Close(cond); err != nil {
		return err
	}
	c.e.queue(intentClose, ref{})
	return nil
}

// Error returns the condition the peer closed with.
func (c Connection) Error() condition.Condition {
	rec, err := c.rec()
	if err != nil {
		return condition.Condition{}
	}
	return rec.RemoteCondition()
}

func (c Connection) LocalError() condition.Condition {
	rec, err := c.rec()
	if err != nil {
		return condition.Condition{}
	}
	return rec.LocalCondition()
}

func (c Connection) Uninitialized() bool {
	rec, err := c.rec()
	if err != nil {
		return errors.Is(err, ErrUnbound)
	}
	return rec.Uninitialized()
}

// LocalState and RemoteState expose the two halves of the lifecycle.
func (c Connection) LocalState() endpoint.State {
	rec, err := c.rec()
	if err != nil {
		return endpoint.None
	}
	return rec.Local()
}

func (c Connection) RemoteState() endpoint.State {
	rec, err := c.rec()
	if err != nil {
		return endpoint.None
	}
	return rec.Remote()
}

func (c Connection) Active() bool {
	rec, err := c.rec()
	return err == nil && rec.Active()
}

func (c Connection) Closed() bool {
	rec, err := c.rec()
	if err != nil {
		return errors.Is(err, ErrStaleHandle)
	}
	return rec.Closed()
}

func (c Connection) ContainerID() string {
	rec, err := c.rec()
	if err != nil {
		return ""
	}
	return rec.containerID
}

func (c Connection) VirtualHost() string {
	rec, err := c.rec()
	if err != nil {
		return ""
	}
	return rec.virtualHost
}

func (c Connection) MaxFrameSize() uint32 {
	rec, err := c.rec()
	if err != nil {
		return 0
	}
	return rec.maxFrameSize
}

func (c Connection) MaxSessions() uint16 {
	rec, err := c.rec()
	if err != nil {
		return 0
	}
	return rec.maxSessions
}

func (c Connection) IdleTimeout() time.Duration {
	rec, err := c.rec()
	if err != nil {
		return 0
	}
	return rec.idleTimeout
}

// RemoteContainerID is empty until the peer's open arrives.
func (c Connection) RemoteContainerID() string {
	rec, err := c.rec()
	if err != nil {
		return ""
	}
	return rec.remote.ContainerID
}

func (c Connection) RemoteVirtualHost() string {
	rec, err := c.rec()
	if err != nil {
		return ""
	}
	return rec.remote.Hostname
}

func (c Connection) RemoteMaxFrameSize() uint32 {
	rec, err := c.rec()
	if err != nil {
		return 0
	}
	return rec.remote.MaxFrameSize
}

func (c Connection) RemoteIdleTimeout() time.Duration {
	rec, err := c.rec()
	if err != nil {
		return 0
	}
	return time.Duration(rec.remote.IdleTimeout) * time.Millisecond
}

func (c Connection) Transport() Transport {
	if c.e == nil {
		return Transport{}
	}
	return Transport{e: c.e, epoch: c.epoch}
}

// Container returns the owning container, or ErrNotManaged.
func (c Connection) Container() (Container, error) {
	if _, err := c.rec(); err != nil {
		return nil, err
	}
	if c.e.opts.Container == nil {
		return nil, ErrNotManaged
	}
	return c.e.opts.Container, nil
}

// OpenSession creates and opens a new session.
func (c Connection) OpenSession() (Session, error) {
	if _, err := c.rec(); err != nil {
		return Session{}, err
	}
	r, err := c.e.newSession()
	if err != nil {
		return Session{}, err
	}
	s := Session{e: c.e, r: r}
	if err := s.Open(); err != nil {
		return Session{}, err
	}
	return s, nil
}

// DefaultSession returns the session used by Connection.OpenSender and
// OpenReceiver, opening one on first use.
func (c Connection) DefaultSession() (Session, error) {
	rec, err := c.rec()
	if err != nil {
		return Session{}, err
	}
	if s := c.e.sessions.get(rec.defaultSession); s != nil && !s.Closed() {
		return Session{e: c.e, r: rec.defaultSession}, nil
	}
	s, err := c.OpenSession()
	if err != nil {
		return Session{}, err
	}
	rec.defaultSession = s.r
	return s, nil
}

func (c Connection) OpenSender(address string, opts ...LinkOption) (Sender, error) {
	s, err := c.DefaultSession()
	if err != nil {
		return Sender{}, err
	}
	return s.OpenSender(address, opts...)
}

func (c Connection) OpenReceiver(address string, opts ...LinkOption) (Receiver, error) {
	s, err := c.DefaultSession()
	if err != nil {
		return Receiver{}, err
	}
	return s.OpenReceiver(address, opts...)
}

// Sessions returns every live session in creation order.
func (c Connection) Sessions() []Session {
	rec, err := c.rec()
	if err != nil {
		return nil
	}
	out := make([]Session, 0, len(rec.sessions))
	for _, r := range rec.sessions {
		if c.e.sessions.get(r) != nil {
			out = append(out, Session{e: c.e, r: r})
		}
	}
	return out
}

func (c Connection) Senders() []Sender {
	var out []Sender
	for _, s := range c.Sessions() {
		for _, l := range s.Links() {
			if l.Role() == RoleSender {
				out = append(out, Sender{l})
			}
		}
	}
	return out
}

func (c Connection) Receivers() []Receiver {
	var out []Receiver
	for _, s := range c.Sessions() {
		for _, l := range s.Links() {
			if l.Role() == RoleReceiver {
				out = append(out, Receiver{l})
			}
		}
	}
	return out
}

func (c Connection) String() string {
	rec, err := c.rec()
	if err != nil {
		return "connection(" + err.Error() + ")"
	}
	return fmt.Sprintf("connection(%s local=%s remote=%s)", rec.containerID, rec.Local(), rec.Remote())
}

// newSession allocates a session record on the lowest free local channel.
func (e *Engine) newSession() (ref, error) {
	used := make(map[uint16]bool, len(e.conn.sessions))
	live := e.conn.sessions[:0]
	for _, r := range e.conn.sessions {
		s := e.sessions.get(r)
		if s == nil {
			continue
		}
		live = append(live, r)
		if !s.Finished() {
			used[s.localChannel] = true
		}
	}
	e.conn.sessions = live
	if len(used) >= int(e.conn.maxSessions) {
		return ref{}, fmt.Errorf("%w: %d", ErrSessionLimit, e.conn.maxSessions)
	}
	var ch uint16
	for used[ch] {
		ch++
	}
	r := e.sessions.alloc(sessionRecord{
		localChannel:   ch,
		byRemoteHandle: make(map[uint32]ref),
		outgoing:       make(map[uint32]ref),
		incoming:       make(map[uint32]ref),
	})
	e.conn.sessions = append(e.conn.sessions, r)
	return r, nil
}
