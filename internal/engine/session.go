package engine

import (
	"errors"
	"fmt"

	"github.com/danmuck/amqpengine/internal/condition"
	"github.com/danmuck/amqpengine/internal/endpoint"
)

// Session is a handle to a session record. The zero value is empty.
type Session struct {
	e *Engine
	r ref
}

func (s Session) rec() (*sessionRecord, error) {
	if s.e == nil {
		return nil, ErrUnbound
	}
	rec := s.e.sessions.get(s.r)
	if rec == nil {
		return nil, ErrStaleHandle
	}
	return rec, nil
}

func (s Session) IsZero() bool { return s.e == nil }

func (s Session) Open() error {
	rec, err := s.rec()
	if err != nil {
		return err
	}
	if err := rec.Open(); err != nil {
		return err
	}
	s.e.queue(intentBegin, s.r)
	return nil
}

func (s Session) Close(cond condition.Condition) error {
	rec, err := s.rec()
	if err != nil {
		return err
	}
	if err := rec.Close(cond); err != nil {
		return err
	}
	s.e.queue(intentEnd, s.r)
	return nil
}

func (s Session) Error() condition.Condition {
	rec, err := s.rec()
	if err != nil {
		return condition.Condition{}
	}
	return rec.RemoteCondition()
}

func (s Session) LocalError() condition.Condition {
	rec, err := s.rec()
	if err != nil {
		return condition.Condition{}
	}
	return rec.LocalCondition()
}

func (s Session) Uninitialized() bool {
	rec, err := s.rec()
	if err != nil {
		return errors.Is(err, ErrUnbound)
	}
	return rec.Uninitialized()
}

// LocalState and RemoteState expose the two halves of the lifecycle.
func (s Session) LocalState() endpoint.State {
	rec, err := s.rec()
	if err != nil {
		return endpoint.None
	}
	return rec.Local()
}

func (s Session) RemoteState() endpoint.State {
	rec, err := s.rec()
	if err != nil {
		return endpoint.None
	}
	return rec.Remote()
}

func (s Session) Active() bool {
	rec, err := s.rec()
	return err == nil && rec.Active()
}

func (s Session) Closed() bool {
	rec, err := s.rec()
	if err != nil {
		return errors.Is(err, ErrStaleHandle)
	}
	return rec.Closed()
}

func (s Session) Connection() Connection {
	if s.e == nil {
		return Connection{}
	}
	return s.e.Connection()
}

// OpenSender creates and opens a sending link on s.
func (s Session) OpenSender(address string, opts ...LinkOption) (Sender, error) {
	l, err := s.openLink(RoleSender, address, opts)
	if err != nil {
		return Sender{}, err
	}
	return Sender{l}, nil
}

// OpenReceiver creates and opens a receiving link on s. The receiver is
// granted the configured credit window.
func (s Session) OpenReceiver(address string, opts ...LinkOption) (Receiver, error) {
	l, err := s.openLink(RoleReceiver, address, opts)
	if err != nil {
		return Receiver{}, err
	}
	return Receiver{l}, nil
}

func (s Session) openLink(role Role, address string, opts []LinkOption) (Link, error) {
	rec, err := s.rec()
	if err != nil {
		return Link{}, err
	}
	if rec.Closed() {
		return Link{}, ErrEndpointClosed
	}
	cfg := s.e.defaultLinkConfig()
	cfg.name = address
	for _, opt := range opts {
		opt(&cfg)
	}
	for _, r := range rec.links {
		l := s.e.links.get(r)
		if l != nil && l.name == cfg.name && l.role == role && !l.Closed() {
			return Link{}, fmt.Errorf("%w: %s %q", ErrDuplicateLink, role, cfg.name)
		}
	}
	l := Link{e: s.e, r: s.e.newLink(s.r, rec, role, cfg.name, address, cfg)}
	if err := l.Open(); err != nil {
		return Link{}, err
	}
	return l, nil
}

// Links returns every live link on s in creation order.
func (s Session) Links() []Link {
	rec, err := s.rec()
	if err != nil {
		return nil
	}
	out := make([]Link, 0, len(rec.links))
	for _, r := range rec.links {
		if s.e.links.get(r) != nil {
			out = append(out, Link{e: s.e, r: r})
		}
	}
	return out
}
