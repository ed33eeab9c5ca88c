package engine

import (
	"errors"
	"fmt"

	"github.com/danmuck/amqpengine/internal/condition"
	"github.com/danmuck/amqpengine/internal/endpoint"
	"github.com/danmuck/amqpengine/internal/protocol/frame"
	"github.com/danmuck/amqpengine/internal/protocol/performative"
)

type Role = performative.Role

const (
	RoleSender   = performative.RoleSender
	RoleReceiver = performative.RoleReceiver
)

type linkConfig struct {
	name         string
	creditWindow uint32
	autoAccept   bool
	autoSettle   bool
	presettled   bool
}

// LinkOption adjusts a link before it is opened.
type LinkOption func(*linkConfig)

// WithName sets the link name. The address is used when unset.
func WithName(name string) LinkOption {
	return func(c *linkConfig) { c.name = name }
}

// WithCreditWindow overrides the engine credit window for one receiver.
// Zero disables automatic credit.
func WithCreditWindow(n uint32) LinkOption {
	return func(c *linkConfig) { c.creditWindow = n }
}

func WithAutoAccept(on bool) LinkOption {
	return func(c *linkConfig) { c.autoAccept = on }
}

func WithAutoSettle(on bool) LinkOption {
	return func(c *linkConfig) { c.autoSettle = on }
}

// WithPresettled makes a sender transfer every message settled.
func WithPresettled() LinkOption {
	return func(c *linkConfig) { c.presettled = true }
}

func (e *Engine) defaultLinkConfig() linkConfig {
	return linkConfig{
		creditWindow: uint32(e.opts.CreditWindow),
		autoAccept:   !e.opts.DisableAutoAccept,
		autoSettle:   !e.opts.DisableAutoSettle,
	}
}

func (e *Engine) newLink(sr ref, s *sessionRecord, role Role, name, address string, cfg linkConfig) ref {
	r := e.links.alloc(linkRecord{
		session:      sr,
		name:         name,
		address:      address,
		role:         role,
		localHandle:  s.nextHandle,
		creditWindow: cfg.creditWindow,
		autoAccept:   cfg.autoAccept,
		autoSettle:   cfg.autoSettle,
		presettled:   cfg.presettled,
	})
	s.nextHandle++
	s.links = append(s.links, r)
	return r
}

// Link is a handle to a sending or receiving link. The zero value is empty.
type Link struct {
	e *Engine
	r ref
}

func (l Link) rec() (*linkRecord, error) {
	if l.e == nil {
		return nil, ErrUnbound
	}
	rec := l.e.links.get(l.r)
	if rec == nil {
		return nil, ErrStaleHandle
	}
	return rec, nil
}

func (l Link) IsZero() bool { return l.e == nil }

// Open queues the attach. A receiver also grants its credit window.
func (l Link) Open() error {
	rec, err := l.rec()
	if err != nil {
		return err
	}
	if err := rec.Open(); err != nil {
		return err
	}
	l.e.queue(intentAttach, l.r)
	if rec.role == RoleReceiver && rec.creditWindow > 0 && rec.credit == 0 {
		rec.credit = rec.creditWindow
		l.e.queue(intentFlow, l.r)
	}
	return nil
}

func (l Link) Close(cond condition.Condition) error {
	rec, err := l.rec()
	if err != nil {
		return err
	}
	if err := rec.Close(cond); err != nil {
		return err
	}
	l.e.queue(intentDetach, l.r)
	return nil
}

func (l Link) Error() condition.Condition {
	rec, err := l.rec()
	if err != nil {
		return condition.Condition{}
	}
	return rec.RemoteCondition()
}

func (l Link) LocalError() condition.Condition {
	rec, err := l.rec()
	if err != nil {
		return condition.Condition{}
	}
	return rec.LocalCondition()
}

func (l Link) Uninitialized() bool {
	rec, err := l.rec()
	if err != nil {
		return errors.Is(err, ErrUnbound)
	}
	return rec.Uninitialized()
}

// LocalState and RemoteState expose the two halves of the lifecycle.
func (l Link) LocalState() endpoint.State {
	rec, err := l.rec()
	if err != nil {
		return endpoint.None
	}
	return rec.Local()
}

func (l Link) RemoteState() endpoint.State {
	rec, err := l.rec()
	if err != nil {
		return endpoint.None
	}
	return rec.Remote()
}

func (l Link) Active() bool {
	rec, err := l.rec()
	return err == nil && rec.Active()
}

func (l Link) Closed() bool {
	rec, err := l.rec()
	if err != nil {
		return errors.Is(err, ErrStaleHandle)
	}
	return rec.Closed()
}

func (l Link) Name() string {
	rec, err := l.rec()
	if err != nil {
		return ""
	}
	return rec.name
}

func (l Link) Address() string {
	rec, err := l.rec()
	if err != nil {
		return ""
	}
	return rec.address
}

func (l Link) Role() Role {
	rec, err := l.rec()
	if err != nil {
		return RoleSender
	}
	return rec.role
}

// Credit is the number of transfers the sender may still make.
func (l Link) Credit() uint32 {
	rec, err := l.rec()
	if err != nil {
		return 0
	}
	return rec.credit
}

func (l Link) Draining() bool {
	rec, err := l.rec()
	return err == nil && rec.draining
}

func (l Link) Session() Session {
	rec, err := l.rec()
	if err != nil {
		return Session{}
	}
	return Session{e: l.e, r: rec.session}
}

func (l Link) Connection() Connection {
	if l.e == nil {
		return Connection{}
	}
	return l.e.Connection()
}

func (l Link) Container() (Container, error) {
	if _, err := l.rec(); err != nil {
		return nil, err
	}
	return l.Connection().Container()
}

func (l Link) String() string {
	rec, err := l.rec()
	if err != nil {
		return "link(" + err.Error() + ")"
	}
	return fmt.Sprintf("%s(%q local=%s remote=%s credit=%d)", rec.role, rec.name, rec.Local(), rec.Remote(), rec.credit)
}

// Sender is the sending view of a link.
type Sender struct {
	Link
}

// Send transfers msg as one delivery. It consumes one unit of credit.
func (s Sender) Send(msg []byte) (Tracker, error) {
	rec, err := s.rec()
	if err != nil {
		return Tracker{}, err
	}
	if rec.role != RoleSender {
		return Tracker{}, ErrWrongRole
	}
	if s.e.transport.failed || s.e.conn.closeSent {
		return Tracker{}, ErrTransportClosed
	}
	if rec.Local() != endpoint.Opened || rec.Closed() {
		return Tracker{}, ErrEndpointClosed
	}
	if rec.credit == 0 {
		return Tracker{}, ErrNoCredit
	}
	sess := s.e.sessions.get(rec.session)
	if sess == nil {
		return Tracker{}, ErrStaleHandle
	}
	payload := append([]byte(nil), msg...)
	tag := deliveryTag(rec.nextTag)
	if err := s.e.checkTransfer(sess.localChannel, performative.Transfer{
		Handle:      rec.localHandle,
		DeliveryID:  sess.nextDeliveryID,
		DeliveryTag: tag,
		Settled:     rec.presettled,
		Payload:     payload,
	}); err != nil {
		return Tracker{}, err
	}
	rec.nextTag++
	id := sess.nextDeliveryID
	sess.nextDeliveryID++
	dr := s.e.delivs.alloc(deliveryRecord{
		link:         s.r,
		outgoing:     true,
		id:           id,
		tag:          tag,
		payload:      payload,
		localSettled: rec.presettled,
	})
	if !rec.presettled {
		sess.outgoing[id] = dr
	}
	rec.credit--
	rec.deliveryCount++
	s.e.queue(intentTransfer, dr)
	return Tracker{e: s.e, r: dr}, nil
}

// ReturnCredit gives unused credit back to the receiver, completing a
// drain.
func (s Sender) ReturnCredit() error {
	rec, err := s.rec()
	if err != nil {
		return err
	}
	if rec.role != RoleSender {
		return ErrWrongRole
	}
	s.e.returnCredit(s.r, rec)
	return nil
}

func (e *Engine) returnCredit(r ref, l *linkRecord) {
	l.deliveryCount += l.credit
	l.credit = 0
	l.draining = false
	l.drainEcho = true
	e.queue(intentFlow, r)
}

func (e *Engine) checkTransfer(channel uint16, t performative.Transfer) error {
	f, err := performative.Encode(channel, t)
	if err != nil {
		return err
	}
	limit := e.outLimits().MaxPayloadBytes
	if uint64(len(f.Payload)) > uint64(limit) {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(f.Payload)+int(frame.HeaderLen), limit+frame.HeaderLen)
	}
	return nil
}

// Receiver is the receiving view of a link.
type Receiver struct {
	Link
}

// AddCredit grants n more transfers to the sender.
func (r Receiver) AddCredit(n uint32) error {
	rec, err := r.rec()
	if err != nil {
		return err
	}
	if rec.role != RoleReceiver {
		return ErrWrongRole
	}
	if n == 0 {
		return nil
	}
	rec.credit += n
	r.e.queue(intentFlow, r.r)
	return nil
}

// Drain asks the sender to use or return all outstanding credit. A
// ReceiverDrainFinish event follows once the credit is gone.
func (r Receiver) Drain() error {
	rec, err := r.rec()
	if err != nil {
		return err
	}
	if rec.role != RoleReceiver {
		return ErrWrongRole
	}
	if rec.credit == 0 || rec.draining {
		return nil
	}
	rec.draining = true
	r.e.queue(intentFlow, r.r)
	return nil
}
