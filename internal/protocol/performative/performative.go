// Package performative maps typed protocol bodies to and from frames.
//
// Each body is a TLV field list validated against the schema table for its
// performative code.
package performative

import (
	"errors"
	"fmt"

	"github.com/danmuck/amqpengine/internal/condition"
	"github.com/danmuck/amqpengine/internal/protocol/frame"
	"github.com/danmuck/amqpengine/internal/protocol/schema"
	"github.com/danmuck/amqpengine/internal/protocol/tlv"
)

var ErrUnknownPerformative = errors.New("performative: unknown performative")

// Role is the sending or receiving end of a link.
type Role bool

const (
	RoleSender   Role = false
	RoleReceiver Role = true
)

func (r Role) String() string {
	if r == RoleReceiver {
		return "receiver"
	}
	return "sender"
}

// DeliveryState is the outcome carried by a disposition.
type DeliveryState uint8

const (
	StateNone DeliveryState = iota
	StateAccepted
	StateRejected
	StateReleased
)

func (s DeliveryState) String() string {
	switch s {
	case StateAccepted:
		return "accepted"
	case StateRejected:
		return "rejected"
	case StateReleased:
		return "released"
	default:
		return "none"
	}
}

// Body is one decoded performative.
type Body interface {
	Performative() uint8
	fields() ([]tlv.Field, error)
}

type Open struct {
	ContainerID  string
	Hostname     string
	MaxFrameSize uint32
	ChannelMax   uint16
	IdleTimeout  uint32 // milliseconds
}

type Begin struct {
	RemoteChannel    uint16
	HasRemoteChannel bool
}

type Attach struct {
	Name    string
	Handle  uint32
	Role    Role
	Address string
}

type Flow struct {
	Handle        uint32
	DeliveryCount uint32
	LinkCredit    uint32
	Drain         bool
}

type Transfer struct {
	Handle      uint32
	DeliveryID  uint32
	DeliveryTag []byte
	Settled     bool
	Payload     []byte
}

type Disposition struct {
	Role    Role
	First   uint32
	Settled bool
	State   DeliveryState
	Error   condition.Condition
}

type Detach struct {
	Handle uint32
	Closed bool
	Error  condition.Condition
}

type End struct {
	Error condition.Condition
}

type Close struct {
	Error condition.Condition
}

func (Open) Performative() uint8        { return schema.PerfOpen }
func (Begin) Performative() uint8       { return schema.PerfBegin }
func (Attach) Performative() uint8      { return schema.PerfAttach }
func (Flow) Performative() uint8        { return schema.PerfFlow }
func (Transfer) Performative() uint8    { return schema.PerfTransfer }
func (Disposition) Performative() uint8 { return schema.PerfDisposition }
func (Detach) Performative() uint8      { return schema.PerfDetach }
func (End) Performative() uint8         { return schema.PerfEnd }
func (Close) Performative() uint8       { return schema.PerfClose }

func (b Open) fields() ([]tlv.Field, error) {
	fields := []tlv.Field{
		tlv.String(schema.FieldContainerID, b.ContainerID),
		tlv.U32(schema.FieldMaxFrameSize, b.MaxFrameSize),
		tlv.U16(schema.FieldChannelMax, b.ChannelMax),
	}
	if b.Hostname != "" {
		fields = append(fields, tlv.String(schema.FieldHostname, b.Hostname))
	}
	if b.IdleTimeout != 0 {
		fields = append(fields, tlv.U32(schema.FieldIdleTimeout, b.IdleTimeout))
	}
	return fields, nil
}

func (b Begin) fields() ([]tlv.Field, error) {
	if !b.HasRemoteChannel {
		return nil, nil
	}
	return []tlv.Field{tlv.U16(schema.FieldRemoteChannel, b.RemoteChannel)}, nil
}

func (b Attach) fields() ([]tlv.Field, error) {
	fields := []tlv.Field{
		tlv.String(schema.FieldName, b.Name),
		tlv.U32(schema.FieldHandle, b.Handle),
		tlv.Bool(schema.FieldRole, bool(b.Role)),
	}
	if b.Address != "" {
		fields = append(fields, tlv.String(schema.FieldAddress, b.Address))
	}
	return fields, nil
}

func (b Flow) fields() ([]tlv.Field, error) {
	return []tlv.Field{
		tlv.U32(schema.FieldHandle, b.Handle),
		tlv.U32(schema.FieldDeliveryCount, b.DeliveryCount),
		tlv.U32(schema.FieldLinkCredit, b.LinkCredit),
		tlv.Bool(schema.FieldDrain, b.Drain),
	}, nil
}

func (b Transfer) fields() ([]tlv.Field, error) {
	return []tlv.Field{
		tlv.U32(schema.FieldHandle, b.Handle),
		tlv.U32(schema.FieldDeliveryID, b.DeliveryID),
		tlv.Bytes(schema.FieldDeliveryTag, b.DeliveryTag),
		tlv.Bool(schema.FieldSettled, b.Settled),
		tlv.Bytes(schema.FieldPayload, b.Payload),
	}, nil
}

func (b Disposition) fields() ([]tlv.Field, error) {
	fields := []tlv.Field{
		tlv.Bool(schema.FieldRole, bool(b.Role)),
		tlv.U32(schema.FieldFirst, b.First),
		tlv.Bool(schema.FieldSettled, b.Settled),
		tlv.U8(schema.FieldState, uint8(b.State)),
	}
	return appendError(fields, b.Error)
}

func (b Detach) fields() ([]tlv.Field, error) {
	fields := []tlv.Field{
		tlv.U32(schema.FieldHandle, b.Handle),
		tlv.Bool(schema.FieldClosed, b.Closed),
	}
	return appendError(fields, b.Error)
}

func (b End) fields() ([]tlv.Field, error)   { return appendError(nil, b.Error) }
func (b Close) fields() ([]tlv.Field, error) { return appendError(nil, b.Error) }

// Encode builds the frame for body on channel.
func Encode(channel uint16, body Body) (frame.Frame, error) {
	fields, err := body.fields()
	if err != nil {
		return frame.Frame{}, err
	}
	if err := schema.Validate(body.Performative(), fields); err != nil {
		return frame.Frame{}, err
	}
	return frame.Frame{
		Header: frame.Header{
			Type:         frame.TypeAMQP,
			Performative: body.Performative(),
			Channel:      channel,
		},
		Payload: tlv.EncodeFields(fields),
	}, nil
}

// Decode parses and validates the body carried by f.
func Decode(f frame.Frame) (Body, error) {
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return nil, err
	}
	perf := f.Header.Performative
	if err := schema.Validate(perf, fields); err != nil {
		return nil, err
	}
	r := reader{fields: fields}
	var body Body
	switch perf {
	case schema.PerfOpen:
		body = Open{
			ContainerID:  r.str(schema.FieldContainerID),
			Hostname:     r.str(schema.FieldHostname),
			MaxFrameSize: r.u32(schema.FieldMaxFrameSize),
			ChannelMax:   r.u16(schema.FieldChannelMax),
			IdleTimeout:  r.u32(schema.FieldIdleTimeout),
		}
	case schema.PerfBegin:
		_, has := tlv.GetField(fields, schema.FieldRemoteChannel)
		body = Begin{RemoteChannel: r.u16(schema.FieldRemoteChannel), HasRemoteChannel: has}
	case schema.PerfAttach:
		body = Attach{
			Name:    r.str(schema.FieldName),
			Handle:  r.u32(schema.FieldHandle),
			Role:    Role(r.boolean(schema.FieldRole)),
			Address: r.str(schema.FieldAddress),
		}
	case schema.PerfFlow:
		body = Flow{
			Handle:        r.u32(schema.FieldHandle),
			DeliveryCount: r.u32(schema.FieldDeliveryCount),
			LinkCredit:    r.u32(schema.FieldLinkCredit),
			Drain:         r.boolean(schema.FieldDrain),
		}
	case schema.PerfTransfer:
		body = Transfer{
			Handle:      r.u32(schema.FieldHandle),
			DeliveryID:  r.u32(schema.FieldDeliveryID),
			DeliveryTag: r.bytes(schema.FieldDeliveryTag),
			Settled:     r.boolean(schema.FieldSettled),
			Payload:     r.bytes(schema.FieldPayload),
		}
	case schema.PerfDisposition:
		body = Disposition{
			Role:    Role(r.boolean(schema.FieldRole)),
			First:   r.u32(schema.FieldFirst),
			Settled: r.boolean(schema.FieldSettled),
			State:   DeliveryState(r.u8(schema.FieldState)),
			Error:   r.condition(),
		}
	case schema.PerfDetach:
		body = Detach{
			Handle: r.u32(schema.FieldHandle),
			Closed: r.boolean(schema.FieldClosed),
			Error:  r.condition(),
		}
	case schema.PerfEnd:
		body = End{Error: r.condition()}
	case schema.PerfClose:
		body = Close{Error: r.condition()}
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownPerformative, perf)
	}
	if r.err != nil {
		return nil, fmt.Errorf("performative: decode %s: %w", schema.Name(perf), r.err)
	}
	return body, nil
}

func appendError(fields []tlv.Field, c condition.Condition) ([]tlv.Field, error) {
	if c.Empty() {
		return fields, nil
	}
	fields = append(fields,
		tlv.String(schema.FieldErrorName, c.Name()),
		tlv.String(schema.FieldErrorDescription, c.Description()),
	)
	if props := c.Properties(); len(props) > 0 {
		f, err := tlv.Map(schema.FieldErrorProperties, props)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// reader pulls typed values out of a validated field list, keeping the
// first error.
type reader struct {
	fields []tlv.Field
	err    error
}

func (r *reader) get(id uint16) (tlv.Field, bool) {
	if r.err != nil {
		return tlv.Field{}, false
	}
	return tlv.GetField(r.fields, id)
}

func (r *reader) keep(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *reader) str(id uint16) string {
	f, ok := r.get(id)
	if !ok {
		return ""
	}
	v, err := f.AsString()
	r.keep(err)
	return v
}

func (r *reader) bytes(id uint16) []byte {
	f, ok := r.get(id)
	if !ok {
		return nil
	}
	v, err := f.AsBytes()
	r.keep(err)
	return v
}

func (r *reader) u8(id uint16) uint8 {
	f, ok := r.get(id)
	if !ok {
		return 0
	}
	v, err := f.AsU8()
	r.keep(err)
	return v
}

func (r *reader) u16(id uint16) uint16 {
	f, ok := r.get(id)
	if !ok {
		return 0
	}
	v, err := f.AsU16()
	r.keep(err)
	return v
}

func (r *reader) u32(id uint16) uint32 {
	f, ok := r.get(id)
	if !ok {
		return 0
	}
	v, err := f.AsU32()
	r.keep(err)
	return v
}

func (r *reader) boolean(id uint16) bool {
	f, ok := r.get(id)
	if !ok {
		return false
	}
	v, err := f.AsBool()
	r.keep(err)
	return v
}

func (r *reader) condition() condition.Condition {
	name := r.str(schema.FieldErrorName)
	desc := r.str(schema.FieldErrorDescription)
	f, ok := r.get(schema.FieldErrorProperties)
	if !ok {
		return condition.Named(name, desc)
	}
	props, err := f.AsMap()
	r.keep(err)
	return condition.WithProperties(name, desc, props)
}
