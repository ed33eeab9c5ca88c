package schema

import (
	"fmt"

	"github.com/danmuck/amqpengine/internal/logging"
	"github.com/danmuck/amqpengine/internal/protocol/tlv"
)

// Performative codes carried in the frame header.
const (
	PerfOpen        uint8 = 0x10
	PerfBegin       uint8 = 0x11
	PerfAttach      uint8 = 0x12
	PerfFlow        uint8 = 0x13
	PerfTransfer    uint8 = 0x14
	PerfDisposition uint8 = 0x15
	PerfDetach      uint8 = 0x16
	PerfEnd         uint8 = 0x17
	PerfClose       uint8 = 0x18
)

// Field IDs. Ranges group fields by the performative family that owns them.
const (
	FieldContainerID  uint16 = 1
	FieldHostname     uint16 = 2
	FieldMaxFrameSize uint16 = 3
	FieldChannelMax   uint16 = 4
	FieldIdleTimeout  uint16 = 5

	FieldRemoteChannel uint16 = 100

	FieldName    uint16 = 200
	FieldHandle  uint16 = 201
	FieldRole    uint16 = 202
	FieldAddress uint16 = 203

	FieldDeliveryCount uint16 = 300
	FieldLinkCredit    uint16 = 301
	FieldDrain         uint16 = 302

	FieldDeliveryID  uint16 = 400
	FieldDeliveryTag uint16 = 401
	FieldSettled     uint16 = 402
	FieldPayload     uint16 = 403

	FieldFirst uint16 = 500
	FieldState uint16 = 501

	FieldClosed uint16 = 600

	FieldErrorName        uint16 = 900
	FieldErrorDescription uint16 = 901
	FieldErrorProperties  uint16 = 902
)

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	Performative uint8
	FieldID      uint16
	Reason       string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: performative=%s: %s", Name(e.Performative), e.Reason)
	}
	return fmt.Sprintf("schema: performative=%s field=%d: %s", Name(e.Performative), e.FieldID, e.Reason)
}

var requirements = map[uint8][]Requirement{
	PerfOpen: {
		{FieldContainerID, tlv.TypeString},
		{FieldMaxFrameSize, tlv.TypeU32},
		{FieldChannelMax, tlv.TypeU16},
	},
	PerfBegin: {},
	PerfAttach: {
		{FieldName, tlv.TypeString},
		{FieldHandle, tlv.TypeU32},
		{FieldRole, tlv.TypeBool},
	},
	PerfFlow: {
		{FieldHandle, tlv.TypeU32},
		{FieldDeliveryCount, tlv.TypeU32},
		{FieldLinkCredit, tlv.TypeU32},
		{FieldDrain, tlv.TypeBool},
	},
	PerfTransfer: {
		{FieldHandle, tlv.TypeU32},
		{FieldDeliveryID, tlv.TypeU32},
		{FieldDeliveryTag, tlv.TypeBytes},
		{FieldSettled, tlv.TypeBool},
		{FieldPayload, tlv.TypeBytes},
	},
	PerfDisposition: {
		{FieldRole, tlv.TypeBool},
		{FieldFirst, tlv.TypeU32},
		{FieldSettled, tlv.TypeBool},
		{FieldState, tlv.TypeU8},
	},
	PerfDetach: {
		{FieldHandle, tlv.TypeU32},
		{FieldClosed, tlv.TypeBool},
	},
	PerfEnd:   {},
	PerfClose: {},
}

// optional lists fields that may be absent but must have the given type
// when present.
var optional = map[uint16]uint8{
	FieldHostname:         tlv.TypeString,
	FieldIdleTimeout:      tlv.TypeU32,
	FieldRemoteChannel:    tlv.TypeU16,
	FieldAddress:          tlv.TypeString,
	FieldErrorName:        tlv.TypeString,
	FieldErrorDescription: tlv.TypeString,
	FieldErrorProperties:  tlv.TypeMap,
}

var names = map[uint8]string{
	PerfOpen:        "open",
	PerfBegin:       "begin",
	PerfAttach:      "attach",
	PerfFlow:        "flow",
	PerfTransfer:    "transfer",
	PerfDisposition: "disposition",
	PerfDetach:      "detach",
	PerfEnd:         "end",
	PerfClose:       "close",
}

// Name returns the lowercase performative name, or a hex code when unknown.
func Name(perf uint8) string {
	if n, ok := names[perf]; ok {
		return n
	}
	return fmt.Sprintf("0x%02x", perf)
}

// Validate enforces required fields and field types for a performative.
// Unknown fields are ignored so peers can extend frames.
func Validate(perf uint8, fields []tlv.Field) error {
	logging.Tracef("schema.Validate performative=%s fields=%d", Name(perf), len(fields))
	reqs, ok := requirements[perf]
	if !ok {
		logging.Errf("schema.Validate unknown performative=0x%02x", perf)
		return ValidationError{Performative: perf, Reason: "unknown performative"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			logging.Errf("schema.Validate missing field performative=%s field_id=%d", Name(perf), req.ID)
			return ValidationError{Performative: perf, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			logging.Errf(
				"schema.Validate type mismatch performative=%s field_id=%d got=%d want=%d",
				Name(perf),
				req.ID,
				f.Type,
				req.Type,
			)
			return ValidationError{Performative: perf, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	for _, f := range fields {
		want, ok := optional[f.ID]
		if ok && f.Type != want {
			logging.Errf("schema.Validate optional type mismatch performative=%s field_id=%d", Name(perf), f.ID)
			return ValidationError{Performative: perf, FieldID: f.ID, Reason: "type mismatch"}
		}
	}
	return nil
}
