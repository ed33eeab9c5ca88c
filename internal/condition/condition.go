// Package condition describes named failures attached to endpoints and
// transports.
//
// A Condition is an immutable value. The zero value is the empty condition.
package condition

// DefaultName is used when a condition is built from a description only.
const DefaultName = "proton:io:error"

// Well-known condition names raised by the engine itself.
const (
	InternalError         = "amqp:internal-error"
	NotAllowed            = "amqp:not-allowed"
	ResourceLimitExceeded = "amqp:resource-limit-exceeded"
	FramingError          = "amqp:connection:framing-error"
	ConnectionForced      = "amqp:connection:forced"
	TransferLimitExceeded = "amqp:link:transfer-limit-exceeded"
)

// Condition is a named, described, optionally annotated failure.
type Condition struct {
	name        string
	description string
	properties  map[string]any
}

// New returns a condition carrying only a description, named DefaultName.
func New(description string) Condition {
	return Condition{name: DefaultName, description: description}
}

// Named returns a condition with a name and a description.
func Named(name, description string) Condition {
	return Condition{name: name, description: description}
}

// WithProperties returns a condition carrying informational properties.
// The map is copied.
func WithProperties(name, description string, props map[string]any) Condition {
	return Condition{name: name, description: description, properties: copyProps(props)}
}

// Empty reports whether neither a name nor a description is set.
func (c Condition) Empty() bool {
	return c.name == "" && c.description == ""
}

func (c Condition) Name() string {
	return c.name
}

func (c Condition) Description() string {
	return c.description
}

// Properties returns a copy of the informational properties, or nil.
func (c Condition) Properties() map[string]any {
	return copyProps(c.properties)
}

// Describe renders "name: description", or whichever part is set.
func (c Condition) Describe() string {
	switch {
	case c.name == "":
		return c.description
	case c.description == "":
		return c.name
	default:
		return c.name + ": " + c.description
	}
}

func (c Condition) String() string {
	return c.Describe()
}

// Equal compares name and description. Properties are informational and do
// not take part in equality.
func (c Condition) Equal(o Condition) bool {
	return c.name == o.name && c.description == o.description
}

func copyProps(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
