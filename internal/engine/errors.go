package engine

import (
	"errors"
	"fmt"

	"github.com/danmuck/amqpengine/internal/condition"
)

var (
	ErrUnbound         = errors.New("engine: unbound entity")
	ErrNotManaged      = errors.New("engine: not managed by a container")
	ErrStaleHandle     = errors.New("engine: stale handle")
	ErrBufferBounds    = errors.New("engine: buffer bounds violated")
	ErrTransportClosed = errors.New("engine: transport closed")
	ErrEndpointClosed  = errors.New("engine: endpoint closed")
	ErrNoCredit        = errors.New("engine: no link credit")
	ErrWrongRole       = errors.New("engine: wrong link role")
	ErrDuplicateLink   = errors.New("engine: duplicate link")
	ErrSessionLimit    = errors.New("engine: session limit reached")
	ErrFrameTooLarge   = errors.New("engine: frame exceeds peer max frame size")
	ErrSettled         = errors.New("engine: delivery already settled")
)

// ApplicationError is returned from Dispatch when an error event reaches the
// default OnError hook of a Registry.
type ApplicationError struct {
	Kind      Kind
	Condition condition.Condition
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("engine: unhandled %s: %s", e.Kind, e.Condition.Describe())
}
