package engine

// Handler receives every dispatched event.
type Handler interface {
	HandleEvent(Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(Event) error

func (f HandlerFunc) HandleEvent(ev Event) error { return f(ev) }

// Registry is a Handler built from per-kind callbacks. Kinds without a
// callback are no-ops, except the error family, which falls through to
// the OnError hook. The default OnError escalates with *ApplicationError.
type Registry struct {
	handlers map[Kind]HandlerFunc
	onError  HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Kind]HandlerFunc)}
}

// On installs fn for kind, replacing any previous callback.
func (r *Registry) On(kind Kind, fn HandlerFunc) *Registry {
	r.handlers[kind] = fn
	return r
}

// OnError replaces the fallback for unhandled error events.
func (r *Registry) OnError(fn HandlerFunc) *Registry {
	r.onError = fn
	return r
}

func (r *Registry) HandleEvent(ev Event) error {
	if fn, ok := r.handlers[ev.Kind]; ok {
		return fn(ev)
	}
	if !ev.Kind.IsError() {
		return nil
	}
	if r.onError != nil {
		return r.onError(ev)
	}
	return &ApplicationError{Kind: ev.Kind, Condition: ev.Condition()}
}
