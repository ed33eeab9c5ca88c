package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/danmuck/amqpengine/internal/condition"
	"github.com/danmuck/amqpengine/internal/engine"
	"github.com/danmuck/amqpengine/internal/logging"
)

const tracerName = "github.com/danmuck/amqpengine/internal/driver"

var (
	ErrStopped         = errors.New("driver: stopped")
	ErrTransportFailed = errors.New("driver: transport failed")
)

type readResult struct {
	data []byte
	err  error
}

// Driver runs one engine over one byte stream. All engine access happens on
// the goroutine that calls Run; other goroutines go through Inject.
type Driver struct {
	engine *engine.Engine
	conn   io.ReadWriteCloser
	cfg    Config
	log    zerolog.Logger
	trace  *tracingHandler

	inject chan func(*engine.Engine)
	done   chan struct{}
	once   sync.Once
}

// New builds the engine for conn with h as its handler. Every dispatched
// event is also recorded on the connection's trace span.
func New(conn io.ReadWriteCloser, h engine.Handler, opts engine.Options, cfg Config) *Driver {
	th := &tracingHandler{next: h}
	e := engine.New(th, opts)
	return &Driver{
		engine: e,
		conn:   conn,
		cfg:    cfg.WithDefaults(),
		log:    logging.Component("driver").With().Str("container", e.Connection().ContainerID()).Logger(),
		trace:  th,
		inject: make(chan func(*engine.Engine), 64),
		done:   make(chan struct{}),
	}
}

func (d *Driver) Engine() *engine.Engine { return d.engine }

// Inject queues fn to run on the driver goroutine. It may be called before
// Run starts.
func (d *Driver) Inject(fn func(*engine.Engine)) error {
	select {
	case <-d.done:
		return ErrStopped
	default:
	}
	select {
	case d.inject <- fn:
		return nil
	case <-d.done:
		return ErrStopped
	}
}

// Run feeds the engine until its transport is closed in both directions.
// Cancelling ctx fails the transport with amqp:connection:forced. A handler
// error fails the transport and is returned.
func (d *Driver) Run(ctx context.Context) error {
	defer d.once.Do(func() { close(d.done) })
	defer d.conn.Close()

	e := d.engine
	ctx, span := otel.Tracer(tracerName).Start(ctx, "amqp.connection",
		trace.WithAttributes(attribute.String("amqp.container_id", e.Connection().ContainerID())))
	defer span.End()
	d.trace.span = span

	reads := make(chan readResult, 1)
	go d.readLoop(reads)

	var handlerErr error
	ctxDone := ctx.Done()
	for {
		d.flush()
		more, derr := e.Dispatch()
		if derr != nil {
			if handlerErr == nil {
				handlerErr = derr
				d.log.Warn().Err(derr).Msg("handler failed")
				e.Close(condition.Named(condition.InternalError, derr.Error()))
			}
			continue
		}
		if !more {
			break
		}
		if len(e.WriteBuffer()) > 0 {
			continue
		}
		select {
		case <-ctxDone:
			ctxDone = nil
			e.Close(condition.Named(condition.ConnectionForced, ctx.Err().Error()))
		case fn := <-d.inject:
			fn(e)
		case r := <-reads:
			d.feed(r)
		}
	}

	if handlerErr != nil {
		span.SetStatus(codes.Error, handlerErr.Error())
		return handlerErr
	}
	if ctx.Err() != nil {
		span.SetStatus(codes.Error, ctx.Err().Error())
		return ctx.Err()
	}
	if t := e.Transport(); t.Failed() {
		span.SetStatus(codes.Error, t.Error().Describe())
		return fmt.Errorf("%w: %s", ErrTransportFailed, t.Error().Describe())
	}
	return nil
}

func (d *Driver) readLoop(out chan<- readResult) {
	for {
		buf := make([]byte, d.cfg.ReadBufferSize)
		n, err := d.conn.Read(buf)
		select {
		case out <- readResult{data: buf[:n], err: err}:
		case <-d.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (d *Driver) feed(r readResult) {
	e := d.engine
	data := r.data
	for len(data) > 0 {
		buf := e.ReadBuffer()
		if len(buf) == 0 {
			break
		}
		n := copy(buf, data)
		if err := e.ReadDone(n); err != nil {
			d.log.Error().Err(err).Msg("read done")
			break
		}
		data = data[n:]
	}
	if r.err != nil {
		if !errors.Is(r.err, io.EOF) {
			d.log.Debug().Err(r.err).Msg("read failed")
		}
		e.ReadClose()
	}
}

type writeDeadliner interface {
	SetWriteDeadline(time.Time) error
}

func (d *Driver) flush() {
	e := d.engine
	for {
		out := e.WriteBuffer()
		if len(out) == 0 {
			return
		}
		if wd, ok := d.conn.(writeDeadliner); ok && d.cfg.WriteTimeout > 0 {
			_ = wd.SetWriteDeadline(time.Now().Add(d.cfg.WriteTimeout))
		}
		n, err := d.conn.Write(out)
		if n > 0 {
			_ = e.WriteDone(n)
		}
		if err != nil {
			d.log.Debug().Err(err).Msg("write failed")
			e.WriteClose()
			return
		}
	}
}

// tracingHandler records every event on the connection span before passing
// it on.
type tracingHandler struct {
	next engine.Handler
	span trace.Span
}

func (t *tracingHandler) HandleEvent(ev engine.Event) error {
	if t.span != nil {
		t.span.AddEvent(ev.Kind.String())
		if ev.Kind.IsError() {
			t.span.AddEvent("condition", trace.WithAttributes(
				attribute.String("amqp.event", ev.Kind.String()),
				attribute.String("amqp.condition", ev.Condition().Describe()),
			))
		}
	}
	if t.next == nil {
		return nil
	}
	return t.next.HandleEvent(ev)
}
