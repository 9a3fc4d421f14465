package realtime

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/diwise/smarthome-monitor/internal/pkg/infrastructure/logging"
	"github.com/diwise/smarthome-monitor/pkg/types"
)

const DefaultQueueSize int = 256

// QueuedSink hands events to a wrapped sink from its own goroutine. Publish
// never waits for the wrapped sink; when the queue is full the event is
// dropped with ErrUnavailable.
type QueuedSink interface {
	Sink
	// Close stops delivery. Events still in the queue are discarded.
	Close()
}

type queuedEvent struct {
	ctx   context.Context
	scope Scope
	event types.Event
}

type queuedSink struct {
	name  string
	sink  Sink
	queue chan queuedEvent

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func NewQueuedSink(ctx context.Context, name string, sink Sink, size int) QueuedSink {
	if size <= 0 {
		size = DefaultQueueSize
	}

	q := &queuedSink{
		name:  name,
		sink:  sink,
		queue: make(chan queuedEvent, size),
	}
	q.ctx, q.cancel = context.WithCancel(ctx)

	go q.run()

	return q
}

func (q *queuedSink) Publish(ctx context.Context, scope Scope, event types.Event) error {
	if q.ctx.Err() != nil {
		return fmt.Errorf("%w: sink %s is closed", ErrUnavailable, q.name)
	}

	// the producer context ends with its request, delivery must outlive it
	detached := trace.ContextWithSpanContext(q.ctx, trace.SpanContextFromContext(ctx))
	detached = logging.NewContextWithLogger(detached, logging.GetLoggerFromContext(ctx))

	select {
	case q.queue <- queuedEvent{ctx: detached, scope: scope, event: event}:
		return nil
	default:
		return fmt.Errorf("%w: sink %s queue is full", ErrUnavailable, q.name)
	}
}

func (q *queuedSink) Close() {
	q.once.Do(q.cancel)
}

func (q *queuedSink) run() {
	for {
		select {
		case <-q.ctx.Done():
			return
		case e := <-q.queue:
			if err := q.sink.Publish(e.ctx, e.scope, e.event); err != nil {
				logger := logging.GetLoggerFromContext(e.ctx)
				logger.Error().Err(err).
					Str("sink", q.name).Str("event", e.event.EventName()).
					Msg("sink failed to deliver event")
			}
		}
	}
}
