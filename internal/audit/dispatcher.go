package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Dispatcher decouples request latency from the downstream sink. Publish enqueues
// without blocking and Run drains the queue into the wrapped sink. When the queue is
// full new entries are dropped and counted.
type Dispatcher struct {
	next    Sink
	inbox   chan *Entry
	logger  *slog.Logger
	dropped atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

// DefaultDispatchBuffer is the queue capacity when none is given.
const DefaultDispatchBuffer = 1024

func NewDispatcher(next Sink, buffer int, logger *slog.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = DefaultDispatchBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		next:   next,
		inbox:  make(chan *Entry, buffer),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Publish implements Sink.
func (d *Dispatcher) Publish(_ context.Context, entries ...*Entry) error {
	for _, e := range entries {
		select {
		case d.inbox <- e:
		default:
			d.dropped.Add(1)
		}
	}
	return nil
}

// Dropped returns how many entries were discarded because the queue was full.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Run forwards queued entries until ctx is cancelled, then drains what is left.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.closeOnce.Do(func() { close(d.done) })
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return ctx.Err()
		case e := <-d.inbox:
			d.forward(ctx, e)
		}
	}
}

// Done is closed once Run has returned.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *Dispatcher) drain() {
	for {
		select {
		case e := <-d.inbox:
			d.forward(context.Background(), e)
		default:
			return
		}
	}
}

func (d *Dispatcher) forward(ctx context.Context, e *Entry) {
	if err := d.next.Publish(ctx, e); err != nil {
		d.logger.WarnContext(ctx, "failed to forward audit entry",
			"error", err,
			"record_id", e.RecordID,
			"action", e.Action,
		)
	}
}
