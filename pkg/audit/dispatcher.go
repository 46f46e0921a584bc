package audit

import (
	"context"
	"sync"
	"time"

	"github.com/hireflow/hireflow-admin/pkg/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	defaultQueueSize    = 1024
	defaultWorkers      = 1
	defaultWriteTimeout = 5 * time.Second
)

// Sink persists activity log rows.
type Sink interface {
	AppendActivityLog(ctx context.Context, entry *store.ActivityLog) error
}

// Options tunes a Dispatcher. Zero values take defaults.
type Options struct {
	QueueSize    int
	Workers      int
	WriteTimeout time.Duration
	Now          func() time.Time
}

// Dispatcher is a Recorder that writes entries on background workers.
type Dispatcher interface {
	Recorder
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Dispatcher = (*dispatcher)(nil)

type dispatcher struct {
	log   logrus.FieldLogger
	sink  Sink
	opts  Options
	queue chan Entry

	mu     sync.RWMutex
	closed bool
	group  *errgroup.Group
}

// NewDispatcher creates a dispatcher writing to sink. Entries recorded
// before Start are buffered.
func NewDispatcher(log logrus.FieldLogger, sink Sink, opts Options) Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}

	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}

	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &dispatcher{
		log:   log.WithField("component", "audit"),
		sink:  sink,
		opts:  opts,
		queue: make(chan Entry, opts.QueueSize),
	}
}

// Record enqueues entry. It never blocks: a full or closed queue drops the
// entry with a warning. CreatedAt is stamped here so the log reflects the
// order actions were taken, not the order they were written.
func (d *dispatcher) Record(entry Entry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = d.opts.Now()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(entry, "dispatcher stopped")

		return
	}

	select {
	case d.queue <- entry:
		queueDepth.Inc()
	default:
		d.drop(entry, "queue full")
	}
}

// Start launches the writer goroutines. Cancelling ctx does not abort
// in-flight writes; Stop drains the queue.
func (d *dispatcher) Start(ctx context.Context) error {
	writeCtx := context.WithoutCancel(ctx)

	g := &errgroup.Group{}

	for i := 0; i < d.opts.Workers; i++ {
		g.Go(func() error {
			for entry := range d.queue {
				queueDepth.Dec()
				d.write(writeCtx, entry)
			}

			return nil
		})
	}

	d.mu.Lock()
	d.group = g
	d.mu.Unlock()

	d.log.WithField("workers", d.opts.Workers).Debug("Audit dispatcher started")

	return nil
}

// Stop closes the queue and waits for queued entries to be written.
// Calling Stop more than once is safe.
func (d *dispatcher) Stop() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()

		return nil
	}

	d.closed = true
	close(d.queue)
	g := d.group
	d.mu.Unlock()

	if g != nil {
		if err := g.Wait(); err != nil {
			return err
		}
	}

	d.log.Debug("Audit dispatcher stopped")

	return nil
}

func (d *dispatcher) write(ctx context.Context, entry Entry) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.WriteTimeout)
	defer cancel()

	if err := d.sink.AppendActivityLog(ctx, entry.toModel()); err != nil {
		entriesTotal.WithLabelValues(entry.ActionType, "failed").Inc()
		d.log.WithError(err).
			WithField("action_type", entry.ActionType).
			WithField("admin_id", entry.AdminID).
			Warn("Failed to write activity log entry")

		return
	}

	entriesTotal.WithLabelValues(entry.ActionType, "written").Inc()
}

func (d *dispatcher) drop(entry Entry, reason string) {
	entriesTotal.WithLabelValues(entry.ActionType, "dropped").Inc()
	d.log.WithField("action_type", entry.ActionType).
		WithField("reason", reason).
		Warn("Dropped activity log entry")
}
