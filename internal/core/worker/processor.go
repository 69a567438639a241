package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/notifications"
)

// Sender delivers one event. A returned error schedules a retry.
type Sender interface {
	Send(ctx context.Context, ev notifications.Event) error
}

type job struct {
	event    notifications.Event
	attempts int
}

// Dispatcher is a bounded in-process queue in front of a Sender. Notify never
// blocks the caller: when the queue is full the event is dropped and logged.
type Dispatcher struct {
	sender      Sender
	queue       chan job
	log         *slog.Logger
	maxAttempts int
	backoff     func(attempts int) time.Duration
	wg          sync.WaitGroup
}

type Option func(*Dispatcher)

func WithQueueSize(n int) Option { return func(d *Dispatcher) { d.queue = make(chan job, n) } }
func WithMaxAttempts(n int) Option { return func(d *Dispatcher) { d.maxAttempts = n } }
func WithBackoff(f func(attempts int) time.Duration) Option { return func(d *Dispatcher) { d.backoff = f } }

func NewDispatcher(sender Sender, log *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sender:      sender,
		queue:       make(chan job, 256),
		log:         log,
		maxAttempts: 5,
		backoff: func(attempts int) time.Duration {
			return time.Duration(attempts*10+10) * time.Second
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

var _ notifications.Notifier = (*Dispatcher)(nil)

func (d *Dispatcher) Notify(_ context.Context, ev notifications.Event) {
	select {
	case d.queue <- job{event: ev}:
	default:
		d.log.Warn("Notification queue full, dropping event", "event", ev.Type, "entity_id", ev.EntityID)
	}
}

// Start runs workers until ctx is cancelled. Wait blocks until they exit.
func (d *Dispatcher) Start(ctx context.Context, workers int) {
	if workers < 1 {
		workers = 1
	}
	d.log.Info("👷 Notification workers started", "workers", workers)
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j := <-d.queue:
					d.process(ctx, j)
				}
			}
		}()
	}
}

func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) process(ctx context.Context, j job) {
	for {
		err := d.sender.Send(ctx, j.event)
		if err == nil {
			d.log.Debug("Worker: notification sent", "event", j.event.Type, "entity_id", j.event.EntityID)
			return
		}
		j.attempts++
		if j.attempts >= d.maxAttempts {
			d.log.Error("Worker: notification marked as FAILED (max attempts reached)",
				"event", j.event.Type, "entity_id", j.event.EntityID, "error", err)
			return
		}

		wait := d.backoff(j.attempts)
		d.log.Warn("Worker: notification failed, scheduled retry",
			"event", j.event.Type, "attempts", j.attempts, "next_run", wait, "error", err)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
