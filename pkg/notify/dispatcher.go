// Package notify delivers notification intents produced by commands.
// Commands never wait on delivery: intents are queued and sent by a small
// worker pool, and failures are only logged.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"team-collab-backend/pkg/models"
)

const sendTimeout = 30 * time.Second

type Dispatcher struct {
	sender  Sender
	workers int
	logger  *slog.Logger

	queue chan models.NotificationIntent
	wg    sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool
}

func NewDispatcher(sender Sender, workers, queueSize int, logger *slog.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Dispatcher{
		sender:  sender,
		workers: workers,
		logger:  logger,
		queue:   make(chan models.NotificationIntent, queueSize),
	}
}

// Start launches the workers. They run until Stop, or until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run(ctx, i)
	}
}

// Enqueue queues intents without blocking and returns how many were accepted.
// Intents that do not fit, or arrive after Stop, are dropped and logged.
func (d *Dispatcher) Enqueue(intents ...models.NotificationIntent) int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	accepted := 0
	for _, n := range intents {
		if d.closed {
			d.logger.Warn("notification dropped: dispatcher stopped", "kind", n.Kind, "user_id", n.UserID)
			continue
		}
		select {
		case d.queue <- n:
			accepted++
		default:
			d.logger.Warn("notification dropped: queue full", "kind", n.Kind, "user_id", n.UserID)
		}
	}
	return accepted
}

// Stop closes the queue and waits for the workers to drain it
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context, worker int) {
	defer d.wg.Done()
	for {
		select {
		case n, ok := <-d.queue:
			if !ok {
				return
			}
			d.deliver(ctx, worker, n)
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, worker int, n models.NotificationIntent) {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if err := d.sender.Send(sendCtx, n); err != nil {
		d.logger.Error("notification failed",
			"worker", worker,
			"kind", n.Kind,
			"user_id", n.UserID,
			"task_id", n.TaskID,
			"error", err,
		)
		return
	}
	d.logger.Debug("notification sent", "worker", worker, "kind", n.Kind, "user_id", n.UserID)
}
