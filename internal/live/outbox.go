package live

import (
	"context"
	"log/slog"
	"time"
)

const (
	outboxDepth   = 64
	outboxRetries = 3
	outboxBackoff = 250 * time.Millisecond
	outboxTimeout = 10 * time.Second
)

// Outbox is a small outbound work queue for best-effort durable writes. It
// keeps slow persistence off the command path: jobs retry a few times with
// doubling backoff, and a job that still fails is logged and dropped on the
// bet that the row feed reconciles state on the next read.
type Outbox struct {
	logger  *slog.Logger
	jobs    chan outboxJob
	done    chan struct{}
	retries int
	backoff time.Duration
}

type outboxJob struct {
	name string
	fn   func(context.Context) error
}

// NewOutbox starts the queue's single worker goroutine.
func NewOutbox(logger *slog.Logger) *Outbox {
	return newOutbox(logger, outboxRetries, outboxBackoff)
}

func newOutbox(logger *slog.Logger, retries int, backoff time.Duration) *Outbox {
	if logger == nil {
		logger = slog.Default()
	}
	ob := &Outbox{
		logger:  logger,
		jobs:    make(chan outboxJob, outboxDepth),
		done:    make(chan struct{}),
		retries: retries,
		backoff: backoff,
	}
	go ob.run()
	return ob
}

// Enqueue never blocks; when the queue is full the job is dropped with a
// warning.
func (ob *Outbox) Enqueue(name string, fn func(context.Context) error) {
	select {
	case ob.jobs <- outboxJob{name: name, fn: fn}:
	case <-ob.done:
	default:
		ob.logger.Warn("outbox full, dropping job", slog.String("job", name))
	}
}

// Close stops the worker. Queued jobs are abandoned.
func (ob *Outbox) Close() {
	close(ob.done)
}

func (ob *Outbox) run() {
	for {
		select {
		case job := <-ob.jobs:
			ob.attempt(job)
		case <-ob.done:
			return
		}
	}
}

func (ob *Outbox) attempt(job outboxJob) {
	delay := ob.backoff
	for i := 0; ; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), outboxTimeout)
		err := job.fn(ctx)
		cancel()
		if err == nil {
			return
		}
		if i == ob.retries {
			ob.logger.Warn("outbox job failed",
				slog.String("job", job.name),
				slog.Int("attempts", i+1),
				slog.String("error", err.Error()))
			return
		}
		select {
		case <-time.After(delay):
		case <-ob.done:
			return
		}
		delay *= 2
	}
}
