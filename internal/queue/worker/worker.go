package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/geocoder89/authportal/internal/notifications"
	"github.com/geocoder89/authportal/internal/observability"
	"github.com/geocoder89/authportal/internal/queue/redisqueue"
)

// Queue is the subset of the Redis queue the worker drives.
type Queue interface {
	Dequeue(ctx context.Context, consumer string, timeout time.Duration) (redisqueue.Claim, error)
	Ack(ctx context.Context, c redisqueue.Claim) error
	Retry(ctx context.Context, c redisqueue.Claim, runAt time.Time) error
	DeadLetter(ctx context.Context, c redisqueue.Claim) error
	PromoteDue(ctx context.Context) (int, error)
	Heartbeat(ctx context.Context, consumer string, ttl time.Duration) error
	RecoverOrphans(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
}

// settleTimeout bounds the queue write that acks, retries or dead-letters a
// claim.
const settleTimeout = 5 * time.Second

type Config struct {
	WorkerID      string
	Concurrency   int
	PollInterval  time.Duration
	JobTimeout    time.Duration
	ShutdownGrace time.Duration
}

type Worker struct {
	cfg      Config
	queue    Queue
	notifier notifications.Notifier
	log      *slog.Logger
	prom     *observability.Prom
	stats    *observability.DeliveryStats

	backoff func(attempt int) time.Duration
	now     func() time.Time

	readyMu sync.RWMutex
	ready   bool
}

func New(cfg Config, queue Queue, notifier notifications.Notifier, log *slog.Logger, prom *observability.Prom) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Second
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	return &Worker{
		cfg:      cfg,
		queue:    queue,
		notifier: notifier,
		log:      log.With("worker_id", cfg.WorkerID),
		prom:     prom,
		stats:    observability.NewDeliveryStats(),
		backoff:  ExponentialBackoff,
		now:      time.Now,
	}
}

// consumer names the processing list of one consume slot.
func (w *Worker) consumer(slot int) string {
	return fmt.Sprintf("%s/%d", w.cfg.WorkerID, slot)
}

// heartbeatTTL outlives the longest gap between two heartbeats of a slot:
// one blocking dequeue, one delivery and one settle.
func (w *Worker) heartbeatTTL() time.Duration {
	ttl := 2 * (w.cfg.PollInterval + w.cfg.JobTimeout + settleTimeout)
	if ttl < 30*time.Second {
		ttl = 30 * time.Second
	}
	return ttl
}

func (w *Worker) Stats() observability.DeliverySnapshot {
	return w.stats.Snapshot()
}

func (w *Worker) setReady(v bool) {
	w.readyMu.Lock()
	w.ready = v
	w.readyMu.Unlock()
}

func (w *Worker) isReady() bool {
	w.readyMu.RLock()
	defer w.readyMu.RUnlock()
	return w.ready
}

// Run consumes the queue until ctx is cancelled, then waits up to
// ShutdownGrace for in-flight deliveries.
func (w *Worker) Run(ctx context.Context) error {
	w.setReady(true)
	w.log.Info("worker started", "concurrency", w.cfg.Concurrency)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.promoteLoop(ctx)
	}()

	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.consumeLoop(ctx, slot)
		}(i)
	}

	<-ctx.Done()
	w.setReady(false)
	w.log.Info("worker received shutdown signal")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.log.Info("worker drained")
	case <-time.After(w.cfg.ShutdownGrace):
		w.log.Warn("worker shutdown grace exceeded", "grace", w.cfg.ShutdownGrace)
	}
	return nil
}

func (w *Worker) consumeLoop(ctx context.Context, slot int) {
	for ctx.Err() == nil {
		_, err := w.processOne(ctx, w.consumer(slot))
		if err != nil && ctx.Err() == nil {
			w.log.Error("process job failed", "slot", slot, "err", err)
			// avoid spinning on a broken connection
			select {
			case <-ctx.Done():
			case <-time.After(w.cfg.PollInterval):
			}
		}
	}
}

func (w *Worker) promoteLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.queue.PromoteDue(ctx)
			if err != nil {
				if ctx.Err() == nil {
					w.log.Error("promote delayed jobs failed", "err", err)
				}
				continue
			}
			if n > 0 {
				w.log.Debug("promoted delayed jobs", "count", n)
			}

			n, err = w.queue.RecoverOrphans(ctx)
			if err != nil {
				if ctx.Err() == nil {
					w.log.Error("recover orphaned claims failed", "err", err)
				}
				continue
			}
			if n > 0 {
				w.log.Warn("requeued claims of a dead consumer", "count", n)
			}
		}
	}
}
