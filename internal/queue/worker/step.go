package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/geocoder89/authportal/internal/jobs"
	"github.com/geocoder89/authportal/internal/notifications"
	"github.com/geocoder89/authportal/internal/queue/redisqueue"
)

// errPermanent marks failures that retrying cannot fix.
var errPermanent = errors.New("permanent failure")

// ProcessOne claims at most one job on the first consume slot and runs it to
// completion. It reports whether a job was claimed.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	return w.processOne(ctx, w.consumer(0))
}

func (w *Worker) processOne(ctx context.Context, consumer string) (bool, error) {
	if err := w.queue.Heartbeat(ctx, consumer, w.heartbeatTTL()); err != nil {
		return false, fmt.Errorf("heartbeat: %w", err)
	}

	c, err := w.queue.Dequeue(ctx, consumer, w.cfg.PollInterval)
	if err != nil {
		if errors.Is(err, redisqueue.ErrEmpty) {
			return false, nil
		}
		if errors.Is(err, jobs.ErrInvalidJobPayload) {
			// the queue already dead-lettered the raw bytes
			w.stats.IncDeadLettered()
			w.log.Warn("dropped undecodable job", "err", err)
			return true, nil
		}
		return false, err
	}

	w.stats.IncClaimed()
	w.prom.MailInFlightInc()
	defer w.prom.MailInFlightDec()

	// deliveries already claimed finish even while the worker shuts down
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.JobTimeout)
	start := w.now()
	err = w.execute(runCtx, c.Job)
	elapsed := w.now().Sub(start)
	cancel()
	w.stats.ObserveDuration(elapsed)

	// runCtx may have expired with the delivery; settling gets its own budget
	settleCtx, settleCancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer settleCancel()

	if err == nil {
		w.stats.IncDelivered()
		w.prom.ObserveMail("delivered", elapsed)
		w.log.Info("job delivered", "job_id", c.Job.ID, "type", c.Job.Type, "attempt", c.Job.Attempts+1)
		return true, w.settled(c, w.queue.Ack(settleCtx, c))
	}

	return true, w.settled(c, w.handleFailure(settleCtx, c, err, elapsed))
}

// settled swallows ErrClaimLost: orphan recovery already handed the job to
// another consumer, which will run it again.
func (w *Worker) settled(c redisqueue.Claim, err error) error {
	if errors.Is(err, redisqueue.ErrClaimLost) {
		w.log.Warn("claim lost before settling", "job_id", c.Job.ID, "consumer", c.Consumer)
		return nil
	}
	return err
}

func (w *Worker) execute(ctx context.Context, j jobs.Job) error {
	decoded, err := jobs.DecodePayload(j)
	if err != nil {
		return fmt.Errorf("%w: %v", errPermanent, err)
	}

	switch p := decoded.(type) {
	case jobs.SendVerificationEmailPayload:
		return w.notifier.SendVerificationEmail(ctx, notifications.VerificationEmail{
			To:     p.Email,
			Name:   p.Name,
			URL:    p.URL,
			UserID: p.UserID,
		})
	default:
		return fmt.Errorf("%w: no handler for job type %q", errPermanent, j.Type)
	}
}

func (w *Worker) handleFailure(ctx context.Context, c redisqueue.Claim, cause error, elapsed time.Duration) error {
	j := &c.Job
	j.Attempts++
	msg := cause.Error()
	j.LastError = &msg

	if errors.Is(cause, errPermanent) || j.Exhausted() {
		w.stats.IncDeadLettered()
		w.prom.ObserveMail("dead_lettered", elapsed)
		w.log.Error("job dead-lettered",
			"job_id", j.ID,
			"type", j.Type,
			"attempts", j.Attempts,
			"err", cause,
		)
		return w.queue.DeadLetter(ctx, c)
	}

	runAt := w.now().Add(w.backoff(j.Attempts - 1))
	w.stats.IncRetried()
	w.prom.ObserveMail("retried", elapsed)
	w.log.Warn("job failed, retry scheduled",
		"job_id", j.ID,
		"type", j.Type,
		"attempts", j.Attempts,
		"run_at", runAt,
		"err", cause,
	)
	return w.queue.Retry(ctx, c, runAt)
}
