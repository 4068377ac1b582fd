package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/geocoder89/authportal/internal/jobs"
)

// Enqueuer accepts jobs for asynchronous processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, job jobs.Job) error
}

// QueueNotifier hands verification mail to the worker instead of sending it
// inline, so sign-up latency does not depend on the SMTP relay.
type QueueNotifier struct {
	queue       Enqueuer
	maxAttempts int
}

func NewQueueNotifier(queue Enqueuer, maxAttempts int) *QueueNotifier {
	if maxAttempts <= 0 {
		maxAttempts = jobs.DefaultMaxAttempts
	}
	return &QueueNotifier{queue: queue, maxAttempts: maxAttempts}
}

func (n *QueueNotifier) SendVerificationEmail(ctx context.Context, in VerificationEmail) error {
	payload, err := jobs.EncodePayload(jobs.JobSendVerificationEmail, jobs.SendVerificationEmailPayload{
		UserID:    in.UserID,
		Email:     in.To,
		Name:      in.Name,
		URL:       in.URL,
		RequestID: requestIDFrom(ctx),
	})
	if err != nil {
		return fmt.Errorf("encode verification job: %w", err)
	}

	job, err := jobs.NewJob(jobs.JobSendVerificationEmail, payload, time.Time{})
	if err != nil {
		return err
	}
	job.MaxAttempts = n.maxAttempts

	if err := n.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueue verification job: %w", err)
	}
	return nil
}

type requestIDKey struct{}

// WithRequestID tags ctx so queued jobs can be correlated with the request
// that produced them.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}
