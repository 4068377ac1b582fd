package notifications

import (
	"context"
	"log/slog"
)

// LogNotifier "delivers" by writing a structured log line. It is the default
// when no SMTP host is configured.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) SendVerificationEmail(ctx context.Context, in VerificationEmail) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	n.log.InfoContext(ctx, "notification.verification_email",
		"to", in.To,
		"name", in.Name,
		"user_id", in.UserID,
		"url", in.URL,
	)
	return nil
}
