package notifications

import "context"

type VerificationEmail struct {
	To   string
	Name string
	URL  string
	// UserID travels with queued deliveries for correlation.
	UserID string
}

// Notifier is the outbound mail collaborator used by email verification.
type Notifier interface {
	SendVerificationEmail(ctx context.Context, in VerificationEmail) error
}
