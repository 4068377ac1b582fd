package jobs

// SendVerificationEmailPayload carries everything the worker needs to send a
// verification email without touching the user store.
type SendVerificationEmailPayload struct {
	UserID    string `json:"userId"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	URL       string `json:"url"`
	RequestID string `json:"requestId,omitempty"` // optional: correlation
}
