package jobs

import (
	"net/url"
	"strings"
)

// ValidatePayload performs minimal validation on typed payloads.
func ValidatePayload(t JobType, payload any) error {
	if !t.IsValid() {
		return ErrInvalidJobType
	}

	trim := func(s string) string { return strings.TrimSpace(s) }

	switch t {
	case JobSendVerificationEmail:
		var p SendVerificationEmailPayload
		switch v := payload.(type) {
		case SendVerificationEmailPayload:
			p = v
		case *SendVerificationEmailPayload:
			p = *v
		default:
			return ErrPayloadTypeMismatch
		}

		if trim(p.UserID) == "" || !strings.Contains(p.Email, "@") {
			return ErrInvalidJobPayload
		}
		if u, err := url.Parse(p.URL); err != nil || u.Scheme == "" || u.Host == "" {
			return ErrInvalidJobPayload
		}
		return nil
	default:
		return ErrInvalidJobType
	}
}
