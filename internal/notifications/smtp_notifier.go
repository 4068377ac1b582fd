package notifications

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strconv"
	"time"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

var verificationBody = template.Must(template.New("verify").Parse(
	`<p>Hi {{if .Name}}{{.Name}}{{else}}there{{end}},</p>
<p>Confirm your email address by opening the link below.</p>
<p><a href="{{.URL}}">Verify email</a></p>
<p>If you did not create an account you can ignore this message.</p>
`))

// SMTPNotifier sends verification mail through a plain SMTP relay.
type SMTPNotifier struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	return &SMTPNotifier{cfg: cfg, send: smtp.SendMail}
}

func (n *SMTPNotifier) SendVerificationEmail(ctx context.Context, in VerificationEmail) error {
	msg, err := n.buildMessage(in)
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}

	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))

	// smtp.SendMail has no context; run it aside so the caller's deadline wins
	done := make(chan error, 1)
	go func() {
		done <- n.send(addr, auth, n.cfg.From, []string{in.To}, msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *SMTPNotifier) buildMessage(in VerificationEmail) ([]byte, error) {
	var body bytes.Buffer
	if err := verificationBody.Execute(&body, in); err != nil {
		return nil, fmt.Errorf("render verification email: %w", err)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", in.To)
	fmt.Fprintf(&msg, "Subject: Verify your email address\r\n")
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=\"utf-8\"\r\n\r\n")
	msg.Write(body.Bytes())

	return msg.Bytes(), nil
}
