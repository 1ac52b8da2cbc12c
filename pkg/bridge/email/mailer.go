package email

import (
	"context"
	"fmt"
	"net/smtp"
)

// SMTPMailer sends login codes as plain-text mail through a single SMTP
// relay. Template rendering of the "check your inbox" / login-link page
// is external to this package; SMTPMailer only composes the minimal
// message body carrying the link the user follows back to /confirm.
type SMTPMailer struct {
	Addr       string // host:port of the SMTP relay
	From       string
	Auth       smtp.Auth // nil for relays that don't require authentication
	ConfirmURL func(sessionID, code string) string
}

// SendLoginCode composes and sends the login email synchronously.
func (m *SMTPMailer) SendLoginCode(_ context.Context, to, sessionID, code string) error {
	link := m.ConfirmURL(sessionID, code)
	body := fmt.Sprintf(
		"Subject: Your sign-in code\r\n\r\nYour code is %s.\r\nOr follow this link: %s\r\n",
		code, link,
	)
	return smtp.SendMail(m.Addr, m.Auth, m.From, []string{to}, []byte(body))
}
