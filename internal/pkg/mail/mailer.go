package mail

import (
	"strconv"

	"github.com/altpay/saasbilling/internal/pkg/env"
	"gopkg.in/gomail.v2"
)

// SendMail delivers a single HTML mail via SMTP. Credentials come from the
// environment; an empty SMTP_HOST silently turns delivery into a no-op so
// local development does not need a mail server.
func SendMail(to string, subject string, body string) error {
	host := env.GetEnv("SMTP_HOST", "")
	if host == "" {
		return nil
	}
	port, err := strconv.Atoi(env.GetEnv("SMTP_PORT", "587"))
	if err != nil {
		port = 587
	}
	username := env.GetEnv("SMTP_USERNAME", "")
	password := env.GetEnv("SMTP_PASSWORD", "")
	sender := env.GetEnv("SMTP_SENDER", "no-reply@localhost")

	m := gomail.NewMessage()
	m.SetHeader("From", sender)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	d := gomail.NewDialer(host, port, username, password)
	return d.DialAndSend(m)
}
