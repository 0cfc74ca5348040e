package mail

import (
	"fmt"
	"log"
	"net/smtp"

	"github.com/zuri-app/zuri/internal/pkg/env"
)

// SendMail sends an HTML email via SMTP. Returns an error when SMTP is not
// configured so callers can decide whether delivery is mandatory.
func SendMail(to string, subject string, body string) error {
	host := env.GetEnv("SMTP_HOST", "")
	port := env.GetEnv("SMTP_PORT", "")
	username := env.GetEnv("SMTP_USERNAME", "")
	password := env.GetEnv("SMTP_PASSWORD", "")
	sender := env.GetEnv("SMTP_SENDER", "")

	if host == "" || port == "" {
		return fmt.Errorf("smtp is not configured")
	}
	if sender == "" {
		sender = "no-reply@localhost"
		log.Printf("SMTP_SENDER not set, using default sender: %s", sender)
	}

	var auth smtp.Auth
	if username != "" && password != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}

	addr := fmt.Sprintf("%s:%s", host, port)

	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", sender, to, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			body,
	)

	err := smtp.SendMail(addr, auth, sender, []string{to}, msg)
	if err != nil {
		log.Printf("SMTP send error: %v", err)
	} else {
		log.Printf("Email sent to %s via %s", to, addr)
	}
	return err
}

// BillingEmailBody wraps a billing notification message in the standard
// email layout.
func BillingEmailBody(title string, message string) string {
	return fmt.Sprintf(
		"<html><body>"+
			"<h2>%s</h2>"+
			"<p>%s</p>"+
			"<p>Equipe ZURI</p>"+
			"</body></html>",
		title, message,
	)
}
