package services

import (
	"context"
	"fmt"
	"html"

	"github.com/resend/resend-go/v2"
	"github.com/sirupsen/logrus"
)

// EmailSender delivers one HTML e-mail.
type EmailSender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

type EmailService struct {
	Client *resend.Client
	From   string
	log    *logrus.Entry
}

func NewEmailService(apiKey, fromEmail string, log *logrus.Entry) *EmailService {
	if fromEmail == "" {
		fromEmail = "onboarding@resend.dev" // Resend's default test sender
	}
	return &EmailService{
		Client: resend.NewClient(apiKey),
		From:   fromEmail,
		log:    log,
	}
}

func (es *EmailService) Send(ctx context.Context, to, subject, htmlBody string) error {
	params := &resend.SendEmailRequest{
		From:    es.From,
		To:      []string{to},
		Subject: subject,
		Html:    htmlBody,
	}

	sent, err := es.Client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	es.log.WithFields(logrus.Fields{"to": to, "id": sent.Id}).Debug("Email sent")
	return nil
}

func renderNotificationEmail(title, message string) string {
	return fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .footer { margin-top: 30px; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="container">
        <h2>%s</h2>
        <p>%s</p>
        <div class="footer">
            <p>This is an automated message, please do not reply.</p>
        </div>
    </div>
</body>
</html>
`, html.EscapeString(title), html.EscapeString(message))
}
