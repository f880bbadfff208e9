package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"time"

	"github.com/redmonkez12/go-auth-api/internal/logging"
)

const (
	verificationSubject = "Bitte bestätige deine E-Mail-Adresse"
	resetSubject        = "Passwort zurücksetzen"
)

var layout = template.Must(template.New("layout").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #4F46E5; color: white; padding: 20px; text-align: center; border-radius: 5px 5px 0 0; }
        .content { background-color: #f9f9f9; padding: 30px; border-radius: 0 0 5px 5px; }
        .button { display: inline-block; background-color: #4F46E5; color: white !important; padding: 12px 30px; text-decoration: none; border-radius: 5px; margin: 20px 0; }
        .footer { margin-top: 30px; font-size: 12px; color: #666; text-align: center; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.Title}}</h1>
    </div>
    <div class="content">
        <p>{{.Intro}}</p>
        <a href="{{.Link}}" class="button" style="color: white !important;">{{.Action}}</a>
        <p>Falls der Button nicht funktioniert, kopiere diesen Link in deinen Browser:</p>
        <p><a href="{{.Link}}">{{.Link}}</a></p>
        <p>{{.Validity}}</p>
    </div>
    <div class="footer">
        <p>{{.Footer}}</p>
    </div>
</body>
</html>
`))

type page struct {
	Title    string
	Intro    string
	Action   string
	Link     string
	Validity string
	Footer   string
}

// Mailer renders the account emails and hands them to a Sender.
type Mailer struct {
	sender      Sender
	frontendURL string
	linkTTL     time.Duration
}

// NewMailer builds links against frontendURL. linkTTL is only stated in the
// message text.
func NewMailer(sender Sender, frontendURL string, linkTTL time.Duration) *Mailer {
	return &Mailer{
		sender:      sender,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		linkTTL:     linkTTL,
	}
}

// SendVerificationEmail sends the link that verifies toEmail.
func (m *Mailer) SendVerificationEmail(ctx context.Context, toEmail, token string) error {
	logger := logging.GetLoggerFromContext(ctx)

	link := m.link("/verify-email", url.Values{"token": {token}, "email": {toEmail}})
	msg, err := m.render(toEmail, verificationSubject, page{
		Title:  "Willkommen!",
		Intro:  "Klicke auf den folgenden Link, um deinen Account zu verifizieren:",
		Action: "Account verifizieren",
		Link:   link,
		Footer: "Falls du dich nicht registriert hast, kannst du diese E-Mail ignorieren.",
	})
	if err != nil {
		return fmt.Errorf("render template: %w", err)
	}

	if err := m.sender.Send(ctx, msg); err != nil {
		logger.Error("failed to send verification email", "email", toEmail, "error", err)
		return fmt.Errorf("send email: %w", err)
	}

	logger.Info("verification email sent", "email", toEmail)
	return nil
}

// SendPasswordResetEmail sends the link that resets toEmail's password.
func (m *Mailer) SendPasswordResetEmail(ctx context.Context, toEmail, token string) error {
	logger := logging.GetLoggerFromContext(ctx)

	link := m.link("/reset-password", url.Values{"token": {token}})
	msg, err := m.render(toEmail, resetSubject, page{
		Title:  "Passwort zurücksetzen",
		Intro:  "Klicken Sie auf den folgenden Link, um Ihr Passwort zurückzusetzen:",
		Action: "Passwort zurücksetzen",
		Link:   link,
		Footer: "Falls Sie kein neues Passwort angefordert haben, können Sie diese E-Mail ignorieren.",
	})
	if err != nil {
		return fmt.Errorf("render template: %w", err)
	}

	if err := m.sender.Send(ctx, msg); err != nil {
		logger.Error("failed to send password reset email", "email", toEmail, "error", err)
		return fmt.Errorf("send email: %w", err)
	}

	logger.Info("password reset email sent", "email", toEmail)
	return nil
}

func (m *Mailer) link(path string, query url.Values) string {
	return m.frontendURL + path + "?" + query.Encode()
}

func (m *Mailer) render(to, subject string, p page) (Message, error) {
	p.Validity = validity(m.linkTTL)

	var buf bytes.Buffer
	if err := layout.Execute(&buf, p); err != nil {
		return Message{}, err
	}

	text := fmt.Sprintf("%s %s\n\n%s", p.Intro, p.Link, p.Validity)

	return Message{To: to, Subject: subject, Text: text, HTML: buf.String()}, nil
}

func validity(ttl time.Duration) string {
	hours := int(ttl.Round(time.Hour) / time.Hour)
	if hours <= 1 {
		return "Der Link ist 1 Stunde gültig."
	}
	return fmt.Sprintf("Der Link ist %d Stunden gültig.", hours)
}
