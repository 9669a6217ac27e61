package mail

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/smtp"
	"text/template"

	"github.com/scamphub/scamp-backend/config"
)

// Mailer delivers account lifecycle emails. Callers treat delivery as
// fire-and-forget; a returned error is logged, never surfaced to the client.
type Mailer interface {
	SendSignupVerifyPin(email, username, pin string) error
	SendSignupSuccess(email string) error
	SendSignupResetPin(email, username, pin string) error
	SendResetPassword(email, username, newPassword string) error
}

var signupTmpl = template.Must(template.New("signup").Parse(
	`Hello {{.Username}},

Welcome! Confirm your email address by opening the link below:

{{.URL}}

If you did not create this account, ignore this message.`))

var signupSuccessTmpl = template.Must(template.New("signup-success").Parse(
	`Your email address is now verified. Have fun!`))

var resetPinTmpl = template.Must(template.New("signup-reset-pin").Parse(
	`Hello {{.Username}},

Your new verification code is:

{{.Code}}`))

var resetPasswordTmpl = template.Must(template.New("reset-password").Parse(
	`Hello {{.Username}},

Your password has been changed. Your new password is:

{{.NewPassword}}`))

var _ Mailer = (*SMTPMailer)(nil)

// SMTPMailer sends templated messages over plain SMTP.
type SMTPMailer struct {
	cfg    config.SMTPConfig
	logger *slog.Logger
}

func NewSMTPMailer(cfg config.SMTPConfig, logger *slog.Logger) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, logger: logger}
}

func (m *SMTPMailer) send(to, subject string, tmpl *template.Template, data any) error {
	var body bytes.Buffer
	if err := tmpl.Execute(&body, data); err != nil {
		return fmt.Errorf("render template %s: %w", tmpl.Name(), err)
	}

	addr := m.cfg.Host + ":" + m.cfg.Port
	auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)

	msg := []byte("From: " + m.cfg.From + "\r\n" +
		"To: " + to + "\r\n" +
		"Subject: " + subject + "\r\n\r\n" +
		body.String() + "\r\n")

	if err := smtp.SendMail(addr, auth, m.cfg.From, []string{to}, msg); err != nil {
		return fmt.Errorf("send mail via %s: %w", addr, err)
	}
	m.logger.Info("Email sent", slog.String("template", tmpl.Name()), slog.String("to", to))
	return nil
}

func (m *SMTPMailer) SendSignupVerifyPin(email, username, pin string) error {
	url := fmt.Sprintf("%s/%s/%s", m.cfg.VerifyURL, email, pin)
	return m.send(email, "Confirm your email", signupTmpl, struct {
		Username string
		URL      string
	}{username, url})
}

func (m *SMTPMailer) SendSignupSuccess(email string) error {
	return m.send(email, "Welcome aboard", signupSuccessTmpl, nil)
}

func (m *SMTPMailer) SendSignupResetPin(email, username, pin string) error {
	return m.send(email, "Your new verification code", resetPinTmpl, struct {
		Username string
		Code     string
	}{username, pin})
}

func (m *SMTPMailer) SendResetPassword(email, username, newPassword string) error {
	return m.send(email, "Your password was reset", resetPasswordTmpl, struct {
		Username    string
		NewPassword string
	}{username, newPassword})
}

var _ Mailer = (*LogMailer)(nil)

// LogMailer logs messages instead of delivering them. Used in development
// and wherever SMTP is disabled in config.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendSignupVerifyPin(email, username, pin string) error {
	m.logger.Info("mail: signup verify pin", slog.String("to", email), slog.String("username", username), slog.String("pin", pin))
	return nil
}

func (m *LogMailer) SendSignupSuccess(email string) error {
	m.logger.Info("mail: signup success", slog.String("to", email))
	return nil
}

func (m *LogMailer) SendSignupResetPin(email, username, pin string) error {
	m.logger.Info("mail: signup reset pin", slog.String("to", email), slog.String("username", username), slog.String("pin", pin))
	return nil
}

func (m *LogMailer) SendResetPassword(email, username, newPassword string) error {
	m.logger.Info("mail: reset password", slog.String("to", email), slog.String("username", username))
	return nil
}

// FromConfig picks the SMTP mailer when enabled, the log mailer otherwise.
func FromConfig(cfg config.SMTPConfig, logger *slog.Logger) Mailer {
	if cfg.Enabled {
		return NewSMTPMailer(cfg, logger)
	}
	return NewLogMailer(logger)
}
