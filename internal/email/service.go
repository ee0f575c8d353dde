// Package email provides email sending capabilities via SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"net/smtp"
	"strings"
	"time"
)

// ErrNotConfigured is returned when SMTP settings are missing.
var ErrNotConfigured = errors.New("email not configured")

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

// NewService creates a new email service
func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// Message is one outgoing email.
type Message struct {
	To        []string
	ReplyTo   string
	Subject   string
	PlainBody string
	HTMLBody  string
}

// Send delivers msg as multipart/alternative (plain text and HTML).
func (s *Service) Send(msg Message) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	if len(msg.To) == 0 {
		return errors.New("email has no recipients")
	}
	return s.send(s.server, s.auth, s.config.From, msg.To, s.compose(msg))
}

func (s *Service) compose(msg Message) []byte {
	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", s.config.FromName), s.config.From)
	}
	boundary := "boundary-panel"

	var b bytes.Buffer
	fmt.Fprintf(&b, "To: %s\r\n", headerValue(strings.Join(msg.To, ", ")))
	fmt.Fprintf(&b, "From: %s\r\n", headerValue(from))
	if msg.ReplyTo != "" {
		fmt.Fprintf(&b, "Reply-To: %s\r\n", headerValue(msg.ReplyTo))
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", headerValue(msg.Subject)))
	fmt.Fprintf(&b, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&b, "\r\n")

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	fmt.Fprintf(&b, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&b, "\r\n")
	fmt.Fprintf(&b, "%s\r\n", msg.PlainBody)
	fmt.Fprintf(&b, "\r\n")

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	fmt.Fprintf(&b, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&b, "\r\n")
	fmt.Fprintf(&b, "%s\r\n", msg.HTMLBody)
	fmt.Fprintf(&b, "\r\n")
	fmt.Fprintf(&b, "--%s--\r\n", boundary)
	return b.Bytes()
}

// headerValue strips line breaks so user input cannot add headers.
func headerValue(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}

// ContactData is a message left through the public contact form.
type ContactData struct {
	Name       string
	Email      string
	Phone      string
	Subject    string
	Message    string
	ReceivedAt time.Time
}

// SendContact forwards a contact-form message to the college inbox. Replies
// go straight to the sender.
func (s *Service) SendContact(to string, data ContactData) error {
	html, err := renderTemplate(contactEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render contact template: %w", err)
	}
	subject := "Consulta web"
	if data.Subject != "" {
		subject += ": " + data.Subject
	}
	plain := fmt.Sprintf("Nombre: %s\nEmail: %s\nTeléfono: %s\n\n%s", data.Name, data.Email, data.Phone, data.Message)
	return s.Send(Message{
		To:        []string{to},
		ReplyTo:   data.Email,
		Subject:   subject,
		PlainBody: plain,
		HTMLBody:  html,
	})
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const contactEmailTemplate = `<!DOCTYPE html>
<html lang="es">
<head>
    <meta charset="UTF-8">
    <title>Consulta web</title>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #1f4e79; padding-bottom: 10px; margin-bottom: 20px; }
        table { border-collapse: collapse; }
        th { text-align: left; padding-right: 12px; color: #555; }
        .message { white-space: pre-wrap; background: #f5f7fa; padding: 12px; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>Nueva consulta desde el sitio web</h1>
    </div>

    <table>
        <tr><th>Nombre</th><td>{{.Name}}</td></tr>
        <tr><th>Email</th><td>{{.Email}}</td></tr>
        {{if .Phone}}<tr><th>Teléfono</th><td>{{.Phone}}</td></tr>{{end}}
        {{if .Subject}}<tr><th>Asunto</th><td>{{.Subject}}</td></tr>{{end}}
    </table>

    <div class="message">{{.Message}}</div>

    <div class="footer">
        <p>Recibido el {{.ReceivedAt.Format "02/01/2006 15:04"}}. Responda este correo para contestar al remitente.</p>
    </div>
</body>
</html>`
