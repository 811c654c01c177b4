package verify

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// SMTPMailer sends verification codes by email.
type SMTPMailer struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Logger   *slog.Logger

	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPMailer(host string, port int, username, password, from string, logger *slog.Logger) *SMTPMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTPMailer{
		Host: host, Port: port, Username: username, Password: password, From: from,
		Logger: logger,
		send:   smtp.SendMail,
	}
}

// SendCode reports whether the mail server accepted the message.
func (m *SMTPMailer) SendCode(ctx context.Context, address, code, displayName string) bool {
	if ctx.Err() != nil {
		return false
	}
	var auth smtp.Auth
	if m.Username != "" {
		auth = smtp.PlainAuth("", m.Username, m.Password, m.Host)
	}
	addr := net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
	if err := m.send(addr, auth, m.From, []string{address}, buildCodeMail(m.From, address, code, displayName)); err != nil {
		m.Logger.Warn("verification mail failed", "to", MaskEmail(address), "err", err)
		return false
	}
	m.Logger.Info("verification mail sent", "to", MaskEmail(address))
	return true
}

func buildCodeMail(from, to, code, displayName string) []byte {
	name := strings.TrimSpace(displayName)
	if name == "" {
		name = "there"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: Your verification code %s\r\n", code)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&b, "Hi %s,\r\n\r\nyour verification code is %s.\r\n", name, code)
	b.WriteString("Reply with this code in the chat to link your membership. It is valid for 24 hours.\r\n")
	return []byte(b.String())
}

// LogMailer writes codes to the log instead of sending them. Development only.
type LogMailer struct {
	Logger *slog.Logger
}

func (m LogMailer) SendCode(_ context.Context, address, code, _ string) bool {
	m.Logger.Warn("verification code (not mailed)", "to", MaskEmail(address), "code", code)
	return true
}
