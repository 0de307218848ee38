package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	netmail "net/mail"
	"net/smtp"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"serima/config"
	"serima/core/utils"
)

type Message struct {
	From    string
	To      []string
	Cc      []string
	Subject string
	Body    string
}

func (m Message) recipients() []string {
	return append(append([]string{}, m.To...), m.Cc...)
}

// bytes renders the message as a plain text RFC 5322 mail.
func (m Message) bytes(now time.Time) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", m.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(m.To, ", "))
	if len(m.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\r\n", strings.Join(m.Cc, ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", m.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", now.UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(m.Body, "\n", "\r\n"))
	return b.Bytes()
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// NewSender picks the transport configured in cfg.Email.Transport.
func NewSender(cfg config.EmailConfig, logger *utils.Logger) (Sender, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Transport)) {
	case "", "file":
		return &FileSender{Dir: cfg.FileDir}, nil
	case "smtp":
		return &SMTPSender{Host: cfg.Host, Port: cfg.Port, Username: cfg.Username, Password: cfg.Password}, nil
	case "log":
		return &LogSender{Logger: logger}, nil
	case "sendgrid":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("sendgrid transport needs an api key")
		}
		return &SendGridSender{APIKey: cfg.APIKey, Host: cfg.APIHost}, nil
	}
	return nil, fmt.Errorf("unknown email transport %q", cfg.Transport)
}

// FileSender drops every message as an .eml file, for development setups.
type FileSender struct {
	Dir string
}

func (s *FileSender) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(s.Dir) == "" {
		return errors.New("email file dir not configured")
	}
	if err := os.MkdirAll(s.Dir, 0o750); err != nil {
		return err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	name := now.Format("20060102T150405") + "_" + id.String() + ".eml"
	return os.WriteFile(filepath.Join(s.Dir, name), msg.bytes(now), 0o640)
}

type SMTPSender struct {
	Host     string
	Port     int
	Username string
	Password string
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}
	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, msg.From, msg.recipients(), msg.bytes(time.Now()))
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogSender only writes the message to the log.
type LogSender struct {
	Logger *utils.Logger
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.Logger.Infow("email", "to", msg.To, "cc", msg.Cc, "subject", msg.Subject)
	return nil
}

const sendGridHost = "https://api.sendgrid.com"

// SendGridSender posts the message to the SendGrid v3 mail API.
type SendGridSender struct {
	APIKey string
	Host   string
}

func (s *SendGridSender) Send(ctx context.Context, msg Message) error {
	m := mail.NewV3Mail()
	m.SetFrom(parseAddress(msg.From))
	m.Subject = msg.Subject
	p := mail.NewPersonalization()
	for _, to := range msg.To {
		p.AddTos(parseAddress(to))
	}
	for _, cc := range msg.Cc {
		p.AddCCs(parseAddress(cc))
	}
	m.AddPersonalizations(p)
	m.AddContent(mail.NewContent("text/plain", msg.Body))

	host := strings.TrimRight(strings.TrimSpace(s.Host), "/")
	if host == "" {
		host = sendGridHost
	}
	req := sendgrid.GetRequest(s.APIKey, "/v3/mail/send", host)
	req.Method = "POST"
	req.Body = mail.GetRequestBody(m)
	resp, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

func parseAddress(raw string) *mail.Email {
	if addr, err := netmail.ParseAddress(raw); err == nil {
		return mail.NewEmail(addr.Name, addr.Address)
	}
	return mail.NewEmail("", strings.TrimSpace(raw))
}
