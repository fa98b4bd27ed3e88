package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/pollpulse/backend/pkg/config"
)

// NopMailer is used when email credentials are missing.
type NopMailer struct{}

func (NopMailer) SendEmail(context.Context, EmailMessage) error {
	return ErrNotConfigured
}

// NewMailer builds the configured email transport. Missing credentials give a
// NopMailer and a warning, never an error.
func NewMailer(cfg config.EmailConfig, timeout time.Duration, log *zap.Logger) Mailer {
	if log == nil {
		log = zap.NewNop()
	}

	to := splitAddresses(cfg.To)
	if len(to) == 0 || strings.TrimSpace(cfg.From) == "" {
		log.Warn("Email alerts disabled: sender or recipient not configured")
		return NopMailer{}
	}

	switch cfg.Provider {
	case "sendgrid":
		if strings.TrimSpace(cfg.SendGridAPIKey) == "" {
			log.Warn("Email alerts disabled: SENDGRID_API_KEY not set")
			return NopMailer{}
		}
		return NewSendGridMailer(cfg.SendGridAPIKey, "", cfg.From, to, timeout)
	case "", "smtp":
		if cfg.SMTPHost == "" || cfg.SMTPUser == "" || cfg.SMTPPass == "" {
			log.Warn("Email alerts disabled: SMTP credentials not set")
			return NopMailer{}
		}
		return &SMTPMailer{
			host:     cfg.SMTPHost,
			port:     cfg.SMTPPort,
			username: cfg.SMTPUser,
			password: cfg.SMTPPass,
			from:     cfg.From,
			to:       to,
			timeout:  timeout,
		}
	default:
		log.Warn("Email alerts disabled: unknown provider", zap.String("provider", cfg.Provider))
		return NopMailer{}
	}
}

const smtpsPort = 465

// SMTPMailer delivers over SMTP, upgrading with STARTTLS when the server
// offers it. Port 465 uses implicit TLS.
type SMTPMailer struct {
	host     string
	port     int
	username string
	password string
	from     string
	to       []string
	timeout  time.Duration
}

func (m *SMTPMailer) SendEmail(ctx context.Context, msg EmailMessage) error {
	message, err := newMessage(m.from, m.to, msg, time.Now())
	if err != nil {
		return err
	}

	opts := []mail.Option{
		mail.WithPort(m.port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(m.username),
		mail.WithPassword(m.password),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if m.port == smtpsPort {
		opts = append(opts, mail.WithSSL())
	}
	if m.timeout > 0 {
		opts = append(opts, mail.WithTimeout(m.timeout))
	}

	client, err := mail.NewClient(m.host, opts...)
	if err != nil {
		return fmt.Errorf("failed to create smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, message); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// newMessage builds the alert. go-mail encodes the headers; line breaks are
// stripped from the subject first.
func newMessage(from string, to []string, msg EmailMessage, now time.Time) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", from, err)
	}
	if err := m.To(to...); err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}
	m.Subject(headerSafe(msg.Subject))
	m.SetDateWithValue(now)
	m.SetBodyString(mail.TypeTextPlain, msg.Body)
	return m, nil
}

func headerSafe(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// SendGridMailer delivers through the SendGrid v3 mail send API.
type SendGridMailer struct {
	apiKey     string
	baseURL    string
	from       string
	to         []string
	httpClient *http.Client
}

func NewSendGridMailer(apiKey, baseURL, from string, to []string, timeout time.Duration) *SendGridMailer {
	if baseURL == "" {
		baseURL = "https://api.sendgrid.com"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &SendGridMailer{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		from:       from,
		to:         to,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type sgAddress struct {
	Email string `json:"email"`
}

type sgPersonalization struct {
	To []sgAddress `json:"to"`
}

type sgContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sgMailSend struct {
	Personalizations []sgPersonalization `json:"personalizations"`
	From             sgAddress           `json:"from"`
	Subject          string              `json:"subject"`
	Content          []sgContent         `json:"content"`
}

func (m *SendGridMailer) SendEmail(ctx context.Context, msg EmailMessage) error {
	to := make([]sgAddress, 0, len(m.to))
	for _, addr := range m.to {
		to = append(to, sgAddress{Email: addr})
	}

	body, err := json.Marshal(sgMailSend{
		Personalizations: []sgPersonalization{{To: to}},
		From:             sgAddress{Email: m.from},
		Subject:          msg.Subject,
		Content:          []sgContent{{Type: "text/plain", Value: msg.Body}},
	})
	if err != nil {
		return fmt.Errorf("failed to encode email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create sendgrid request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call sendgrid: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sendgrid returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func splitAddresses(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if addr := strings.TrimSpace(part); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}
