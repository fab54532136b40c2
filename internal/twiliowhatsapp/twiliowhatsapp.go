// Package twiliowhatsapp carries feedback conversations over WhatsApp through the Twilio API.
package twiliowhatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/twilio/twilio-go"
	twilioClient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// SignatureHeader carries Twilio's request signature.
const SignatureHeader = "X-Twilio-Signature"

const whatsappPrefix = "whatsapp:"

var (
	// ErrMissingFields is returned when an inbound webhook lacks From or Body.
	ErrMissingFields = errors.New("webhook missing required fields")
	// ErrInvalidNumber is returned when a phone number has too few digits.
	ErrInvalidNumber = errors.New("invalid phone number")

	nonDigits = regexp.MustCompile(`[^0-9]`)
)

// Sender delivers a text reply to a WhatsApp number.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// WebhookValidator checks that an inbound request came from Twilio.
type WebhookValidator interface {
	ValidateRequest(r *http.Request) bool
}

// Inbound is a message received on the webhook.
type Inbound struct {
	From string
	Body string
}

// Opts holds configuration options for the Twilio WhatsApp client.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
	WebhookURL string
}

// Option defines a configuration option for the Twilio WhatsApp client.
type Option func(*Opts)

// WithAccountSID sets the account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the auth token used for REST calls and signature checks.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromWhats sets the sending number, with or without the whatsapp: prefix.
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// WithWebhookURL sets the public webhook URL. Signatures are only checked when it is set.
func WithWebhookURL(url string) Option {
	return func(o *Opts) { o.WebhookURL = url }
}

// Client wraps Twilio REST API for WhatsApp
type Client struct {
	client     *twilio.RestClient
	fromWhats  string // WhatsApp number in "whatsapp:+1234567890" format
	webhookURL string
	validator  twilioClient.RequestValidator
}

// NewClient creates a client. Missing options fall back to TWILIO_* environment variables.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_FROM_NUMBER")
	}
	if cfg.WebhookURL == "" {
		cfg.WebhookURL = os.Getenv("TWILIO_WEBHOOK_URL")
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromWhats_set", cfg.FromWhats != "",
		"WebhookURL_set", cfg.WebhookURL != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("fromWhats number must be provided")
	}
	from := cfg.FromWhats
	if !strings.HasPrefix(from, whatsappPrefix) {
		from = whatsappPrefix + from
	}

	client := twilio.NewRestClientWithParams(
		twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		},
	)

	return &Client{
		client:     client,
		fromWhats:  from,
		webhookURL: cfg.WebhookURL,
		validator:  twilioClient.NewRequestValidator(cfg.AuthToken),
	}, nil
}

// SendMessage sends a WhatsApp message using Twilio API
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	canonical, err := CanonicalizeNumber(to)
	if err != nil {
		return err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(whatsappPrefix + "+" + canonical)
	params.SetFrom(c.fromWhats)
	params.SetBody(body)

	if _, err := c.client.Api.CreateMessage(params); err != nil {
		slog.Error("Twilio SendMessage failed", "to", canonical, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", canonical, err)
	}

	slog.Debug("Twilio message sent", "to", canonical)
	return nil
}

// ValidateRequest checks the X-Twilio-Signature header against the form
// parameters. It accepts every request when no webhook URL is configured.
func (c *Client) ValidateRequest(r *http.Request) bool {
	if c.webhookURL == "" {
		return true
	}
	if err := r.ParseForm(); err != nil {
		slog.Warn("Twilio ValidateRequest: failed to parse form", "error", err)
		return false
	}
	params := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	ok := c.validator.Validate(c.webhookURL, params, r.Header.Get(SignatureHeader))
	if !ok {
		slog.Warn("Twilio ValidateRequest: signature mismatch", "remote", r.RemoteAddr)
	}
	return ok
}

// ParseInbound reads From and Body from a Twilio webhook form. The
// whatsapp: prefix is removed from the sender.
func ParseInbound(r *http.Request) (Inbound, error) {
	if err := r.ParseForm(); err != nil {
		return Inbound{}, fmt.Errorf("failed to parse webhook form: %w", err)
	}
	in := Inbound{
		From: strings.TrimPrefix(r.FormValue("From"), whatsappPrefix),
		Body: r.FormValue("Body"),
	}
	if in.From == "" || strings.TrimSpace(in.Body) == "" {
		return Inbound{}, ErrMissingFields
	}
	return in, nil
}

// CanonicalizeNumber strips everything but digits and requires at least 6 of them.
func CanonicalizeNumber(number string) (string, error) {
	canonical := nonDigits.ReplaceAllString(number, "")
	if len(canonical) < 6 {
		return "", fmt.Errorf("%w: %q", ErrInvalidNumber, number)
	}
	return canonical, nil
}

// MockClient records sent messages instead of calling Twilio.
type MockClient struct {
	mu           sync.Mutex
	SentMessages []SentMessage
	Err          error
}

// SentMessage is one recorded send.
type SentMessage struct {
	To   string
	Body string
}

func NewMockClient() *MockClient {
	return &MockClient{SentMessages: []SentMessage{}}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return nil
}

// Sent returns a copy of the recorded messages.
func (m *MockClient) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.SentMessages...)
}
