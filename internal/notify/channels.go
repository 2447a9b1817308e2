package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/wneessen/go-mail"
)

var (
	errMissingSMTPHost   = errors.New("smtp host is required")
	errMissingSender     = errors.New("sender address is required")
	errMissingWAToken    = errors.New("whatsapp token is required")
	errMissingWAPhoneID  = errors.New("whatsapp phone number id is required")
	errUnexpectedWAReply = errors.New("whatsapp api rejected message")
)

// Message is one notification addressed to a customer.
type Message struct {
	Subject string
	Body    string
	Email   string
	Phone   string
}

// Channel delivers messages over one medium.
type Channel interface {
	Name() string
	// Accepts reports whether msg carries an address for this channel.
	Accepts(msg Message) bool
	Send(ctx context.Context, msg Message) error
}

// MailSender is the part of a go-mail client used by EmailChannel.
type MailSender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// Sender overrides the SMTP client, mainly for tests.
	Sender MailSender
}

// EmailChannel sends plain text mail over SMTP.
type EmailChannel struct {
	from   string
	sender MailSender
}

func NewEmailChannel(cfg EmailConfig) (*EmailChannel, error) {
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errMissingSender
	}
	sender := cfg.Sender
	if sender == nil {
		if strings.TrimSpace(cfg.Host) == "" {
			return nil, errMissingSMTPHost
		}
		options := []mail.Option{
			mail.WithPort(cfg.Port),
			mail.WithTLSPolicy(mail.TLSOpportunistic),
		}
		if cfg.Username != "" {
			options = append(options,
				mail.WithSMTPAuth(mail.SMTPAuthPlain),
				mail.WithUsername(cfg.Username),
				mail.WithPassword(cfg.Password))
		}
		client, err := mail.NewClient(cfg.Host, options...)
		if err != nil {
			return nil, fmt.Errorf("smtp client: %w", err)
		}
		sender = client
	}
	return &EmailChannel{from: cfg.From, sender: sender}, nil
}

func (c *EmailChannel) Name() string {
	return "email"
}

func (c *EmailChannel) Accepts(msg Message) bool {
	return strings.TrimSpace(msg.Email) != ""
}

func (c *EmailChannel) Send(ctx context.Context, msg Message) error {
	envelope := mail.NewMsg()
	if err := envelope.From(c.from); err != nil {
		return fmt.Errorf("from address: %w", err)
	}
	if err := envelope.To(strings.TrimSpace(msg.Email)); err != nil {
		return fmt.Errorf("to address: %w", err)
	}
	envelope.Subject(msg.Subject)
	envelope.SetBodyString(mail.TypeTextPlain, msg.Body)
	return c.sender.DialAndSendWithContext(ctx, envelope)
}

type WhatsAppConfig struct {
	Token         string
	PhoneNumberID string
	APIBaseURL    string
	HTTPClient    *http.Client
}

// WhatsAppChannel sends text messages through the WhatsApp Business Cloud API.
type WhatsAppChannel struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

func NewWhatsAppChannel(cfg WhatsAppConfig) (*WhatsAppChannel, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errMissingWAToken
	}
	if strings.TrimSpace(cfg.PhoneNumberID) == "" {
		return nil, errMissingWAPhoneID
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	base := strings.TrimRight(cfg.APIBaseURL, "/")
	return &WhatsAppChannel{
		endpoint:   fmt.Sprintf("%s/%s/messages", base, cfg.PhoneNumberID),
		token:      cfg.Token,
		httpClient: httpClient,
	}, nil
}

func (c *WhatsAppChannel) Name() string {
	return "whatsapp"
}

func (c *WhatsAppChannel) Accepts(msg Message) bool {
	return normalizePhone(msg.Phone) != ""
}

type whatsAppText struct {
	Body string `json:"body"`
}

type whatsAppRequest struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             whatsAppText `json:"text"`
}

func (c *WhatsAppChannel) Send(ctx context.Context, msg Message) error {
	body := msg.Body
	if msg.Subject != "" {
		body = fmt.Sprintf("*%s*\n%s", msg.Subject, msg.Body)
	}
	payload, err := json.Marshal(whatsAppRequest{
		MessagingProduct: "whatsapp",
		To:               normalizePhone(msg.Phone),
		Type:             "text",
		Text:             whatsAppText{Body: body},
	})
	if err != nil {
		return err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	request.Header.Set("Authorization", "Bearer "+c.token)
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode/100 != 2 {
		detail, _ := io.ReadAll(io.LimitReader(response.Body, 2048))
		return fmt.Errorf("%w: status %d: %s", errUnexpectedWAReply, response.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

// normalizePhone keeps the digits of an international number.
func normalizePhone(phone string) string {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	return digits.String()
}
