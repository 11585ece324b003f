package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// twilioMessageCreator is the slice of the Twilio REST API the driver uses.
type twilioMessageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioOpts holds configuration options for the Twilio driver.
type TwilioOpts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
}

// TwilioOption defines a configuration option for the Twilio driver.
type TwilioOption func(*TwilioOpts)

// WithTwilioAccountSID sets the Twilio account SID.
func WithTwilioAccountSID(sid string) TwilioOption {
	return func(o *TwilioOpts) { o.AccountSID = sid }
}

// WithTwilioAuthToken sets the Twilio auth token.
func WithTwilioAuthToken(token string) TwilioOption {
	return func(o *TwilioOpts) { o.AuthToken = token }
}

// WithTwilioFromNumber sets the sending WhatsApp number in
// "whatsapp:+1234567890" format.
func WithTwilioFromNumber(from string) TwilioOption {
	return func(o *TwilioOpts) { o.FromWhats = from }
}

// TwilioSender sends messages through the Twilio WhatsApp API.
type TwilioSender struct {
	api       twilioMessageCreator
	fromWhats string
}

// NewTwilioSender creates a Twilio driver, falling back to the
// TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, and TWILIO_FROM_NUMBER environment
// variables for unset options.
func NewTwilioSender(opts ...TwilioOption) (*TwilioSender, error) {
	var cfg TwilioOpts
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

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("from number must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioSender{api: client.Api, fromWhats: cfg.FromWhats}, nil
}

// Name identifies the driver.
func (t *TwilioSender) Name() string { return "twilio" }

// SendText sends a WhatsApp message through the Twilio API.
func (t *TwilioSender) SendText(ctx context.Context, to string, body string) (string, error) {
	canonical, err := CanonicalizePhone(to)
	if err != nil {
		return "", err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo("whatsapp:+" + canonical)
	params.SetFrom(t.fromWhats)
	params.SetBody(body)

	resp, err := t.api.CreateMessage(params)
	if err != nil {
		slog.Error("TwilioSender.SendText failed", "to", canonical, "error", err)
		return "", fmt.Errorf("failed to send message to %s: %w", canonical, err)
	}

	var sid string
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	slog.Debug("TwilioSender.SendText", "to", canonical, "sid", sid)
	return sid, nil
}

// SendGroupText is unsupported; the Twilio WhatsApp API has no group
// messaging endpoint.
func (t *TwilioSender) SendGroupText(ctx context.Context, groupJID string, body string) (string, error) {
	return "", fmt.Errorf("twilio driver does not support group messages")
}
