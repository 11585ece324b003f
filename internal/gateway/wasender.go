package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// Constants for WaSender driver configuration
const (
	// DefaultWaSenderBaseURL is the hosted WaSender API endpoint
	DefaultWaSenderBaseURL = "https://wasenderapi.com"
	// DefaultWaSenderTimeout bounds a single HTTP send
	DefaultWaSenderTimeout = 20 * time.Second
)

// WaSenderOpts holds configuration options for the WaSender driver.
type WaSenderOpts struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// WaSenderOption defines a configuration option for the WaSender driver.
type WaSenderOption func(*WaSenderOpts)

// WithWaSenderBaseURL overrides the API base URL.
func WithWaSenderBaseURL(url string) WaSenderOption {
	return func(o *WaSenderOpts) { o.BaseURL = url }
}

// WithWaSenderAPIKey sets the bearer token explicitly instead of reading
// WASENDER_API_KEY.
func WithWaSenderAPIKey(key string) WaSenderOption {
	return func(o *WaSenderOpts) { o.APIKey = key }
}

// WithWaSenderHTTPClient injects a custom HTTP client.
func WithWaSenderHTTPClient(c *http.Client) WaSenderOption {
	return func(o *WaSenderOpts) { o.HTTPClient = c }
}

// WaSender sends messages through the WaSender HTTP gateway.
type WaSender struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewWaSender creates a WaSender driver. The API key is taken from the
// options or from the WASENDER_API_KEY environment variable.
func NewWaSender(opts ...WaSenderOption) (*WaSender, error) {
	var cfg WaSenderOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("WASENDER_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("WASENDER_API_KEY not set")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultWaSenderBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultWaSenderTimeout}
	}
	return &WaSender{baseURL: cfg.BaseURL, apiKey: cfg.APIKey, client: cfg.HTTPClient}, nil
}

// Name identifies the driver.
func (w *WaSender) Name() string { return "wasender" }

// SendText sends a text message to a phone number.
func (w *WaSender) SendText(ctx context.Context, to string, body string) (string, error) {
	canonical, err := CanonicalizePhone(to)
	if err != nil {
		return "", err
	}
	return w.send(ctx, map[string]any{"to": PhoneToJID(canonical), "text": body})
}

// SendGroupText sends a text message to a group JID.
func (w *WaSender) SendGroupText(ctx context.Context, groupJID string, body string) (string, error) {
	if !IsGroupJID(groupJID) {
		return "", fmt.Errorf("not a group JID: %q", groupJID)
	}
	return w.send(ctx, map[string]any{"to": groupJID, "text": body})
}

// SendImage sends an image by URL with an optional caption.
func (w *WaSender) SendImage(ctx context.Context, to string, imageURL, caption string) (string, error) {
	canonical, err := CanonicalizePhone(to)
	if err != nil {
		return "", err
	}
	payload := map[string]any{"to": PhoneToJID(canonical), "imageUrl": imageURL}
	if caption != "" {
		payload["text"] = caption
	}
	return w.send(ctx, payload)
}

func (w *WaSender) send(ctx context.Context, payload map[string]any) (string, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal send payload failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/api/send-message", bytes.NewReader(buf))
	if err != nil {
		return "", fmt.Errorf("build send request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.apiKey)

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read send response failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, respBody)
	}

	id := extractMessageID(respBody)
	slog.Debug("WaSender.send", "to", payload["to"], "status", resp.StatusCode, "messageID", id)
	return id, nil
}

// extractMessageID pulls the gateway message ID from a response document.
// Gateways vary in field naming, so several common keys are probed.
func extractMessageID(body []byte) string {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return ""
	}
	for _, key := range []string{"messageId", "message_id", "id", "msgId"} {
		if id := stringValue(doc[key]); id != "" {
			return id
		}
	}
	if data, ok := doc["data"].(map[string]any); ok {
		for _, key := range []string{"messageId", "message_id", "id", "msgId"} {
			if id := stringValue(data[key]); id != "" {
				return id
			}
		}
	}
	return ""
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%.0f", t)
	default:
		return ""
	}
}
