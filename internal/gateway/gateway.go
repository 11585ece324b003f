// Package gateway provides pluggable WhatsApp message delivery drivers.
//
// Three drivers are supported: the WaSender HTTP gateway (default), the
// Twilio WhatsApp API, and a directly linked device session via whatsmeow.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/fluxkit/wabot/internal/util"
)

// Constants for gateway configuration
const (
	// JIDSuffix is the WhatsApp JID suffix for regular users
	JIDSuffix = "s.whatsapp.net"
	// GroupJIDSuffix is the WhatsApp JID suffix for group chats
	GroupJIDSuffix = "g.us"
	// DefaultSendRetries is the number of delivery attempts per message
	DefaultSendRetries = 3
	// retry pacing bounds between delivery attempts
	RetryDelayMin = 3 * time.Second
	RetryDelayMax = 6 * time.Second
)

// phoneNumberRegex matches all non-numeric characters for canonicalization.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Sender is an interface for sending WhatsApp messages (for production and testing).
// SendText and SendGroupText return the gateway-assigned message ID when the
// driver exposes one, or an empty string otherwise.
type Sender interface {
	SendText(ctx context.Context, to string, body string) (string, error)
	SendGroupText(ctx context.Context, groupJID string, body string) (string, error)
	Name() string
}

// CanonicalizePhone validates and canonicalizes a WhatsApp phone number.
// It removes all non-numeric characters, validates the digit count, and
// prefixes the Indian country code for bare 10-digit mobile numbers.
func CanonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}

	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}

	// Indian mobile numbers start with 6-9; a bare 10-digit number gets the
	// country code prefixed.
	if len(canonical) == 10 && canonical[0] >= '6' && canonical[0] <= '9' {
		canonical = "91" + canonical
	}

	if len(canonical) < 10 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 10 digits required)", canonical)
	}
	if len(canonical) > 15 {
		return "", fmt.Errorf("invalid phone number: %q is too long (maximum 15 digits allowed)", canonical)
	}

	if recipient != canonical {
		slog.Debug("gateway canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// PhoneToJID converts a canonical phone number to its WhatsApp JID form.
func PhoneToJID(phone string) string {
	return phone + "@" + JIDSuffix
}

// JIDToPhone strips the JID suffix, returning the bare phone number.
func JIDToPhone(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		return jid[:i]
	}
	return jid
}

// IsGroupJID reports whether the JID addresses a group chat.
func IsGroupJID(jid string) bool {
	return strings.HasSuffix(jid, "@"+GroupJIDSuffix)
}

// SendWithRetry sends a text message through the sender, retrying failed
// attempts with a randomized delay. It returns the gateway message ID of the
// successful attempt.
func SendWithRetry(ctx context.Context, s Sender, to string, body string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= DefaultSendRetries; attempt++ {
		id, err := s.SendText(ctx, to, body)
		if err == nil {
			if attempt > 1 {
				slog.Info("gateway send succeeded after retry", "driver", s.Name(), "to", to, "attempt", attempt)
			}
			return id, nil
		}
		lastErr = err
		slog.Warn("gateway send attempt failed", "driver", s.Name(), "to", to, "attempt", attempt, "error", err)
		if attempt < DefaultSendRetries {
			select {
			case <-time.After(util.Jitter(RetryDelayMin, RetryDelayMax)):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", fmt.Errorf("send to %s failed after %d attempts: %w", to, DefaultSendRetries, lastErr)
}
