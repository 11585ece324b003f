package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/fluxkit/wabot/internal/models"
	"github.com/fluxkit/wabot/internal/store"
)

// DefaultSessionPath is the default path for the device session SQLite database.
const DefaultSessionPath = "/var/lib/wabot/session.db"

// MessageHandler receives inbound text messages from the linked device.
type MessageHandler func(phone, body, messageID string, ts time.Time)

// ReceiptHandler receives delivery and read receipts from the linked device.
type ReceiptHandler func(messageID string, status models.MessageStatus)

// GroupListing describes one group the linked device participates in.
type GroupListing struct {
	JID          string
	Name         string
	Participants int
}

// DeviceOpts holds configuration options for the device driver.
type DeviceOpts struct {
	SessionDSN  string // whatsmeow session database connection string
	QRPath      string // path to write the login QR code
	NumericCode bool   // use a numeric login code instead of a QR code
}

// DeviceOption defines a configuration option for the device driver.
type DeviceOption func(*DeviceOpts)

// WithSessionDSN sets the whatsmeow session database connection string.
func WithSessionDSN(dsn string) DeviceOption {
	return func(o *DeviceOpts) { o.SessionDSN = dsn }
}

// WithQRCodeOutput writes the login QR code to the specified path instead
// of stdout.
func WithQRCodeOutput(path string) DeviceOption {
	return func(o *DeviceOpts) { o.QRPath = path }
}

// WithNumericCode uses a numeric login code instead of a QR code.
func WithNumericCode() DeviceOption {
	return func(o *DeviceOpts) { o.NumericCode = true }
}

// DeviceSender sends and receives messages through a directly linked
// WhatsApp device session.
type DeviceSender struct {
	waClient       *whatsmeow.Client
	msgHandler     MessageHandler
	receiptHandler ReceiptHandler
}

// NewDeviceSender creates a device driver, logging in with a QR code flow
// when no stored session exists.
func NewDeviceSender(opts ...DeviceOption) (*DeviceSender, error) {
	var cfg DeviceOpts
	for _, opt := range opts {
		opt(&cfg)
	}

	dsn := cfg.SessionDSN
	if dsn == "" {
		dsn = DefaultSessionPath
		slog.Debug("DeviceSender using default session path", "path", dsn)
	}

	var dbDriver string
	if store.DetectDSNType(dsn) == store.DSNTypePostgres {
		dbDriver = "postgres"
	} else {
		dbDriver = "sqlite3"
		if !strings.Contains(dsn, "_foreign_keys") && !strings.Contains(dsn, "foreign_keys") {
			slog.Warn("session database does not appear to have foreign keys enabled; "+
				"whatsmeow strongly recommends them for data integrity",
				"dsn_example", "file:"+dsn+"?_foreign_keys=on")
		}
	}

	ctx := context.Background()
	container, err := sqlstore.New(ctx, dbDriver, dsn, waLog.Stdout("Database", "INFO", true))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}
	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device from session store: %w", err)
	}

	waClient := whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", "INFO", true))

	if waClient.Store.ID == nil {
		slog.Info("DeviceSender login required; starting QR code flow")
		qrChan, _ := waClient.GetQRChannel(context.Background())
		if err := waClient.Connect(); err != nil {
			return nil, fmt.Errorf("failed to connect during login: %w", err)
		}
		writer := io.Writer(os.Stdout)
		if cfg.QRPath != "" {
			f, ferr := os.Create(cfg.QRPath)
			if ferr != nil {
				return nil, fmt.Errorf("failed to create QR file: %w", ferr)
			}
			defer f.Close()
			writer = f
		}
		for evt := range qrChan {
			if evt.Event == "code" {
				if cfg.NumericCode {
					fmt.Fprintln(writer, evt.Code)
				} else {
					qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, writer)
				}
			} else {
				slog.Debug("DeviceSender login event", "event", evt.Event)
			}
		}
	} else {
		slog.Debug("DeviceSender already logged in, connecting")
		if err := waClient.Connect(); err != nil {
			return nil, fmt.Errorf("failed to connect to WhatsApp server: %w", err)
		}
	}
	slog.Info("DeviceSender connected")

	s := &DeviceSender{waClient: waClient}
	waClient.AddEventHandler(s.handleEvent)
	return s, nil
}

// Name identifies the driver.
func (d *DeviceSender) Name() string { return "device" }

// OnMessage registers the inbound message handler.
func (d *DeviceSender) OnMessage(h MessageHandler) { d.msgHandler = h }

// OnReceipt registers the receipt handler.
func (d *DeviceSender) OnReceipt(h ReceiptHandler) { d.receiptHandler = h }

// SendText sends a text message to a phone number.
func (d *DeviceSender) SendText(ctx context.Context, to string, body string) (string, error) {
	canonical, err := CanonicalizePhone(to)
	if err != nil {
		return "", err
	}
	if body == "" {
		return "", fmt.Errorf("message body cannot be empty")
	}
	jid := types.NewJID(canonical, JIDSuffix)
	resp, err := d.waClient.SendMessage(ctx, jid, &waE2E.Message{Conversation: &body})
	if err != nil {
		return "", fmt.Errorf("failed to send message to %s: %w", canonical, err)
	}
	return string(resp.ID), nil
}

// SendGroupText sends a text message to a group JID.
func (d *DeviceSender) SendGroupText(ctx context.Context, groupJID string, body string) (string, error) {
	if !IsGroupJID(groupJID) {
		return "", fmt.Errorf("not a group JID: %q", groupJID)
	}
	jid, err := types.ParseJID(groupJID)
	if err != nil {
		return "", fmt.Errorf("invalid group JID %q: %w", groupJID, err)
	}
	resp, err := d.waClient.SendMessage(ctx, jid, &waE2E.Message{Conversation: &body})
	if err != nil {
		return "", fmt.Errorf("failed to send group message to %s: %w", groupJID, err)
	}
	return string(resp.ID), nil
}

// ListGroups enumerates the groups the linked device participates in.
func (d *DeviceSender) ListGroups(ctx context.Context) ([]GroupListing, error) {
	groups, err := d.waClient.GetJoinedGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list joined groups: %w", err)
	}
	out := make([]GroupListing, 0, len(groups))
	for _, g := range groups {
		out = append(out, GroupListing{
			JID:          g.JID.String(),
			Name:         g.GroupName.Name,
			Participants: len(g.Participants),
		})
	}
	return out, nil
}

// Disconnect closes the device session.
func (d *DeviceSender) Disconnect() {
	if d.waClient != nil {
		d.waClient.Disconnect()
	}
}

func (d *DeviceSender) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		d.handleIncomingMessage(v)
	case *events.Receipt:
		d.handleReceipt(v)
	}
}

func (d *DeviceSender) handleIncomingMessage(evt *events.Message) {
	if d.msgHandler == nil || evt.Message == nil {
		return
	}
	if evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}

	var text string
	if evt.Message.Conversation != nil {
		text = *evt.Message.Conversation
	} else if evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil {
		text = *evt.Message.ExtendedTextMessage.Text
	} else {
		slog.Debug("DeviceSender ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}

	d.msgHandler(evt.Info.Sender.User, text, string(evt.Info.ID), evt.Info.Timestamp)
}

func (d *DeviceSender) handleReceipt(evt *events.Receipt) {
	if d.receiptHandler == nil {
		return
	}
	var status models.MessageStatus
	switch evt.Type {
	case events.ReceiptTypeDelivered:
		status = models.MessageStatusDelivered
	case events.ReceiptTypeRead:
		status = models.MessageStatusRead
	default:
		return
	}
	for _, id := range evt.MessageIDs {
		d.receiptHandler(string(id), status)
	}
}
