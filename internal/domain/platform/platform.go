package platform

import (
	"context"

	"github.com/dialogforge/dialogforge/internal/domain/entity"
)

// Name identifies a messaging platform.
type Name string

const (
	Telegram Name = "telegram"
	WhatsApp Name = "whatsapp" // planned
	Viber    Name = "viber"    // planned
)

// EventKind discriminates parsed inbound events.
type EventKind string

const (
	EventText    EventKind = "text"
	EventButton  EventKind = "button"
	EventCommand EventKind = "command"
	EventUnknown EventKind = "unknown"
)

// Event is the neutral inbound model every adapter parses into.
// UpdateID is the platform's delivery id, normalized to a string; the
// dialog manager uses it for replay suppression.
type Event struct {
	UpdateID   string
	Kind       EventKind
	ChatID     string
	Text       string // EventText
	Value      string // EventButton callback value
	CallbackID string // EventButton, platforms that ack button presses
	Command    string // EventCommand, without the leading slash
	Args       string // remainder after the command
}

// OutMedia is one media item ready to send: either a cached platform file
// id (fast path) or raw bytes that still need uploading.
type OutMedia struct {
	Type        string // image, video, audio, document
	Description string
	FileID      string // platform-native id, preferred when set
	Bytes       []byte
	Mime        string
}

// WebhookOptions tunes webhook registration.
type WebhookOptions struct {
	SecretToken    string
	MaxConnections int
	DropPending    bool
}

// WebhookInfo reports the platform's view of the registration.
type WebhookInfo struct {
	URL              string
	PendingUpdates   int
	LastErrorMessage string
}

// Adapter translates between one platform's native payloads and the
// neutral model. ParseEvent must be pure and total: anything it cannot
// recognize comes back as EventUnknown, never an error.
//
// Send and upload errors are classified through pkg/errors codes:
// CodeTransient (retryable), CodeInvalidInput (not retryable) and
// CodeUnauthorized (credentials dead, caller deactivates). A failed media
// group send wraps a MediaGroupError carrying the first failed index.
type Adapter interface {
	Name() Name
	ParseEvent(raw []byte) Event
	SendText(ctx context.Context, chatID, text string, buttons []entity.Button) (string, error)
	SendMedia(ctx context.Context, chatID string, items []OutMedia, caption string, buttons []entity.Button) ([]string, error)
	UploadMedia(ctx context.Context, data []byte, mime string) (string, error)
	SetWebhook(ctx context.Context, url string, opts WebhookOptions) error
	WebhookInfo(ctx context.Context) (WebhookInfo, error)
	DeleteWebhook(ctx context.Context) error
}

// CallbackAcker is implemented by adapters whose platform requires
// button presses to be acknowledged separately from the reply (Telegram
// shows a spinner on the button until the callback is answered).
type CallbackAcker interface {
	AckCallback(ctx context.Context, callbackID string) error
}

// MediaGroupError reports a partial media-group failure: items before
// Index were sent, the item at Index failed.
type MediaGroupError struct {
	Index int
	Err   error
}

func (e *MediaGroupError) Error() string {
	return e.Err.Error()
}

func (e *MediaGroupError) Unwrap() error {
	return e.Err
}
