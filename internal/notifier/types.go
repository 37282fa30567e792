package notifier

import (
	"context"
	"fmt"
	"time"

	"studybot/internal/storage"
	"studybot/internal/transport"
)

const (
	ChannelChat  = "chat"
	ChannelEmail = "email"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	SendTimeout     time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
}

// Message is one reminder for one user. Key identifies the trigger; two
// messages with the same Key inside the dedup window are delivered once.
type Message struct {
	UserID    int64
	Key       string
	Kind      string
	Text      string
	ParseMode string

	EmailSubject string
	EmailHTML    string
	EmailPlain   string
}

// ChannelDeliveryError reports one failed channel of one message.
type ChannelDeliveryError struct {
	Channel string
	UserID  int64
	Err     error
}

func (e *ChannelDeliveryError) Error() string {
	return fmt.Sprintf("deliver %s to user %d: %v", e.Channel, e.UserID, e.Err)
}

func (e *ChannelDeliveryError) Unwrap() error { return e.Err }

type ChatSender interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
}

type Mailer interface {
	Enabled() bool
	Send(ctx context.Context, to, subject, html, plain string) error
}

type SettingsSource interface {
	ReminderSettings(ctx context.Context, userID int64) (storage.Settings, error)
}

type DedupStore interface {
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (time.Time, bool, error)
}

// Recorder receives delivery outcomes, typically for metrics.
type Recorder interface {
	ObserveDispatch(channel, kind, result string)
	ObserveDedup(kind string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveDispatch(string, string, string) {}
func (nopRecorder) ObserveDedup(string)                    {}

type Deps struct {
	Chat     ChatSender
	Mail     Mailer
	Settings SettingsSource
	Dedup    DedupStore
	Recorder Recorder
}

// DeliveryEvent is published on the bus after each channel attempt.
type DeliveryEvent struct {
	Channel string    `json:"channel"`
	UserID  int64     `json:"user_id"`
	Key     string    `json:"key"`
	Kind    string    `json:"kind"`
	At      time.Time `json:"at"`
	Error   string    `json:"error,omitempty"`
}

type HistoryItem struct {
	At      time.Time
	UserID  int64
	Kind    string
	Key     string
	Channel string
	Error   string
}
