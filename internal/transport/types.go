// Package transport is the chat-platform boundary. An Adapter turns
// platform updates into Messages and sends text back.
package transport

import "context"

// ParseHTML selects the platform's HTML text formatting.
const ParseHTML = "HTML"

// ChatTarget addresses a chat and, in forum groups, one topic of it.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

// Sender is the account behind an incoming message.
type Sender struct {
	ID       int64
	Username string
}

// Message is one incoming text message.
type Message struct {
	ID   int
	Chat ChatTarget
	From Sender
	Text string
	// Group is set for group and supergroup chats.
	Group bool
}

// MessageRef identifies a sent message.
type MessageRef struct {
	ChatTarget
	MessageID int
}

type SendOptions struct {
	ParseMode      string // "" for plain text
	DisablePreview bool
}

type Adapter interface {
	// Start begins delivering incoming messages to out. Messages are
	// dropped while out is full.
	Start(ctx context.Context, out chan<- Message) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// BotCommand is one row of the platform's command menu.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional Adapter extension for platforms that
// show a command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
