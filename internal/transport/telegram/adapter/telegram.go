// Package adapter implements transport.Adapter on telebot long polling.
package adapter

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "studybot/internal/runtime/supervisor"
	kit "studybot/internal/transport"
	logx "studybot/pkg/logx"
)

const (
	menuLimit        = 100
	menuDescLimit    = 256
	maxFloodWait     = 30 * time.Second
	dropReportPeriod = 5 * time.Second
	pollMaxRestarts  = 20
)

type Config struct {
	Token       string
	PollTimeout time.Duration // 0 means 10s
}

// Adapter polls Telegram for text messages and sends replies and
// reminders. Incoming messages are dropped, and counted, while the
// consumer is behind.
type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	out     atomic.Pointer[chan<- kit.Message]
	dropped atomic.Uint64

	mu  sync.Mutex
	sup *rtsup.Supervisor // nil while stopped

	menuMu sync.Mutex
	menu   []tele.Command // last menu Telegram accepted
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram: token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	a := &Adapter{cfg: cfg, log: log}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: cfg.PollTimeout},
		OnError: func(err error, _ tele.Context) { log.Warn("telebot error", logx.Err(err)) },
	})
	if err != nil {
		return nil, err
	}
	a.bot = b
	// with no command endpoints registered, "/x" arrives as text too
	b.Handle(tele.OnText, a.onText)
	return a, nil
}

func (a *Adapter) onText(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Sender == nil {
		return nil
	}
	out := a.out.Load()
	if out == nil {
		return nil
	}
	select {
	case *out <- messageOf(m):
	default:
		a.dropped.Add(1)
	}
	return nil
}

func messageOf(m *tele.Message) kit.Message {
	return kit.Message{
		ID:    m.ID,
		Chat:  kit.ChatTarget{ChatID: m.Chat.ID, ThreadID: m.ThreadID},
		From:  kit.Sender{ID: m.Sender.ID, Username: m.Sender.Username},
		Text:  m.Text,
		Group: m.Chat.Type == tele.ChatGroup || m.Chat.Type == tele.ChatSuperGroup,
	}
}

// Start launches polling under its own supervisor. Calling it again while
// running does nothing.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sup != nil {
		return nil
	}
	a.out.Store(&out)
	sup := rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.sup = sup

	sup.Go0("updates.drop_report", func(c context.Context) {
		t := time.NewTicker(dropReportPeriod)
		defer t.Stop()
		defer a.reportDropped(cap(out))
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				a.reportDropped(cap(out))
			}
		}
	})
	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	// bot.Start returns only after bot.Stop; returning any earlier is a
	// failure for the supervisor to restart. Past pollMaxRestarts the
	// supervisor gives up and Watch reports it.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		if c.Err() != nil {
			return nil
		}
		return errors.New("telegram: poll loop exited")
	}, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second), rtsup.WithMaxRestarts(pollMaxRestarts))
	return nil
}

// Watch blocks until ctx ends or polling gives up for good. It returns the
// poll loop's last error, or nil after a clean Stop.
func (a *Adapter) Watch(ctx context.Context) error {
	a.mu.Lock()
	sup := a.sup
	a.mu.Unlock()
	if sup == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return nil
	case <-sup.Context().Done():
		return sup.Err()
	}
}

func (a *Adapter) reportDropped(chanCap int) {
	if n := a.dropped.Swap(0); n > 0 {
		a.log.Warn("incoming messages dropped, consumer is behind", logx.Uint64("count", n), logx.Int("chan_cap", chanCap))
	}
}

// Stop ends polling. It waits up to 2s, or less when ctx expires sooner.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	sup := a.sup
	a.sup = nil
	a.out.Store(nil)
	a.mu.Unlock()
	if sup == nil {
		return nil
	}

	sup.Cancel()
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && wctx.Err() != nil {
		a.log.Warn("telegram stop timed out", logx.Err(err))
	}
	return nil
}

// SendText sends text, split into several messages when it exceeds the
// platform limit, and returns a reference to the first one. A flood-wait
// reply is honored once per chunk, up to maxFloodWait.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	var o kit.SendOptions
	if opt != nil {
		o = *opt
	}
	send := &tele.SendOptions{ParseMode: o.ParseMode, DisableWebPagePreview: o.DisablePreview, ThreadID: to.ThreadID}
	chat := &tele.Chat{ID: to.ChatID}

	ref := kit.MessageRef{ChatTarget: to}
	for i, chunk := range splitText(text, textLimit, o.ParseMode) {
		msg, err := a.sendChunk(ctx, chat, chunk, send)
		if err != nil {
			return ref, err
		}
		if i == 0 {
			ref.MessageID = msg.ID
		}
	}
	return ref, nil
}

func (a *Adapter) sendChunk(ctx context.Context, chat *tele.Chat, chunk string, opt *tele.SendOptions) (*tele.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msg, err := a.bot.Send(chat, chunk, opt)
	var flood tele.FloodError
	if !errors.As(err, &flood) {
		return msg, err
	}
	wait := time.Duration(flood.RetryAfter) * time.Second
	if wait > maxFloodWait {
		return nil, err
	}
	a.log.Warn("telegram flood wait", logx.Int64("chat", chat.ID), logx.Duration("wait", wait))
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.C:
	}
	return a.bot.Send(chat, chunk, opt)
}

// SendLog implements logx.ChatSender.
func (a *Adapter) SendLog(ctx context.Context, chatID int64, threadID int, text string) error {
	_, err := a.SendText(ctx, kit.ChatTarget{ChatID: chatID, ThreadID: threadID}, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// UpdateMenuCommands calls setMyCommands unless Telegram already has the
// same menu.
func (a *Adapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	menu := menuOf(cmds)

	a.menuMu.Lock()
	defer a.menuMu.Unlock()
	if a.menu != nil && slices.Equal(menu, a.menu) {
		return nil
	}
	if err := a.bot.SetCommands(menu); err != nil {
		return err
	}
	a.menu = menu
	a.log.Info("menu commands updated", logx.Int("count", len(menu)))
	return nil
}

// menuOf applies Telegram's menu limits: no empty names, descriptions of
// at most 256 bytes, at most 100 rows.
func menuOf(cmds []kit.BotCommand) []tele.Command {
	menu := make([]tele.Command, 0, min(len(cmds), menuLimit))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		desc := c.Description
		if desc == "" {
			desc = c.Command
		}
		if len(desc) > menuDescLimit {
			desc = strings.ToValidUTF8(desc[:menuDescLimit], "")
		}
		menu = append(menu, tele.Command{Text: c.Command, Description: desc})
		if len(menu) == menuLimit {
			break
		}
	}
	return menu
}
