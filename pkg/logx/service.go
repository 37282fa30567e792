package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Chat    ChatConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// ChatConfig mirrors log lines at or above MinLevel into an operator chat.
type ChatConfig struct {
	Enabled    bool
	ChatID     int64
	ThreadID   int
	MinLevel   string
	RatePerSec int
}

// ChatSender delivers one formatted log line to an operator chat.
type ChatSender interface {
	SendLog(ctx context.Context, chatID int64, threadID int, text string) error
}

// ChatSenderFunc adapts a function to ChatSender.
type ChatSenderFunc func(ctx context.Context, chatID int64, threadID int, text string) error

func (f ChatSenderFunc) SendLog(ctx context.Context, chatID int64, threadID int, text string) error {
	return f(ctx, chatID, threadID, text)
}

// Service owns the log sinks and swaps them atomically on Apply.
type Service struct {
	mu  sync.Mutex
	cfg Config

	root atomic.Value // zerolog.Logger

	file *os.File
	chat *chatSink
}

// New creates the logging service, applies cfg immediately and returns the
// service together with a live root Logger. sender may be nil.
func New(cfg Config, sender ChatSender) (*Service, Logger) {
	setGlobals()
	s := &Service{chat: newChatSink(sender)}
	s.root.Store(zerolog.New(newConsoleWriter(stdout())).Level(parseLevel(cfg.Level, zerolog.InfoLevel)).With().Timestamp().Logger())
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	zl, ok := s.root.Load().(zerolog.Logger)
	if !ok {
		return zerolog.Nop()
	}
	return zl
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

// SetChatSender swaps the chat sender, e.g. once the transport adapter exists.
func (s *Service) SetChatSender(sender ChatSender) {
	s.chat.setSender(sender)
}

func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()

	s.chat.stop()
	if f != nil {
		return f.Close()
	}
	return nil
}

// Apply swaps outputs and levels at runtime. It is safe to call concurrently.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	writers := make([]io.Writer, 0, 3)
	if cfg.Console {
		writers = append(writers, newConsoleWriter(stdout()))
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = "./studybot.log"
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(stderr(), "logx: failed opening log file %q: %v\n", path, err)
		} else {
			s.file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}

	s.chat.configure(cfg.Chat)
	if cfg.Chat.Enabled {
		if cfg.Chat.ChatID == 0 {
			fmt.Fprintln(stderr(), "logx: chat logging enabled but telegram.group_log is not set")
		} else {
			s.chat.start()
			writers = append(writers, s.chat)
		}
	}

	if len(writers) == 0 {
		writers = append(writers, newConsoleWriter(stdout()))
	}

	lvl := parseLevel(cfg.Level, zerolog.InfoLevel)
	s.root.Store(zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(lvl).With().Timestamp().Logger())
}

// chatSink is a zerolog.LevelWriter that never blocks the caller: lines are
// filtered by level, rate-limited, then queued for a single sender goroutine.
type chatSink struct {
	mu       sync.Mutex
	sender   ChatSender
	chatID   int64
	threadID int
	minLevel zerolog.Level
	limiter  *rate.Limiter

	queue  chan string
	once   sync.Once
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newChatSink(sender ChatSender) *chatSink {
	return &chatSink{sender: sender, queue: make(chan string, 256), minLevel: zerolog.WarnLevel}
}

func (c *chatSink) setSender(sender ChatSender) {
	c.mu.Lock()
	c.sender = sender
	c.mu.Unlock()
}

func (c *chatSink) configure(cfg ChatConfig) {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	c.mu.Lock()
	c.chatID = cfg.ChatID
	c.threadID = cfg.ThreadID
	c.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	c.mu.Unlock()
}

func (c *chatSink) start() {
	c.once.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		c.mu.Lock()
		c.cancel = cancel
		c.mu.Unlock()
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.loop(ctx)
		}()
	})
}

func (c *chatSink) stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		c.wg.Wait()
	}
}

func (c *chatSink) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-c.queue:
			c.mu.Lock()
			sender, chatID, threadID := c.sender, c.chatID, c.threadID
			c.mu.Unlock()
			if sender == nil || chatID == 0 {
				continue
			}
			_ = sender.SendLog(ctx, chatID, threadID, text)
		}
	}
}

func (c *chatSink) Write(p []byte) (int, error) {
	return c.WriteLevel(zerolog.InfoLevel, p)
}

func (c *chatSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	min, lim := c.minLevel, c.limiter
	c.mu.Unlock()

	if level < min || lim == nil || !lim.Allow() {
		return len(p), nil
	}
	text := formatChatLine(p)
	if text == "" {
		return len(p), nil
	}
	select {
	case c.queue <- text:
	default:
	}
	return len(p), nil
}
