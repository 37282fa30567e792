// Package router dispatches slash commands from the transport to handlers on
// a bounded worker pool.
package router

import (
	"context"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rtsup "studybot/internal/runtime/supervisor"
	kit "studybot/internal/transport"
	logx "studybot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	Name        string   // without the leading slash
	Aliases     []string // extra names, e.g. "h" for help
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // 0 means Config.Timeout
	Handle      HandlerFunc
}

// Request is one command invocation.
type Request struct {
	Msg     kit.Message
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	ReqID   string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends plain text back to the originating chat.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// ReplyHTML sends text with the HTML parse mode.
func (r *Request) ReplyHTML(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{ParseMode: kit.ParseHTML, DisablePreview: true})
	return err
}

type Config struct {
	Workers   int           // 0 means 4
	QueueSize int           // 0 means 256
	Timeout   time.Duration // 0 means 30s
}

type CommandManager struct {
	cfg     Config
	log     logx.Logger
	adapter kit.Adapter

	mu       sync.RWMutex
	commands map[string]*Command // name and aliases
	ordered  []Command
	owners   []int64
	mws      []Middleware

	jobs chan func()
}

func NewCommandManager(cfg Config, log logx.Logger, adapter kit.Adapter, owners []int64) *CommandManager {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &CommandManager{
		cfg:      cfg,
		log:      log,
		adapter:  adapter,
		commands: map[string]*Command{},
		owners:   append([]int64(nil), owners...),
		jobs:     make(chan func(), cfg.QueueSize),
	}
}

// Use appends middleware that runs inside recovery and request logging,
// in the order given.
func (m *CommandManager) Use(mw ...Middleware) {
	m.mu.Lock()
	m.mws = append(m.mws, mw...)
	m.mu.Unlock()
}

// SetOwners replaces the owner list. Safe during hot reload.
func (m *CommandManager) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

// SetRegistry installs cmds plus the built-in /help and refreshes the
// platform menu in the background.
func (m *CommandManager) SetRegistry(ctx context.Context, cmds []Command) {
	cmds = append(cmds, Command{
		Name:        "help",
		Aliases:     []string{"h"},
		Description: "show help",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.ReplyHTML(ctx, m.helpText(req.Args))
		},
	})

	byName := map[string]*Command{}
	ordered := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := sanitizeCommand(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		cc := c
		cc.Name = name
		byName[name] = &cc
		ordered = append(ordered, cc)
		for _, a := range c.Aliases {
			if a = sanitizeCommand(a); a != "" {
				if _, taken := byName[a]; !taken {
					byName[a] = &cc
				}
			}
		}
	}

	m.mu.Lock()
	m.commands = byName
	m.ordered = ordered
	m.mu.Unlock()

	if up, ok := m.adapter.(kit.CommandMenuUpdater); ok {
		menu := buildMenu(ordered)
		go func() {
			cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(cctx, menu); err != nil {
				m.log.Warn("menu update failed", logx.Err(err))
			}
		}()
	}
}

// DispatchLoop reads messages until ctx ends or updates closes, and runs
// matching commands on the worker pool.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Message) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(m.log), rtsup.WithCancelOnError(false))
	for i := 0; i < m.cfg.Workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					m.runJob(idx, job)
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	m.log.Info("command dispatcher started", logx.Int("workers", m.cfg.Workers), logx.Int("queue_cap", cap(m.jobs)))

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-updates:
			if !ok {
				return nil
			}
			m.route(ctx, msg)
		}
	}
}

func (m *CommandManager) runJob(worker int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	job()
}

func (m *CommandManager) route(ctx context.Context, msg kit.Message) {
	name, args, ok := parseCommand(msg.Text)
	if !ok {
		return
	}
	chat := msg.Chat

	m.mu.RLock()
	cmd, found := m.commands[name]
	owners := m.owners
	mws := m.mws
	m.mu.RUnlock()

	if !found {
		if !msg.Group {
			_, _ = m.adapter.SendText(ctx, chat, "❓ Unknown command. Try /help", nil)
		}
		return
	}
	if cmd.Access == AccessOwnerOnly && !isOwner(msg.From.ID, owners) {
		_, _ = m.adapter.SendText(ctx, chat, "⛔ This command is for bot owners only.", nil)
		return
	}

	rid := uuid.NewString()
	req := &Request{
		Msg:     msg,
		Chat:    chat,
		FromID:  msg.From.ID,
		Command: cmd.Name,
		Args:    args,
		ReqID:   rid,
		Adapter: m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat", msg.Chat.ChatID),
			logx.User(msg.From.ID),
			logx.String("cmd", cmd.Name),
		),
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = m.cfg.Timeout
	}
	final := wrap(cmd.Handle, append([]Middleware{Recover(), Trace(), Timeout(timeout)}, mws...))

	select {
	case m.jobs <- func() { _ = final(ctx, req) }:
	default:
		_, _ = m.adapter.SendText(ctx, chat, "⏳ Busy, please try again in a moment.", nil)
	}
}

// parseCommand splits "/name@bot a b" into ("name", ["a","b"]). Double
// quotes group words.
func parseCommand(text string) (name string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	parts := tokenize(text)
	if len(parts) == 0 {
		return "", nil, false
	}
	name = strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	name = strings.ToLower(name)
	if name == "" {
		return "", nil, false
	}
	return name, parts[1:], true
}

func tokenize(s string) []string {
	var (
		out []string
		buf strings.Builder
		inQ bool
	)
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}
	for _, r := range s {
		switch {
		case r == '"':
			if inQ {
				out = append(out, buf.String())
				buf.Reset()
			} else {
				flush()
			}
			inQ = !inQ
		case !inQ && (r == ' ' || r == '\t' || r == '\n' || r == '\r'):
			flush()
		default:
			buf.WriteRune(r)
		}
	}
	flush()
	return out
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}
