package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "studybot/pkg/logx"
)

const (
	settleDelay     = 250 * time.Millisecond
	validateTimeout = 5 * time.Second
	rewatchMin      = 250 * time.Millisecond
	rewatchMax      = 5 * time.Second
)

// Manager owns the config file. It keeps the last accepted Config and hands
// every later accepted version to its subscribers.
type Manager struct {
	path     string
	log      logx.Logger
	validate func(ctx context.Context, cfg *Config) error

	mu  sync.RWMutex
	cur *Config
	sum uint64

	// closing a subscriber also happens under subMu, so send never races it
	subMu sync.Mutex
	subs  map[chan *Config]struct{}
}

func NewManager(path string) *Manager {
	return &Manager{path: path, subs: map[chan *Config]struct{}{}}
}

func (m *Manager) Path() string               { return m.path }
func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

// SetValidator installs the check a reloaded file must pass before it
// replaces the current config.
func (m *Manager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validate = fn
}

// Parse reads and decodes the file without accepting it.
func (m *Manager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	return Decode(m.path, b)
}

// Load parses the file and makes it current. Subscribers are not told.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.accept(cfg, checksum(cfg))
	return cfg, nil
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur
}

func (m *Manager) accept(cfg *Config, sum uint64) {
	m.mu.Lock()
	m.cur, m.sum = cfg, sum
	m.mu.Unlock()
}

func checksum(cfg *Config) uint64 {
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}

// Subscribe returns a channel that receives each accepted reload. A slow
// reader only ever misses stale versions: when the buffer is full the
// oldest pending config is replaced.
func (m *Manager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, max(buffer, 1))
	m.subMu.Lock()
	m.subs[ch] = struct{}{}
	m.subMu.Unlock()
	return ch
}

// Unsubscribe closes ch. Unknown channels are ignored.
func (m *Manager) Unsubscribe(ch chan *Config) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if _, ok := m.subs[ch]; ok {
		delete(m.subs, ch)
		close(ch)
	}
}

func (m *Manager) broadcast(cfg *Config) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for ch := range m.subs {
		for {
			select {
			case ch <- cfg:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// reload re-reads the file and reports whether a new config went out.
// Unchanged content and configs the validator refuses are not published.
func (m *Manager) reload(ctx context.Context) bool {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config file unreadable, keeping current", logx.String("path", m.path), logx.Err(err))
		return false
	}
	sum := checksum(cfg)
	m.mu.RLock()
	same := sum != 0 && sum == m.sum
	m.mu.RUnlock()
	if same {
		m.log.Debug("config file touched without changes", logx.String("path", m.path))
		return false
	}
	if m.validate != nil {
		vctx, cancel := context.WithTimeout(ctx, validateTimeout)
		err = m.validate(vctx, cfg)
		cancel()
		if err != nil {
			m.log.Warn("config rejected, keeping current", logx.String("path", m.path), logx.Err(err))
			return false
		}
	}
	m.accept(cfg, sum)
	m.broadcast(cfg)
	m.log.Info("config reloaded", logx.String("path", m.path), logx.String("sum", fmt.Sprintf("%016x", sum)))
	return true
}

// backoff doubles from rewatchMin up to rewatchMax and adds up to half
// again as jitter.
type backoff struct{ step time.Duration }

func (b *backoff) next() time.Duration {
	if b.step == 0 {
		b.step = rewatchMin
	}
	d := b.step + rand.N(b.step/2+1)
	b.step = min(2*b.step, rewatchMax)
	return d
}

func (b *backoff) reset() { b.step = 0 }

// Watch reloads the file whenever it changes, until ctx ends. Bursts of
// events settle for a moment first so a multi-step save reloads once. The
// directory is watched, not the file, so editors that replace the file by
// rename keep working. A dead watcher is rebuilt with backoff.
func (m *Manager) Watch(ctx context.Context) error {
	dir, name := filepath.Dir(m.path), filepath.Base(m.path)
	var bo backoff
	for {
		w, err := fsnotify.NewWatcher()
		if err == nil {
			if err = w.Add(dir); err != nil {
				_ = w.Close()
			}
		}
		if err == nil {
			bo.reset()
			m.log.Debug("watching config", logx.String("dir", dir), logx.String("file", name))
			m.follow(ctx, w, name)
			_ = w.Close()
			if ctx.Err() != nil {
				return nil
			}
			err = errors.New("watcher closed")
		}

		wait := bo.next()
		m.log.Warn("config watcher down, retrying", logx.String("dir", dir), logx.Duration("in", wait), logx.Err(err))
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// follow pumps one watcher until ctx ends or the watcher fails.
func (m *Manager) follow(ctx context.Context, w *fsnotify.Watcher, name string) {
	settle := time.NewTimer(time.Hour)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-settle.C:
			m.reload(ctx)
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if strings.EqualFold(filepath.Base(ev.Name), name) {
				settle.Reset(settleDelay)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				m.log.Warn("config watcher overflowed, reloading", logx.Err(err))
				settle.Reset(settleDelay)
				continue
			}
			m.log.Warn("config watcher error", logx.Err(err))
		}
	}
}
