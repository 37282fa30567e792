package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"studybot/internal/eventbus"
	"studybot/internal/storage"
	"studybot/internal/transport"
	logx "studybot/pkg/logx"
)

type fakeChat struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeChat) SendText(_ context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return transport.MessageRef{}, f.err
	}
	f.sent = append(f.sent, fmt.Sprintf("%d|%s|%s", to.ChatID, opt.ParseMode, text))
	return transport.MessageRef{ChatTarget: to}, nil
}

func (f *fakeChat) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeMail struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeMail) Enabled() bool { return true }

func (f *fakeMail) Send(_ context.Context, to, subject, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, to+"|"+subject)
	return nil
}

func (f *fakeMail) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeSettings map[int64]storage.Settings

func (f fakeSettings) ReminderSettings(_ context.Context, id int64) (storage.Settings, error) {
	st, ok := f[id]
	if !ok {
		return storage.Settings{}, storage.ErrNotFound
	}
	return st, nil
}

type memDedup struct {
	mu sync.Mutex
	m  map[string]time.Time
}

func (d *memDedup) PutDedup(_ context.Context, key string, until time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.m[key] = until
	return nil
}

func (d *memDedup) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	until, ok := d.m[key]
	return until, ok, nil
}

var withEmail = fakeSettings{
	1: {EmailEnabled: true, Email: "a@example.com"},
	2: {EmailEnabled: false, Email: "b@example.com"},
	3: {EmailEnabled: true},
}

func msg(user int64, key string) Message {
	return Message{UserID: user, Key: key, Kind: "event_now", Text: "hi", EmailSubject: "Event now: x", EmailPlain: "p"}
}

func inline(chat *fakeChat, mail *fakeMail, bus eventbus.Bus) *Service {
	return New(Config{DedupWindow: time.Minute}, Deps{Chat: chat, Mail: mail, Settings: withEmail}, logx.Nop(), bus)
}

func TestEmailOnlyWhenEnabledWithAddress(t *testing.T) {
	t.Parallel()
	cases := []struct {
		user  int64
		email int
	}{
		{1, 1},
		{2, 0},
		{3, 0},
	}
	for _, tc := range cases {
		chat, mail := &fakeChat{}, &fakeMail{}
		s := inline(chat, mail, nil)
		if err := s.Notify(context.Background(), msg(tc.user, "")); err != nil {
			t.Fatalf("user %d: %v", tc.user, err)
		}
		if chat.count() != 1 || mail.count() != tc.email {
			t.Fatalf("user %d: chat=%d email=%d, want 1/%d", tc.user, chat.count(), mail.count(), tc.email)
		}
	}
}

func TestChannelFailuresAreIsolated(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	chat := &fakeChat{err: errors.New("telegram down")}
	mail := &fakeMail{}
	s := inline(chat, mail, bus)
	if err := s.Notify(context.Background(), msg(1, "k1")); err != nil {
		t.Fatalf("Notify must not surface channel errors: %v", err)
	}
	if mail.count() != 1 {
		t.Fatal("email skipped after chat failure")
	}

	var derr *ChannelDeliveryError
	for i := 0; i < 2; i++ {
		e := <-events
		if e.Type == eventbus.NotifyFailed {
			derr, _ = e.Data.(*ChannelDeliveryError)
		}
	}
	if derr == nil || derr.Channel != ChannelChat || derr.UserID != 1 {
		t.Fatalf("failure event = %+v", derr)
	}
	if !errors.Is(derr, chat.err) {
		t.Fatal("ChannelDeliveryError must unwrap the cause")
	}
}

func TestDedupSameKeyConcurrently(t *testing.T) {
	t.Parallel()
	chat := &fakeChat{}
	s := inline(chat, &fakeMail{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Notify(context.Background(), msg(2, "event_offset_2_x"))
		}()
	}
	wg.Wait()
	if got := chat.count(); got != 1 {
		t.Fatalf("sent %d, want 1", got)
	}
	_ = s.Notify(context.Background(), msg(2, "other"))
	if got := chat.count(); got != 2 {
		t.Fatalf("different key suppressed: sent %d", got)
	}
}

func TestPersistedDedupSurvivesRestart(t *testing.T) {
	t.Parallel()
	store := &memDedup{m: map[string]time.Time{}}
	dep := func(chat *fakeChat) Deps { return Deps{Chat: chat, Dedup: store} }
	cfg := Config{DedupWindow: time.Minute, PersistDedup: true}

	first := &fakeChat{}
	_ = New(cfg, dep(first), logx.Nop(), nil).Notify(context.Background(), msg(2, "k"))

	second := &fakeChat{}
	_ = New(cfg, dep(second), logx.Nop(), nil).Notify(context.Background(), msg(2, "k"))

	if first.count() != 1 || second.count() != 0 {
		t.Fatalf("first=%d second=%d, want 1/0", first.count(), second.count())
	}
}

func TestAsyncDrainOnStop(t *testing.T) {
	t.Parallel()
	chat := &fakeChat{}
	s := New(Config{Enabled: true, Workers: 2, QueueSize: 16, RatePerSec: 1000},
		Deps{Chat: chat}, logx.Nop(), nil)
	s.Start(context.Background())

	for i := 0; i < 5; i++ {
		if err := s.Notify(context.Background(), msg(2, fmt.Sprintf("k%d", i))); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)

	if got := chat.count(); got != 5 {
		t.Fatalf("delivered %d before drain finished, want 5", got)
	}
	if err := s.Notify(context.Background(), msg(2, "late")); !errors.Is(err, ErrStopped) {
		t.Fatalf("Notify after Stop = %v, want ErrStopped", err)
	}
	if h := s.Snapshot(); len(h) != 5 {
		t.Fatalf("history = %d", len(h))
	}
}

func TestRetryMax(t *testing.T) {
	t.Parallel()
	chat := &fakeChat{err: errors.New("flaky")}
	s := New(Config{RetryMax: 0}, Deps{Chat: chat}, logx.Nop(), nil)
	_ = s.Notify(context.Background(), msg(2, ""))
	h := s.Snapshot()
	if len(h) != 1 || h[0].Error != "flaky" {
		t.Fatalf("history = %+v", h)
	}
}

func TestDisabledByConfigFallsBackToInline(t *testing.T) {
	t.Parallel()
	chat := &fakeChat{}
	s := New(Config{Enabled: true, Workers: 1, QueueSize: 4, RatePerSec: 1000},
		Deps{Chat: chat}, logx.Nop(), nil)
	s.Start(context.Background())

	s.Apply(Config{Enabled: false, RatePerSec: 1000})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)

	if err := s.Notify(context.Background(), msg(2, "inline")); err != nil {
		t.Fatalf("Notify after disable = %v, want inline delivery", err)
	}
	if got := chat.count(); got != 1 {
		t.Fatalf("delivered %d, want 1", got)
	}
}
