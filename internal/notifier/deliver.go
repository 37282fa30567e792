package notifier

import (
	"context"
	"errors"
	"time"

	"studybot/internal/eventbus"
	"studybot/internal/transport"
	logx "studybot/pkg/logx"
)

// deliver sends m over every eligible channel: at most one chat message and
// at most one email.
func (s *Service) deliver(ctx context.Context, m Message) {
	cfg := s.config()

	s.attempt(ctx, cfg, ChannelChat, m, func(c context.Context) error {
		if s.dep.Chat == nil {
			return errors.New("no chat adapter")
		}
		if err := s.limiter.Wait(c); err != nil {
			return err
		}
		opt := &transport.SendOptions{ParseMode: m.ParseMode, DisablePreview: true}
		_, err := s.dep.Chat.SendText(c, transport.ChatTarget{ChatID: m.UserID}, m.Text, opt)
		return err
	})

	if s.dep.Mail == nil || !s.dep.Mail.Enabled() || s.dep.Settings == nil || m.EmailSubject == "" {
		return
	}
	st, err := s.dep.Settings.ReminderSettings(ctx, m.UserID)
	if err != nil {
		s.fail(ChannelEmail, m, err)
		return
	}
	if !st.EmailEnabled || st.Email == "" {
		return
	}
	s.attempt(ctx, cfg, ChannelEmail, m, func(c context.Context) error {
		return s.dep.Mail.Send(c, st.Email, m.EmailSubject, m.EmailHTML, m.EmailPlain)
	})
}

// attempt runs send up to 1+RetryMax times, each bounded by SendTimeout.
func (s *Service) attempt(ctx context.Context, cfg Config, channel string, m Message, send func(context.Context) error) {
	var err error
	delay := 500 * time.Millisecond
	for i := 0; i <= cfg.RetryMax; i++ {
		if i > 0 {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				s.fail(channel, m, ctx.Err())
				return
			case <-t.C:
			}
			delay *= 2
		}
		cctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err = send(cctx)
		cancel()
		if err == nil {
			s.succeed(channel, m)
			return
		}
		if ctx.Err() != nil {
			break
		}
	}
	s.fail(channel, m, err)
}

func (s *Service) succeed(channel string, m Message) {
	now := time.Now()
	s.dep.Recorder.ObserveDispatch(channel, m.Kind, "ok")
	s.appendHistory(HistoryItem{At: now, UserID: m.UserID, Kind: m.Kind, Key: m.Key, Channel: channel})
	s.bus.Publish(eventbus.Event{Type: eventbus.NotifySent, Time: now, Data: DeliveryEvent{
		Channel: channel, UserID: m.UserID, Key: m.Key, Kind: m.Kind, At: now,
	}})
}

func (s *Service) fail(channel string, m Message, err error) {
	now := time.Now()
	derr := &ChannelDeliveryError{Channel: channel, UserID: m.UserID, Err: err}
	s.log.Warn("notification channel failed",
		logx.String("channel", channel),
		logx.User(m.UserID),
		logx.String("kind", m.Kind),
		logx.String("key", m.Key),
		logx.Err(derr),
	)
	s.dep.Recorder.ObserveDispatch(channel, m.Kind, "error")
	s.appendHistory(HistoryItem{At: now, UserID: m.UserID, Kind: m.Kind, Key: m.Key, Channel: channel, Error: err.Error()})
	s.bus.Publish(eventbus.Event{Type: eventbus.NotifyFailed, Time: now, Data: derr})
}
