package reminder

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"

	"studybot/internal/storage"
	logx "studybot/pkg/logx"
	"studybot/pkg/timeutil"
)

// PreferenceStore is the closed set of typed preference setters.
type PreferenceStore interface {
	SetPreEventOffset(ctx context.Context, id int64, minutes int) error
	SetDailyReminderEnabled(ctx context.Context, id int64, on bool) error
	SetDailyReminderTime(ctx context.Context, id int64, clock string) error
	SetEmail(ctx context.Context, id int64, addr string) error
	SetEmailEnabled(ctx context.Context, id int64, on bool) error
	SetTimezone(ctx context.Context, id int64, name string) ([]storage.TaskMove, error)
}

// UserPlanner re-plans one user after a preference change.
type UserPlanner interface {
	PlanUser(ctx context.Context, userID int64) error
	CancelItem(ctx context.Context, userID int64, it Item)
}

type PreferencesConfig struct {
	MinOffset int // 0 means 5
	MaxOffset int // 0 means 1440
}

// Preferences validates user input, stores it and re-plans the user when
// the change moves any trigger.
type Preferences struct {
	cfg   PreferencesConfig
	store PreferenceStore
	plan  UserPlanner
	log   logx.Logger
}

func NewPreferences(cfg PreferencesConfig, store PreferenceStore, plan UserPlanner, log logx.Logger) *Preferences {
	if cfg.MinOffset <= 0 {
		cfg.MinOffset = 5
	}
	if cfg.MaxOffset <= 0 {
		cfg.MaxOffset = 1440
	}
	return &Preferences{cfg: cfg, store: store, plan: plan, log: log}
}

// SetPreEventOffset parses raw minutes and checks the configured bounds.
func (p *Preferences) SetPreEventOffset(ctx context.Context, userID int64, raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < p.cfg.MinOffset || n > p.cfg.MaxOffset {
		return 0, &InputError{Text: fmt.Sprintf("❌ Please enter a valid number between %d and %d.", p.cfg.MinOffset, p.cfg.MaxOffset)}
	}
	if err := p.store.SetPreEventOffset(ctx, userID, n); err != nil {
		return 0, err
	}
	p.replan(ctx, userID)
	return n, nil
}

// SetDailyReminderTime stores a normalised "HH:MM".
func (p *Preferences) SetDailyReminderTime(ctx context.Context, userID int64, raw string) (string, error) {
	h, m, err := timeutil.ParseClock(raw)
	if err != nil {
		return "", &InputError{Text: "❌ Invalid time format. Please use HH:MM (e.g., 08:30).", Err: err}
	}
	clock := timeutil.FormatClock(h, m)
	if err := p.store.SetDailyReminderTime(ctx, userID, clock); err != nil {
		return "", err
	}
	p.replan(ctx, userID)
	return clock, nil
}

func (p *Preferences) SetDailyReminderEnabled(ctx context.Context, userID int64, on bool) error {
	if err := p.store.SetDailyReminderEnabled(ctx, userID, on); err != nil {
		return err
	}
	p.replan(ctx, userID)
	return nil
}

// SetEmail stores a bare address, lowercased. Display names are rejected.
func (p *Preferences) SetEmail(ctx context.Context, userID int64, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Name != "" || addr.Address != raw {
		return "", &InputError{Text: "❌ Invalid email address. Please try again.", Err: timeutil.ErrInvalidFormat}
	}
	email := strings.ToLower(addr.Address)
	if err := p.store.SetEmail(ctx, userID, email); err != nil {
		return "", err
	}
	return email, nil
}

func (p *Preferences) SetEmailEnabled(ctx context.Context, userID int64, on bool) error {
	return p.store.SetEmailEnabled(ctx, userID, on)
}

// SetTimezone stores an IANA zone name. Tasks without a time of day keep
// their calendar day, so their old timers are dropped before re-planning.
func (p *Preferences) SetTimezone(ctx context.Context, userID int64, raw string) error {
	moves, err := p.store.SetTimezone(ctx, userID, strings.TrimSpace(raw))
	if errors.Is(err, timeutil.ErrInvalidFormat) {
		return &InputError{Text: "❌ Unknown timezone. Use an IANA name such as Asia/Tashkent or Europe/Berlin.", Err: err}
	}
	if err != nil {
		return err
	}
	if p.plan != nil {
		for _, m := range moves {
			p.plan.CancelItem(ctx, userID, TaskItem(m.Old))
		}
	}
	if len(moves) > 0 {
		p.log.Info("date-only tasks moved to new timezone", logx.User(userID), logx.Int("tasks", len(moves)))
	}
	p.replan(ctx, userID)
	return nil
}

// replan failures do not undo the stored preference; the sweep still
// covers the user.
func (p *Preferences) replan(ctx context.Context, userID int64) {
	if p.plan == nil {
		return
	}
	if err := p.plan.PlanUser(ctx, userID); err != nil {
		p.log.Warn("replan after preference change failed", logx.User(userID), logx.Err(err))
	}
}
