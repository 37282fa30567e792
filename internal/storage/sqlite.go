package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"studybot/pkg/logx"
	"studybot/pkg/timeutil"
)

// SQLite implements the reminder repository, the preference setters and the
// notifier dedup store.
type SQLite struct {
	db       *sql.DB
	log      logx.Logger
	locs     *timeutil.Locations
	defaults atomic.Pointer[UserDefaults]
	now      func() time.Time

	opCount    atomic.Uint64
	pruneEvery uint64
}

// SetDefaults replaces the preferences seeded into newly registered users.
func (s *SQLite) SetDefaults(d UserDefaults) {
	if strings.TrimSpace(d.DailyReminderTime) == "" {
		d.DailyReminderTime = "08:00"
	}
	s.defaults.Store(&d)
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Locations exposes the zone loader shared with callers.
func (s *SQLite) Locations() *timeutil.Locations { return s.locs }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicate) || errors.Is(err, ErrRepository) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrRepository, op, err)
}

func notFound(what string, id int64) error {
	return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
}

// withTx runs fn in a transaction, rolling back on error or panic.
func (s *SQLite) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unix(t time.Time) int64 { return t.UTC().Unix() }

func fromUnix(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

// PutDedup records that key is suppressed until the given instant.
func (s *SQLite) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, until.UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		if perr := s.pruneExpired(pctx); perr != nil {
			s.log.Debug("dedup prune failed", logx.Err(perr))
		}
		cancel()
	}
	return wrap("put dedup", err)
}

func (s *SQLite) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, wrap("get dedup", err)
	}
	return time.UnixMilli(ms), true, nil
}

func (s *SQLite) pruneExpired(ctx context.Context) error {
	now := s.now().UnixMilli()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, now); err != nil {
		return err
	}
	// Digest markers older than a week are never consulted again.
	cutoff := unix(s.now().Add(-7 * 24 * time.Hour))
	_, err := s.db.ExecContext(ctx, `DELETE FROM digest_sent WHERE sent_at < ?`, cutoff)
	return err
}

// MarkDigestSent stores the (user, local day) digest marker. first reports
// whether this call created it.
func (s *SQLite) MarkDigestSent(ctx context.Context, userID int64, dayKey string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO digest_sent(user_id, day, sent_at) VALUES(?,?,?)
		 ON CONFLICT(user_id, day) DO NOTHING`,
		userID, dayKey, unix(s.now()),
	)
	if err != nil {
		return false, wrap("mark digest sent", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("mark digest sent", err)
	}
	return n == 1, nil
}
