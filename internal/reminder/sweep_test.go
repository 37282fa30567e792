package reminder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"studybot/internal/notifier"
	"studybot/internal/reminder/render"
	"studybot/internal/storage"
	logx "studybot/pkg/logx"
)

func newSweep(repo *fakeRepo) (*Sweep, *fakeNotifier, *fakeRecorder) {
	n := &fakeNotifier{}
	rec := &fakeRecorder{}
	return NewSweep(SweepConfig{Parallelism: 4}, repo, n, rec, logx.Nop()), n, rec
}

func kinds(ms []notifier.Message) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Kind)
	}
	return out
}

func TestSweepExactTimeOnce(t *testing.T) {
	t.Parallel()
	loc := mustZone(tashkent)
	repo := newRepo()
	repo.addUser(7, tashkent, storage.Settings{})
	e := repo.addEvent(7, "Math lecture", time.Date(2025, 6, 1, 10, 0, 0, 0, loc))
	s, n, _ := newSweep(repo)

	require.NoError(t, s.Tick(context.Background(), time.Date(2025, 6, 1, 10, 0, 42, 0, loc)))
	sent := n.take()
	require.Len(t, sent, 1)
	require.Equal(t, KindEventNow, sent[0].Kind)
	require.Equal(t, "🕒 Event starting now: “Math lecture” at 10:00", sent[0].Text)
	require.Equal(t, "Event now: Math lecture", sent[0].EmailSubject)
	require.True(t, repo.event(e.ID).Reminded)

	require.NoError(t, s.Tick(context.Background(), time.Date(2025, 6, 1, 10, 1, 0, 0, loc)))
	require.Empty(t, n.take())
	require.NoError(t, s.Tick(context.Background(), time.Date(2025, 6, 1, 10, 0, 0, 0, loc)))
	require.Empty(t, n.take(), "a reminded item is never re-sent")
}

func TestSweepTaskDueNow(t *testing.T) {
	t.Parallel()
	repo := newRepo()
	repo.addUser(1, "UTC", storage.Settings{})
	at := time.Date(2025, 6, 1, 18, 30, 0, 0, time.UTC)
	repo.addTask(1, "Report", "work", at, true)
	s, n, _ := newSweep(repo)

	require.NoError(t, s.Tick(context.Background(), at.Add(5*time.Second)))
	sent := n.take()
	require.Len(t, sent, 1)
	require.Equal(t, "📌 Task due now: “Report” (work) at 18:30", sent[0].Text)
	require.Equal(t, "Task due: Report", sent[0].EmailSubject)
}

func TestSweepMarksRemindedWhenDispatchRefused(t *testing.T) {
	t.Parallel()
	repo := newRepo()
	repo.addUser(1, "UTC", storage.Settings{})
	at := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	e := repo.addEvent(1, "Call", at)
	s, n, _ := newSweep(repo)
	n.err = notifier.ErrQueueFull

	require.NoError(t, s.Tick(context.Background(), at))
	require.True(t, repo.event(e.ID).Reminded)
}

func TestSweepDigestFollowsUserTimezone(t *testing.T) {
	t.Parallel()
	repo := newRepo()
	digest := storage.Settings{DailyReminderEnabled: true, DailyReminderTime: "08:00"}
	repo.addUser(1, tashkent, digest)        // UTC+5
	repo.addUser(2, "Europe/Berlin", digest) // UTC+2 in June
	repo.addEvent(1, "Physics", time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	repo.addEvent(2, "Chemistry", time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	s, n, _ := newSweep(repo)

	digestUsers := func(ms []notifier.Message) []int64 {
		var out []int64
		for _, m := range ms {
			if m.Kind == KindDigest {
				out = append(out, m.UserID)
			}
		}
		return out
	}

	require.NoError(t, s.Tick(context.Background(), time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)))
	sent := n.take()
	require.Equal(t, []int64{1}, digestUsers(sent))
	require.Equal(t, render.ParseModeHTML, sent[0].ParseMode)
	require.Contains(t, sent[0].Text, "Physics at 14:00")
	require.Equal(t, "📅 Daily Reminder", sent[0].EmailSubject)

	require.NoError(t, s.Tick(context.Background(), time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)))
	require.Equal(t, []int64{2}, digestUsers(n.take()))

	require.NoError(t, s.Tick(context.Background(), time.Date(2025, 6, 1, 3, 0, 30, 0, time.UTC)))
	require.Empty(t, digestUsers(n.take()), "one digest per local day")
}

func TestSweepDigestSkipsEmptyDay(t *testing.T) {
	t.Parallel()
	repo := newRepo()
	repo.addUser(1, "UTC", storage.Settings{DailyReminderEnabled: true, DailyReminderTime: "08:00"})
	s, n, _ := newSweep(repo)

	require.NoError(t, s.Tick(context.Background(), time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)))
	require.Empty(t, n.take())
	require.Empty(t, repo.digest)
}

func TestSweepCatchUpSharesTimerKey(t *testing.T) {
	t.Parallel()
	loc := mustZone(tashkent)
	repo := newRepo()
	repo.addUser(7, tashkent, storage.Settings{PreEventOffsetMinutes: 60})
	e := repo.addEvent(7, "Math lecture", time.Date(2025, 6, 1, 10, 0, 0, 0, loc))
	s, n, _ := newSweep(repo)

	require.NoError(t, s.Tick(context.Background(), time.Date(2025, 6, 1, 9, 0, 10, 0, loc)))
	sent := n.take()
	require.Len(t, sent, 1)
	require.Equal(t, KindEventOffset, sent[0].Kind)
	require.Equal(t, JobKey(KindEventOffset, 7, EventItem(e)), sent[0].Key)
	require.Equal(t, "⏰ Schedule reminder: “Math lecture” starts at 10:00!", sent[0].Text)
	require.False(t, repo.event(e.ID).Reminded)
}

func TestSweepIsolatesFailingUser(t *testing.T) {
	t.Parallel()
	repo := newRepo()
	repo.addUser(1, "UTC", storage.Settings{})
	repo.addUser(2, "UTC", storage.Settings{})
	repo.addUser(3, "UTC", storage.Settings{})
	repo.users[1].err = errBroken
	repo.users[2].panics = true
	at := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	repo.addEvent(3, "Standup", at)
	s, n, rec := newSweep(repo)

	require.NoError(t, s.Tick(context.Background(), at))
	require.Equal(t, []string{KindEventNow}, kinds(n.take()))
	require.Equal(t, []int{2}, rec.failed)
}

func TestSweepFillsSkippedMinutes(t *testing.T) {
	t.Parallel()
	repo := newRepo()
	repo.addUser(1, "UTC", storage.Settings{})
	at := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	e := repo.addEvent(1, "Seminar", at)
	task := repo.addTask(1, "Lab report", "study", at.Add(time.Minute), true)
	s, n, _ := newSweep(repo)

	require.NoError(t, s.Tick(context.Background(), at.Add(-time.Minute)))
	require.Empty(t, n.take())

	// The 10:00 and 10:01 runs never happened.
	require.NoError(t, s.Tick(context.Background(), at.Add(2*time.Minute+3*time.Second)))
	require.Equal(t, []string{KindEventNow, KindTaskNow}, kinds(n.take()))
	require.True(t, repo.event(e.ID).Reminded)
	require.True(t, repo.task(task.ID).Reminded)

	for m := 3; m < 10; m++ {
		require.NoError(t, s.Tick(context.Background(), at.Add(time.Duration(m)*time.Minute)))
	}
	require.Empty(t, n.take())
}

func TestSweepFirstTickLooksBack(t *testing.T) {
	t.Parallel()
	repo := newRepo()
	repo.addUser(1, "UTC", storage.Settings{})
	at := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	e := repo.addEvent(1, "Seminar", at)
	old := repo.addEvent(1, "Yesterday", at.Add(-2*time.Hour))
	s, n, _ := newSweep(repo)

	require.NoError(t, s.Tick(context.Background(), at.Add(time.Minute)))
	sent := n.take()
	require.Len(t, sent, 1)
	require.Equal(t, JobKey(KindEventNow, 1, EventItem(e)), sent[0].Key)
	require.False(t, repo.event(old.ID).Reminded, "items older than the lookback are left alone")
}

func TestSweepDigestInSkippedMinute(t *testing.T) {
	t.Parallel()
	loc := mustZone(tashkent)
	repo := newRepo()
	repo.addUser(1, tashkent, storage.Settings{DailyReminderEnabled: true, DailyReminderTime: "08:00"})
	repo.addEvent(1, "Physics", time.Date(2025, 6, 1, 14, 0, 0, 0, loc))
	s, n, _ := newSweep(repo)

	require.NoError(t, s.Tick(context.Background(), time.Date(2025, 6, 1, 7, 59, 0, 0, loc)))
	require.Empty(t, n.take())
	require.NoError(t, s.Tick(context.Background(), time.Date(2025, 6, 1, 8, 2, 0, 0, loc)))
	require.Equal(t, []string{KindDigest}, kinds(n.take()))
	require.True(t, repo.digest["1/2025-06-01"])

	require.NoError(t, s.Tick(context.Background(), time.Date(2025, 6, 1, 8, 3, 0, 0, loc)))
	require.Empty(t, n.take())
}

func TestSweepDigestAcrossMidnightGap(t *testing.T) {
	t.Parallel()
	repo := newRepo()
	repo.addUser(1, "UTC", storage.Settings{DailyReminderEnabled: true, DailyReminderTime: "00:05"})
	repo.addEvent(1, "Early exam", time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC))
	s, n, _ := newSweep(repo)

	require.NoError(t, s.Tick(context.Background(), time.Date(2025, 6, 1, 23, 50, 0, 0, time.UTC)))
	require.Empty(t, n.take())
	require.NoError(t, s.Tick(context.Background(), time.Date(2025, 6, 2, 0, 10, 0, 0, time.UTC)))
	sent := n.take()
	require.Len(t, sent, 1)
	require.Contains(t, sent[0].Text, "Early exam")
	require.True(t, repo.digest["1/2025-06-02"])
}
