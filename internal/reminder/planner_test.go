package reminder

import (
	"context"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/require"

	"studybot/internal/storage"
	logx "studybot/pkg/logx"
	"studybot/pkg/timeutil"
)

const tashkent = "Asia/Tashkent"

func fixedNow(t time.Time) func() time.Time { return func() time.Time { return t } }

func newPlanner(repo *fakeRepo, now time.Time) (*Planner, *fakeRegistry, *fakeNotifier, *fakeRecorder) {
	reg := newRegistry(fixedNow(now))
	n := &fakeNotifier{}
	rec := &fakeRecorder{}
	p := NewPlanner(PlannerConfig{Now: fixedNow(now), Parallelism: 2}, repo, reg, n, rec, logx.Nop())
	return p, reg, n, rec
}

func TestPreOffsetRegisteredOnlyWhenStrictlyFuture(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	cases := []struct {
		name  string
		in    time.Duration
		armed bool
	}{
		{"well ahead", 61 * time.Minute, true},
		{"exactly now", 60 * time.Minute, false},
		{"already past", 30 * time.Minute, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			repo := newRepo()
			repo.addUser(1, tashkent, storage.Settings{PreEventOffsetMinutes: 60})
			e := repo.addEvent(1, "Lab", now.Add(tc.in))
			p, reg, _, _ := newPlanner(repo, now)

			require.NoError(t, p.PlanForItem(context.Background(), 1, EventItem(e)))
			got, ok := reg.get(JobKey(KindEventOffset, 1, EventItem(e)))
			require.Equal(t, tc.armed, ok)
			if ok {
				require.True(t, got.at.Equal(e.At.Add(-60*time.Minute)))
				require.Equal(t, "user:1", got.opt.Group)
				require.Equal(t, 1, got.opt.GroupLimit)
			}
		})
	}
}

func TestPlanForItemIsIdempotent(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	repo := newRepo()
	repo.addUser(1, tashkent, storage.Settings{PreEventOffsetMinutes: 30, DailyReminderEnabled: true, DailyReminderTime: "08:00"})
	e := repo.addEvent(1, "Exam", now.Add(48*time.Hour))
	p, reg, _, _ := newPlanner(repo, now)

	for i := 0; i < 2; i++ {
		require.NoError(t, p.PlanForItem(context.Background(), 1, EventItem(e)))
	}
	require.Equal(t, 2, reg.len(), "one offset and one daily job")
}

func TestMathLectureScenario(t *testing.T) {
	t.Parallel()
	loc := mustZone(tashkent)
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, loc)
	repo := newRepo()
	repo.addUser(7, tashkent, storage.Settings{PreEventOffsetMinutes: 60, DailyReminderEnabled: true, DailyReminderTime: "08:00"})
	e := repo.addEvent(7, "Math lecture", time.Date(2025, 6, 1, 10, 0, 0, 0, loc))
	p, reg, n, _ := newPlanner(repo, now)

	require.NoError(t, p.PlanUser(context.Background(), 7))

	pre, ok := reg.get(JobKey(KindEventOffset, 7, EventItem(e)))
	require.True(t, ok)
	require.Equal(t, "2025-06-01 09:00", timeutil.Localize(pre.at, loc))

	_, ok = reg.get(JobKey(KindEventDaily, 7, EventItem(e)))
	require.False(t, ok, "08:00 digest job is not strictly future")
	require.Equal(t, 1, reg.len())

	require.NoError(t, pre.job(context.Background()))
	sent := n.take()
	require.Len(t, sent, 1)
	require.Equal(t, "⏰ Schedule Reminder:\n“Math lecture”\nis on 2025-06-01 10:00", sent[0].Text)
	require.Equal(t, "Upcoming event: Math lecture", sent[0].EmailSubject)
	require.Equal(t, JobKey(KindEventOffset, 7, EventItem(e)), sent[0].Key)
	require.Equal(t, KindEventOffset, sent[0].Kind)
}

func TestTaskWithoutTimeUsesLocalMidnight(t *testing.T) {
	t.Parallel()
	loc := mustZone(tashkent)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, loc)
	repo := newRepo()
	repo.addUser(3, tashkent, storage.Settings{PreEventOffsetMinutes: 60, DailyReminderEnabled: true, DailyReminderTime: "07:30"})
	task := repo.addTask(3, "Essay", "homework", time.Date(2025, 6, 3, 0, 0, 0, 0, loc), false)
	p, reg, n, _ := newPlanner(repo, now)

	require.NoError(t, p.PlanForItem(context.Background(), 3, TaskItem(task)))

	pre, ok := reg.get(JobKey(KindTaskOffset, 3, TaskItem(task)))
	require.True(t, ok)
	require.Equal(t, "2025-06-02 23:00", timeutil.Localize(pre.at, loc))
	daily, ok := reg.get(JobKey(KindTaskDaily, 3, TaskItem(task)))
	require.True(t, ok)
	require.Equal(t, "2025-06-03 07:30", timeutil.Localize(daily.at, loc))

	require.NoError(t, daily.job(context.Background()))
	sent := n.take()
	require.Len(t, sent, 1)
	require.Equal(t, "📝 Task Reminder:\n“Essay”\nis due on 2025-06-03 00:00", sent[0].Text)
	require.Equal(t, "Task due: Essay", sent[0].EmailSubject)
}

func TestPlanUserCancelsDisabledTriggers(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	repo := newRepo()
	repo.addUser(1, tashkent, storage.Settings{PreEventOffsetMinutes: 15, DailyReminderEnabled: true, DailyReminderTime: "08:00"})
	repo.addEvent(1, "Seminar", now.Add(72*time.Hour))
	p, reg, _, rec := newPlanner(repo, now)

	require.NoError(t, p.PlanUser(context.Background(), 1))
	require.Equal(t, 2, reg.len())

	repo.users[1].settings = storage.Settings{PreEventOffsetMinutes: 0, DailyReminderEnabled: false, DailyReminderTime: "08:00"}
	require.NoError(t, p.PlanUser(context.Background(), 1))
	require.Zero(t, reg.len())
	require.Equal(t, 1, rec.plans[KindEventOffset+"/canceled"])
	require.Equal(t, 1, rec.plans[KindEventDaily+"/canceled"])
}

func TestPlanUserSkipsRemindedTasks(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	repo := newRepo()
	repo.addUser(1, "UTC", storage.Settings{PreEventOffsetMinutes: 10})
	done := repo.addTask(1, "Old", "misc", now.Add(24*time.Hour), true)
	require.NoError(t, repo.MarkTaskReminded(context.Background(), done.ID))
	open := repo.addTask(1, "New", "misc", now.Add(24*time.Hour), true)
	p, reg, _, _ := newPlanner(repo, now)

	require.NoError(t, p.PlanUser(context.Background(), 1))
	_, ok := reg.get(JobKey(KindTaskOffset, 1, TaskItem(open)))
	require.True(t, ok)
	require.Equal(t, 1, reg.len())
}

func TestCancelItemRemovesBothJobs(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	repo := newRepo()
	repo.addUser(1, "UTC", storage.Settings{PreEventOffsetMinutes: 10, DailyReminderEnabled: true, DailyReminderTime: "06:00"})
	e := repo.addEvent(1, "Talk", now.Add(30*time.Hour))
	p, reg, _, _ := newPlanner(repo, now)

	require.NoError(t, p.PlanForItem(context.Background(), 1, EventItem(e)))
	require.Equal(t, 2, reg.len())
	p.CancelItem(context.Background(), 1, EventItem(e))
	require.Zero(t, reg.len())
}

func TestPlanAllIsolatesFailingUsers(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	repo := newRepo()
	st := storage.Settings{PreEventOffsetMinutes: 10}
	repo.addUser(1, "UTC", st)
	repo.addUser(2, "UTC", st)
	repo.addUser(3, "UTC", st)
	repo.users[1].err = errBroken
	repo.users[2].panics = true
	e := repo.addEvent(3, "Quiz", now.Add(time.Hour))
	p, reg, _, _ := newPlanner(repo, now)

	require.NoError(t, p.PlanAll(context.Background()))
	_, ok := reg.get(JobKey(KindEventOffset, 3, EventItem(e)))
	require.True(t, ok)
}

func TestRescheduleMovesTimersAndSweep(t *testing.T) {
	t.Parallel()
	loc := mustZone(tashkent)
	now := time.Date(2025, 6, 1, 7, 0, 0, 0, loc)
	repo := newRepo()
	repo.addUser(7, tashkent, storage.Settings{PreEventOffsetMinutes: 30, DailyReminderEnabled: true, DailyReminderTime: "08:00"})
	e := repo.addEvent(7, "Math lecture", time.Date(2025, 6, 2, 10, 0, 0, 0, loc))
	p, reg, _, _ := newPlanner(repo, now)
	require.NoError(t, p.PlanForItem(context.Background(), 7, EventItem(e)))

	old, moved := repo.moveEvent(e.ID, "Math seminar", time.Date(2025, 6, 3, 14, 0, 0, 0, loc))
	require.NoError(t, p.Reschedule(context.Background(), 7, EventItem(old), EventItem(moved)))

	for _, kind := range []string{KindEventOffset, KindEventDaily} {
		_, ok := reg.get(JobKey(kind, 7, EventItem(old)))
		require.False(t, ok, kind+" still armed for the old instant")
	}
	offset, ok := reg.get(JobKey(KindEventOffset, 7, EventItem(moved)))
	require.True(t, ok)
	require.True(t, offset.at.Equal(time.Date(2025, 6, 3, 13, 30, 0, 0, loc)))
	daily, ok := reg.get(JobKey(KindEventDaily, 7, EventItem(moved)))
	require.True(t, ok)
	require.True(t, daily.at.Equal(time.Date(2025, 6, 3, 8, 0, 0, 0, loc)))
	require.Equal(t, 2, reg.len())

	s, n, _ := newSweep(repo)
	require.NoError(t, s.Tick(context.Background(), time.Date(2025, 6, 2, 10, 0, 0, 0, loc)))
	for _, m := range n.take() {
		require.NotEqual(t, KindEventNow, m.Kind, "nothing is due at the old minute")
	}
	require.NoError(t, s.Tick(context.Background(), time.Date(2025, 6, 3, 14, 0, 0, 0, loc)))
	sent := n.take()
	var exact []string
	for _, m := range sent {
		if m.Kind == KindEventNow {
			exact = append(exact, m.Text)
		}
	}
	require.Equal(t, []string{"🕒 Event starting now: “Math seminar” at 14:00"}, exact)
	require.True(t, repo.event(e.ID).Reminded)
}
