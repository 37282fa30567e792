package bot

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/require"

	"studybot/internal/reminder"
	"studybot/internal/storage"
	kit "studybot/internal/transport"
	"studybot/internal/transport/telegram/router"
	logx "studybot/pkg/logx"
	"studybot/pkg/timeutil"
)

type replies struct {
	mu   sync.Mutex
	sent []string
}

func (r *replies) Start(context.Context, chan<- kit.Message) error { return nil }
func (r *replies) Stop(context.Context) error                      { return nil }

func (r *replies) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, text)
	return kit.MessageRef{}, nil
}

func (r *replies) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return ""
	}
	return r.sent[len(r.sent)-1]
}

type recPlanner struct {
	mu          sync.Mutex
	planned     []reminder.Item
	canceled    []reminder.Item
	rescheduled [][2]reminder.Item
	replans     int
}

func (p *recPlanner) Reschedule(_ context.Context, _ int64, old, updated reminder.Item) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rescheduled = append(p.rescheduled, [2]reminder.Item{old, updated})
	return nil
}

type sentMail struct{ to, subject, html, plain string }

type fakeMailer struct {
	mu      sync.Mutex
	enabled bool
	err     error
	sent    []sentMail
}

func (m *fakeMailer) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

func (m *fakeMailer) Send(_ context.Context, to, subject, html, plain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to, subject, html, plain})
	return nil
}

func (p *recPlanner) PlanForItem(_ context.Context, _ int64, it reminder.Item) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.planned = append(p.planned, it)
	return nil
}

func (p *recPlanner) CancelItem(_ context.Context, _ int64, it reminder.Item) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.canceled = append(p.canceled, it)
}

func (p *recPlanner) PlanUser(context.Context, int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replans++
	return nil
}

type harness struct {
	t     *testing.T
	bot   *Bot
	store *storage.SQLite
	plan  *recPlanner
	mail  *fakeMailer
	out   *replies
}

// now is 13:00 in Tashkent.
var now = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func newHarness(t *testing.T) *harness {
	t.Helper()
	locs, err := timeutil.NewLocations("Asia/Tashkent", 8)
	require.NoError(t, err)
	st, err := storage.Open(context.Background(), storage.Config{
		Path:      filepath.Join(t.TempDir(), "bot.db"),
		Locations: locs,
		Defaults: storage.UserDefaults{
			PreEventOffsetMinutes: 60,
			DailyReminderEnabled:  true,
			DailyReminderTime:     "08:00",
		},
		Now: func() time.Time { return now },
	}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	plan, mailer := &recPlanner{}, &fakeMailer{}
	prefs := reminder.NewPreferences(reminder.PreferencesConfig{}, st, plan, logx.Nop())
	b := New(Deps{
		Store:   st,
		Planner: plan,
		Prefs:   prefs,
		Mail:    mailer,
		Status:  func(context.Context) string { return "all good" },
		Now:     func() time.Time { return now },
	}, logx.Nop())
	return &harness{t: t, bot: b, store: st, plan: plan, mail: mailer, out: &replies{}}
}

// run dispatches line as user 42 through the registration middleware and
// returns the last reply.
func (h *harness) run(line string) string {
	h.t.Helper()
	fields := strings.Fields(strings.TrimPrefix(line, "/"))
	var cmd *router.Command
	for _, c := range h.bot.Commands() {
		if c.Name == fields[0] {
			c := c
			cmd = &c
		}
	}
	require.NotNil(h.t, cmd, "command %q", fields[0])
	req := &router.Request{
		Msg:     kit.Message{Chat: kit.ChatTarget{ChatID: 42}, From: kit.Sender{ID: 42, Username: "student"}, Text: line},
		Chat:    kit.ChatTarget{ChatID: 42},
		FromID:  42,
		Command: fields[0],
		Args:    fields[1:],
		Adapter: h.out,
		Logger:  logx.Nop(),
	}
	_ = h.bot.EnsureUser()(cmd.Handle)(context.Background(), req)
	return h.out.last()
}

func TestAddEventPlansAndRejectsBadInput(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	got := h.run("/event 2025-06-01 15:00 Math lecture")
	require.Contains(t, got, "Math lecture")
	require.Contains(t, got, "2025-06-01 15:00")
	require.Len(t, h.plan.planned, 1)
	require.True(t, h.plan.planned[0].At.Equal(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)))

	require.Equal(t, msgDuplicate, h.run("/event 2025-06-01 15:00 Math lecture"))
	require.Equal(t, msgPast, h.run("/event 2025-06-01 12:59 Late"))
	require.Equal(t, msgBadDate, h.run("/event 2025-13-01 10:00 Nope"))
	require.Equal(t, msgBadDate, h.run("/event 2025-06-02 25:00 Nope"))
	require.Contains(t, h.run("/event 2025-06-02"), "Usage")
	require.Len(t, h.plan.planned, 1)
}

func TestAddTaskWithAndWithoutTime(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	got := h.run("/task 2025-06-03 18:30 math Problem set 4")
	require.Contains(t, got, "“Problem set 4” (math) due 2025-06-03 18:30")

	got = h.run("/task 2025-06-01 reading Chapter 2")
	require.Contains(t, got, "due 2025-06-01.")

	require.Len(t, h.plan.planned, 2)
	require.True(t, h.plan.planned[0].HasTime)
	require.False(t, h.plan.planned[1].HasTime)

	require.Equal(t, msgPast, h.run("/task 2025-05-31 reading Old"))
	require.Contains(t, h.run("/task 2025-06-05 onlycategory"), "Usage")

	list := h.run("/tasks")
	require.Contains(t, list, "[math] Problem set 4")
	require.Contains(t, list, "[reading] Chapter 2")
}

func TestDeleteCancelsReminders(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.run("/event 2025-06-02 09:00 Seminar")
	require.Contains(t, h.run("/events"), "Seminar")
	id := h.plan.planned[0].ID

	require.Contains(t, h.run("/delevent "+strconv.FormatInt(id, 10)), "deleted")
	require.Len(t, h.plan.canceled, 1)
	require.Equal(t, id, h.plan.canceled[0].ID)

	require.Equal(t, msgNotFound, h.run("/delevent "+strconv.FormatInt(id, 10)))
	require.Contains(t, h.run("/delevent abc"), "Usage")
	require.Equal(t, "🗓️ No upcoming events.", h.run("/events"))
}

func TestPreferenceCommands(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	require.Equal(t, "❌ Please enter a valid number between 5 and 1440.", h.run("/offset 2"))
	require.Contains(t, h.run("/offset 30"), "30 minutes")
	require.Contains(t, h.run("/dailytime 7:05"), "07:05")
	require.Contains(t, h.run("/daily off"), "now off")
	require.Equal(t, msgOnOffUsage, h.run("/daily maybe"))
	require.Contains(t, h.run("/email Student@Example.com"), "student@example.com")
	require.Contains(t, h.run("/email on"), "now on")
	require.Contains(t, h.run("/timezone Mars/Base"), "Unknown timezone")
	require.Contains(t, h.run("/timezone Europe/Berlin"), "Europe/Berlin")
	require.Contains(t, h.run("/timezone"), "Europe/Berlin")

	st, err := h.store.ReminderSettings(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, storage.Settings{
		PreEventOffsetMinutes: 30,
		DailyReminderEnabled:  false,
		DailyReminderTime:     "07:05",
		Email:                 "student@example.com",
		EmailEnabled:          true,
	}, st)

	// offset, daily time, daily toggle and timezone each replan.
	require.Equal(t, 4, h.plan.replans)

	overview := h.run("/reminders")
	require.Contains(t, overview, "Before events: 30 min")
	require.Contains(t, overview, "Daily digest: off at 07:05")
	require.Contains(t, overview, "Nothing scheduled.")
}

func TestRemindersListsToday(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.run("/event 2025-06-01 16:00 Physics")
	h.run("/task 2025-06-01 20:00 chem Lab report")
	h.run("/event 2025-06-02 16:00 Tomorrow")

	got := h.run("/reminders")
	require.Contains(t, got, "🗓️ 16:00 Physics")
	require.Contains(t, got, "📝 20:00 Lab report (chem)")
	require.NotContains(t, got, "Tomorrow")
}

func TestStatusIsOwnerOnly(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	var found bool
	for _, c := range h.bot.Commands() {
		if c.Name == "status" {
			found = true
			require.Equal(t, router.AccessOwnerOnly, c.Access)
		}
	}
	require.True(t, found)
	require.Equal(t, "all good", h.run("/status"))

	bare := New(Deps{}, logx.Nop())
	for _, c := range bare.Commands() {
		require.NotEqual(t, "status", c.Name)
	}
}

func TestEditEventReschedules(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.run("/event 2025-06-02 09:00 Seminar")
	id := strconv.FormatInt(h.plan.planned[0].ID, 10)

	got := h.run("/editevent " + id + " 2025-06-03 11:00")
	require.Contains(t, got, "“Seminar” on 2025-06-03 11:00")
	require.Len(t, h.plan.rescheduled, 1)
	old, moved := h.plan.rescheduled[0][0], h.plan.rescheduled[0][1]
	require.True(t, old.At.Equal(time.Date(2025, 6, 2, 4, 0, 0, 0, time.UTC)))
	require.True(t, moved.At.Equal(time.Date(2025, 6, 3, 6, 0, 0, 0, time.UTC)))
	require.Equal(t, old.ID, moved.ID)

	require.Contains(t, h.run("/editevent "+id+" 2025-06-04 10:00 Big seminar"), "“Big seminar”")
	require.Equal(t, "Seminar", h.plan.rescheduled[1][0].Title)
	require.Equal(t, "Big seminar", h.plan.rescheduled[1][1].Title)

	require.Equal(t, msgPast, h.run("/editevent "+id+" 2025-06-01 12:00"))
	require.Equal(t, msgNotFound, h.run("/editevent 999 2025-06-04 10:00"))
	require.Contains(t, h.run("/editevent "+id+" 2025-06-04"), "Usage")
	require.Contains(t, h.run("/editevent x 2025-06-04 10:00"), "Usage")
	require.Len(t, h.plan.rescheduled, 2)
	require.Contains(t, h.run("/events"), "2025-06-04 10:00 Big seminar")
}

func TestEditTaskReschedules(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.run("/task 2025-06-03 18:30 math Problem set 4")
	id := strconv.FormatInt(h.plan.planned[0].ID, 10)

	require.Contains(t, h.run("/edittask "+id+" 2025-06-04"), "“Problem set 4” (math) due 2025-06-04.")
	require.False(t, h.plan.rescheduled[0][1].HasTime)

	require.Contains(t, h.run("/edittask "+id+" 2025-06-05 09:15 physics Lab write-up"), "“Lab write-up” (physics) due 2025-06-05 09:15")
	require.True(t, h.plan.rescheduled[1][1].HasTime)
	require.True(t, h.plan.rescheduled[1][1].At.Equal(time.Date(2025, 6, 5, 4, 15, 0, 0, time.UTC)))

	require.Contains(t, h.run("/edittask "+id+" 2025-06-05 onlycategory"), "Usage")
	require.Equal(t, msgPast, h.run("/edittask "+id+" 2025-05-30"))
	require.Equal(t, msgNotFound, h.run("/edittask 77 2025-06-05"))
	require.Len(t, h.plan.rescheduled, 2)
}

func TestEmailTestCommand(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	require.Contains(t, h.run("/email test"), "not enabled or no address")
	h.run("/email student@example.com")
	h.run("/email on")
	require.Contains(t, h.run("/email test"), "not configured")

	h.mail.enabled = true
	require.Equal(t, "✅ Test email sent to student@example.com.", h.run("/email TEST"))
	require.Len(t, h.mail.sent, 1)
	require.Equal(t, "student@example.com", h.mail.sent[0].to)
	require.Equal(t, "📨 Test Email from StudyBot", h.mail.sent[0].subject)
	require.Contains(t, h.mail.sent[0].html, "confirm your email notification setup")

	h.mail.err = errors.New("dial tcp: connection refused")
	require.Contains(t, h.run("/email test"), "Failed to send test email")
}
