package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"studybot/internal/reminder"
	"studybot/internal/reminder/render"
	"studybot/internal/transport/telegram/router"
	logx "studybot/pkg/logx"
	"studybot/pkg/timeutil"
)

func (b *Bot) Commands() []router.Command {
	cmds := []router.Command{
		{Name: "start", Description: "register and show a short intro", Handle: b.start},
		{Name: "reminders", Description: "your reminder settings and today's items", Handle: b.reminders},
		{Name: "offset", Description: "minutes before an event to remind you", Usage: "/offset <5-1440>", Handle: b.offset},
		{Name: "dailytime", Description: "time of the daily digest", Usage: "/dailytime HH:MM", Handle: b.dailyTime},
		{Name: "daily", Description: "turn the daily digest on or off", Usage: "/daily on|off", Handle: b.daily},
		{Name: "email", Description: "set your email, toggle email reminders or send a test", Usage: "/email <address> | /email on|off | /email test", Handle: b.email},
		{Name: "timezone", Aliases: []string{"tz"}, Description: "show or set your timezone", Usage: "/timezone [Area/City]", Handle: b.timezone},
		{Name: "event", Description: "add an event", Usage: "/event YYYY-MM-DD HH:MM <title>", Handle: b.addEvent},
		{Name: "task", Description: "add a task", Usage: "/task YYYY-MM-DD [HH:MM] <category> <title>", Handle: b.addTask},
		{Name: "events", Description: "upcoming events", Handle: b.listEvents},
		{Name: "tasks", Description: "pending tasks", Handle: b.listTasks},
		{Name: "delevent", Description: "delete an event", Usage: "/delevent <id>", Handle: b.deleteEvent},
		{Name: "deltask", Description: "delete a task", Usage: "/deltask <id>", Handle: b.deleteTask},
		{Name: "editevent", Description: "move or rename an event", Usage: usageEditEvent, Handle: b.editEvent},
		{Name: "edittask", Description: "change a task's deadline, category or title", Usage: usageEditTask, Handle: b.editTask},
	}
	if b.dep.Status != nil {
		cmds = append(cmds, router.Command{
			Name:        "status",
			Description: "scheduler, engine and notifier state",
			Access:      router.AccessOwnerOnly,
			Handle: func(ctx context.Context, req *router.Request) error {
				return req.Reply(ctx, b.dep.Status(ctx))
			},
		})
	}
	return cmds
}

func (b *Bot) start(ctx context.Context, req *router.Request) error {
	return req.Reply(ctx, strings.Join([]string{
		"👋 Hi! I'm your study assistant.",
		"",
		"Add events with /event and tasks with /task, and I'll remind you before they start,",
		"when they are due, and in a daily digest.",
		"",
		"See /reminders for your settings and /help for every command.",
	}, "\n"))
}

func (b *Bot) reminders(ctx context.Context, req *router.Request) error {
	st, err := b.dep.Store.ReminderSettings(ctx, req.FromID)
	if err != nil {
		return fail(ctx, req, err)
	}
	loc, err := b.dep.Store.UserLocation(ctx, req.FromID)
	if err != nil {
		return fail(ctx, req, err)
	}
	now := b.dep.Now().In(loc)
	events, err := b.dep.Store.EventsForDay(ctx, req.FromID, now)
	if err != nil {
		return fail(ctx, req, err)
	}
	tasks, err := b.dep.Store.TasksForDay(ctx, req.FromID, now)
	if err != nil {
		return fail(ctx, req, err)
	}

	email := st.Email
	if email == "" {
		email = "not set"
	}
	lines := []string{
		"🔔 Reminder settings",
		fmt.Sprintf("• Before events: %d min", st.PreEventOffsetMinutes),
		fmt.Sprintf("• Daily digest: %s at %s", onOff(st.DailyReminderEnabled), st.DailyReminderTime),
		fmt.Sprintf("• Email: %s (%s)", onOff(st.EmailEnabled), email),
		fmt.Sprintf("• Timezone: %s", loc.String()),
		"",
		"📅 Today",
	}
	if len(events) == 0 && len(tasks) == 0 {
		lines = append(lines, "Nothing scheduled.")
	}
	for _, e := range events {
		lines = append(lines, fmt.Sprintf("🗓️ %s %s", e.At.In(loc).Format(timeutil.ClockLayout), e.Title))
	}
	for _, t := range tasks {
		lines = append(lines, fmt.Sprintf("📝 %s %s (%s)", t.Deadline.In(loc).Format(timeutil.ClockLayout), t.Title, t.Category))
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}

func (b *Bot) offset(ctx context.Context, req *router.Request) error {
	n, err := b.dep.Prefs.SetPreEventOffset(ctx, req.FromID, strings.Join(req.Args, " "))
	if err != nil {
		return fail(ctx, req, err)
	}
	return req.Reply(ctx, fmt.Sprintf("✅ I'll remind you %d minutes before each event.", n))
}

func (b *Bot) dailyTime(ctx context.Context, req *router.Request) error {
	clock, err := b.dep.Prefs.SetDailyReminderTime(ctx, req.FromID, strings.Join(req.Args, " "))
	if err != nil {
		return fail(ctx, req, err)
	}
	return req.Reply(ctx, "✅ Daily digest time set to "+clock+".")
}

func (b *Bot) daily(ctx context.Context, req *router.Request) error {
	on, ok := parseOnOff(firstArg(req))
	if !ok {
		return req.Reply(ctx, msgOnOffUsage)
	}
	if err := b.dep.Prefs.SetDailyReminderEnabled(ctx, req.FromID, on); err != nil {
		return fail(ctx, req, err)
	}
	return req.Reply(ctx, "✅ Daily digest is now "+onOff(on)+".")
}

func (b *Bot) email(ctx context.Context, req *router.Request) error {
	arg := firstArg(req)
	if arg == "" {
		return req.Reply(ctx, "Usage: /email <address>, /email on|off or /email test")
	}
	if arg == "test" {
		return b.emailTest(ctx, req)
	}
	if on, ok := parseOnOff(arg); ok {
		if err := b.dep.Prefs.SetEmailEnabled(ctx, req.FromID, on); err != nil {
			return fail(ctx, req, err)
		}
		return req.Reply(ctx, "✅ Email reminders are now "+onOff(on)+".")
	}
	addr, err := b.dep.Prefs.SetEmail(ctx, req.FromID, arg)
	if err != nil {
		return fail(ctx, req, err)
	}
	return req.Reply(ctx, "✅ Email set to "+addr+".")
}

func (b *Bot) emailTest(ctx context.Context, req *router.Request) error {
	st, err := b.dep.Store.ReminderSettings(ctx, req.FromID)
	if err != nil {
		return fail(ctx, req, err)
	}
	if !st.EmailEnabled || st.Email == "" {
		return req.Reply(ctx, "⚠️ Email is not enabled or no address is set. Use /email <address> and /email on.")
	}
	if b.dep.Mail == nil || !b.dep.Mail.Enabled() {
		return req.Reply(ctx, "⚠️ Email delivery is not configured on this bot.")
	}
	msg := render.EmailCheck()
	if err := b.dep.Mail.Send(ctx, st.Email, msg.Subject, msg.HTML, msg.Plain); err != nil {
		req.Logger.Warn("test email failed", logx.Err(err))
		return req.Reply(ctx, "❌ Failed to send test email. Check server logs.")
	}
	return req.Reply(ctx, "✅ Test email sent to "+st.Email+".")
}

func (b *Bot) timezone(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		loc, err := b.dep.Store.UserLocation(ctx, req.FromID)
		if err != nil {
			return fail(ctx, req, err)
		}
		return req.Reply(ctx, "🌍 Your timezone is "+loc.String()+". Change it with /timezone Area/City.")
	}
	if err := b.dep.Prefs.SetTimezone(ctx, req.FromID, req.Args[0]); err != nil {
		return fail(ctx, req, err)
	}
	return req.Reply(ctx, "✅ Timezone set to "+req.Args[0]+".")
}

func (b *Bot) addEvent(ctx context.Context, req *router.Request) error {
	if len(req.Args) < 3 {
		return req.Reply(ctx, "Usage: /event YYYY-MM-DD HH:MM <title>")
	}
	loc, err := b.dep.Store.UserLocation(ctx, req.FromID)
	if err != nil {
		return fail(ctx, req, err)
	}
	at, err := timeutil.ParseLocalDateTime(req.Args[0], req.Args[1], loc)
	if err != nil {
		return fail(ctx, req, err)
	}
	if !at.After(b.dep.Now()) {
		return req.Reply(ctx, msgPast)
	}
	title := strings.Join(req.Args[2:], " ")
	e, err := b.dep.Store.AddEvent(ctx, req.FromID, title, at)
	if err != nil {
		return fail(ctx, req, err)
	}
	if err := b.dep.Planner.PlanForItem(ctx, req.FromID, reminder.EventItem(e)); err != nil {
		req.Logger.Warn("planning new event failed", logx.Err(err))
	}
	return req.Reply(ctx, fmt.Sprintf("✅ Event #%d “%s” on %s (%s).", e.ID, e.Title, timeutil.Localize(e.At, loc), loc))
}

func (b *Bot) addTask(ctx context.Context, req *router.Request) error {
	if len(req.Args) < 3 {
		return req.Reply(ctx, "Usage: /task YYYY-MM-DD [HH:MM] <category> <title>")
	}
	loc, err := b.dep.Store.UserLocation(ctx, req.FromID)
	if err != nil {
		return fail(ctx, req, err)
	}

	rest := req.Args[1:]
	clock, hasTime := "00:00", false
	if _, _, perr := timeutil.ParseClock(rest[0]); perr == nil {
		clock, hasTime = rest[0], true
		rest = rest[1:]
	}
	if len(rest) < 2 {
		return req.Reply(ctx, "Usage: /task YYYY-MM-DD [HH:MM] <category> <title>")
	}
	deadline, err := timeutil.ParseLocalDateTime(req.Args[0], clock, loc)
	if err != nil {
		return fail(ctx, req, err)
	}
	now := b.dep.Now()
	if (hasTime && !deadline.After(now)) || (!hasTime && deadline.Before(timeutil.StartOfDay(now.In(loc)))) {
		return req.Reply(ctx, msgPast)
	}

	category, title := rest[0], strings.Join(rest[1:], " ")
	t, err := b.dep.Store.AddTask(ctx, req.FromID, title, category, deadline, hasTime)
	if err != nil {
		return fail(ctx, req, err)
	}
	if err := b.dep.Planner.PlanForItem(ctx, req.FromID, reminder.TaskItem(t)); err != nil {
		req.Logger.Warn("planning new task failed", logx.Err(err))
	}
	when := timeutil.DayKey(t.Deadline.In(loc))
	if hasTime {
		when = timeutil.Localize(t.Deadline, loc)
	}
	return req.Reply(ctx, fmt.Sprintf("✅ Task #%d “%s” (%s) due %s.", t.ID, t.Title, t.Category, when))
}

const (
	usageEditEvent = "/editevent <id> YYYY-MM-DD HH:MM [new title]"
	usageEditTask  = "/edittask <id> YYYY-MM-DD [HH:MM] [<category> <title>]"
)

// editEvent moves an event and optionally renames it. The old timers are
// replaced and a moved event is reminded again at its new time.
func (b *Bot) editEvent(ctx context.Context, req *router.Request) error {
	if len(req.Args) < 3 {
		return req.Reply(ctx, "Usage: "+usageEditEvent)
	}
	id, err := strconv.ParseInt(req.Args[0], 10, 64)
	if err != nil {
		return req.Reply(ctx, "Usage: "+usageEditEvent)
	}
	loc, err := b.dep.Store.UserLocation(ctx, req.FromID)
	if err != nil {
		return fail(ctx, req, err)
	}
	at, err := timeutil.ParseLocalDateTime(req.Args[1], req.Args[2], loc)
	if err != nil {
		return fail(ctx, req, err)
	}
	if !at.After(b.dep.Now()) {
		return req.Reply(ctx, msgPast)
	}
	old, e, err := b.dep.Store.UpdateEvent(ctx, req.FromID, id, strings.Join(req.Args[3:], " "), at)
	if err != nil {
		return fail(ctx, req, err)
	}
	if err := b.dep.Planner.Reschedule(ctx, req.FromID, reminder.EventItem(old), reminder.EventItem(e)); err != nil {
		req.Logger.Warn("replanning edited event failed", logx.Err(err))
	}
	return req.Reply(ctx, fmt.Sprintf("✏️ Event #%d is now “%s” on %s (%s).", e.ID, e.Title, timeutil.Localize(e.At, loc), loc))
}

// editTask sets a new deadline. Category and title change only when both
// are given.
func (b *Bot) editTask(ctx context.Context, req *router.Request) error {
	if len(req.Args) < 2 {
		return req.Reply(ctx, "Usage: "+usageEditTask)
	}
	id, err := strconv.ParseInt(req.Args[0], 10, 64)
	if err != nil {
		return req.Reply(ctx, "Usage: "+usageEditTask)
	}
	loc, err := b.dep.Store.UserLocation(ctx, req.FromID)
	if err != nil {
		return fail(ctx, req, err)
	}

	rest := req.Args[2:]
	clock, hasTime := "00:00", false
	if len(rest) > 0 {
		if _, _, perr := timeutil.ParseClock(rest[0]); perr == nil {
			clock, hasTime = rest[0], true
			rest = rest[1:]
		}
	}
	if len(rest) == 1 {
		return req.Reply(ctx, "Usage: "+usageEditTask)
	}
	deadline, err := timeutil.ParseLocalDateTime(req.Args[1], clock, loc)
	if err != nil {
		return fail(ctx, req, err)
	}
	now := b.dep.Now()
	if (hasTime && !deadline.After(now)) || (!hasTime && deadline.Before(timeutil.StartOfDay(now.In(loc)))) {
		return req.Reply(ctx, msgPast)
	}

	var category, title string
	if len(rest) >= 2 {
		category, title = rest[0], strings.Join(rest[1:], " ")
	}
	old, t, err := b.dep.Store.UpdateTask(ctx, req.FromID, id, title, category, deadline, hasTime)
	if err != nil {
		return fail(ctx, req, err)
	}
	if err := b.dep.Planner.Reschedule(ctx, req.FromID, reminder.TaskItem(old), reminder.TaskItem(t)); err != nil {
		req.Logger.Warn("replanning edited task failed", logx.Err(err))
	}
	when := timeutil.DayKey(t.Deadline.In(loc))
	if t.HasTime {
		when = timeutil.Localize(t.Deadline, loc)
	}
	return req.Reply(ctx, fmt.Sprintf("✏️ Task #%d is now “%s” (%s) due %s.", t.ID, t.Title, t.Category, when))
}

func (b *Bot) listEvents(ctx context.Context, req *router.Request) error {
	loc, err := b.dep.Store.UserLocation(ctx, req.FromID)
	if err != nil {
		return fail(ctx, req, err)
	}
	events, err := b.dep.Store.UpcomingEvents(ctx, req.FromID, b.dep.Now(), 20)
	if err != nil {
		return fail(ctx, req, err)
	}
	if len(events) == 0 {
		return req.Reply(ctx, "🗓️ No upcoming events.")
	}
	lines := []string{"🗓️ Upcoming events"}
	for _, e := range events {
		lines = append(lines, fmt.Sprintf("#%d %s %s", e.ID, timeutil.Localize(e.At, loc), e.Title))
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}

func (b *Bot) listTasks(ctx context.Context, req *router.Request) error {
	loc, err := b.dep.Store.UserLocation(ctx, req.FromID)
	if err != nil {
		return fail(ctx, req, err)
	}
	tasks, err := b.dep.Store.PendingTasks(ctx, req.FromID, 20)
	if err != nil {
		return fail(ctx, req, err)
	}
	if len(tasks) == 0 {
		return req.Reply(ctx, "📝 No pending tasks.")
	}
	lines := []string{"📝 Pending tasks"}
	for _, t := range tasks {
		when := timeutil.DayKey(t.Deadline.In(loc))
		if t.HasTime {
			when = timeutil.Localize(t.Deadline, loc)
		}
		lines = append(lines, fmt.Sprintf("#%d %s [%s] %s", t.ID, when, t.Category, t.Title))
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}

func (b *Bot) deleteEvent(ctx context.Context, req *router.Request) error {
	id, err := strconv.ParseInt(firstArg(req), 10, 64)
	if err != nil {
		return req.Reply(ctx, "Usage: /delevent <id>")
	}
	e, err := b.dep.Store.DeleteEvent(ctx, req.FromID, id)
	if err != nil {
		return fail(ctx, req, err)
	}
	b.dep.Planner.CancelItem(ctx, req.FromID, reminder.EventItem(e))
	return req.Reply(ctx, fmt.Sprintf("🗑️ Event #%d “%s” deleted.", e.ID, e.Title))
}

func (b *Bot) deleteTask(ctx context.Context, req *router.Request) error {
	id, err := strconv.ParseInt(firstArg(req), 10, 64)
	if err != nil {
		return req.Reply(ctx, "Usage: /deltask <id>")
	}
	t, err := b.dep.Store.DeleteTask(ctx, req.FromID, id)
	if err != nil {
		return fail(ctx, req, err)
	}
	b.dep.Planner.CancelItem(ctx, req.FromID, reminder.TaskItem(t))
	return req.Reply(ctx, fmt.Sprintf("🗑️ Task #%d “%s” deleted.", t.ID, t.Title))
}

func firstArg(req *router.Request) string {
	if len(req.Args) == 0 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(req.Args[0]))
}
