package app

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"studybot/internal/bot"
	"studybot/internal/config"
	"studybot/internal/eventbus"
	"studybot/internal/mail"
	"studybot/internal/notifier"
	"studybot/internal/observability/metrics"
	"studybot/internal/reminder"
	rtsup "studybot/internal/runtime/supervisor"
	"studybot/internal/storage"
	"studybot/internal/task/engine"
	"studybot/internal/task/scheduler"
	kit "studybot/internal/transport"
	telegram "studybot/internal/transport/telegram/adapter"
	"studybot/internal/transport/telegram/router"
	logx "studybot/pkg/logx"
	"studybot/pkg/timeutil"
)

const sweepScheduleName = "reminders.sweep"

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  *eventbus.MemBus

	store   *storage.SQLite
	adapter *telegram.Adapter
	mailer  *mail.Sender

	engine *engine.Service
	sched  *scheduler.Service
	notif  *notifier.Service

	metrics    *metrics.Metrics
	metricsSrv *metrics.Server

	planner *reminder.Planner
	sweep   *reminder.Sweep
	bot     *bot.Bot
	cmdm    *router.CommandManager

	// mu guards cur, the last applied resolved config.
	mu  sync.Mutex
	cur resolved

	started time.Time
	updates chan kit.Message
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	r, err := resolve(cfg)
	if err != nil {
		return nil, err
	}

	// The chat sink gets its sender once the adapter exists.
	logSvc, log := logx.New(logConfig(cfg, 0), nil)
	appLog := log.Component("app")

	pollTimeout, err := config.ParseDuration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.Component("telegram"))
	if err != nil {
		return nil, err
	}
	logSvc.SetChatSender(ad)
	logSvc.Apply(logConfig(cfg, r.groupLog))

	bus := eventbus.New()

	locs, err := timeutil.NewLocations(r.reminders.DefaultTimezone, 0)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, storage.Config{
		Path:        r.storage.Path,
		BusyTimeout: r.storage.BusyTimeout,
		Locations:   locs,
		Defaults:    userDefaults(r.reminders.Defaults),
	}, log.Component("storage"))
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.MustNewMetrics(reg)
	metricsSrv := metrics.NewServer(r.metrics, reg, log.Component("metrics"))

	mailer := mail.New(r.smtp, log.Component("mail"))
	notif := notifier.New(notifierConfig(r.notifier), notifier.Deps{
		Chat:     ad,
		Mail:     mailer,
		Settings: store,
		Dedup:    store,
		Recorder: m,
	}, log.Component("notifier"), bus)

	eng := engine.New(engineConfig(r.engine), log.Component("taskengine"), bus)
	sched := scheduler.New(scheduler.Config{Location: locs.Default()}, eng, log.Component("scheduler"), bus)

	planner := reminder.NewPlanner(reminder.PlannerConfig{
		Parallelism:     r.reminders.PlanParallelism,
		CallbackTimeout: r.reminders.CallbackTimeout,
	}, store, sched, notif, m, log.Component("planner"))
	sweep := reminder.NewSweep(reminder.SweepConfig{
		Parallelism: r.reminders.SweepParallelism,
	}, store, notif, m, log.Component("sweep"))
	prefs := reminder.NewPreferences(reminder.PreferencesConfig{
		MinOffset: r.reminders.MinOffset,
		MaxOffset: r.reminders.MaxOffset,
	}, store, planner, log.Component("preferences"))

	cmdm := router.NewCommandManager(router.Config{}, log.Component("commands"), ad, cfg.Telegram.OwnerUserIDs)

	a := &App{
		cfgm:       cfgm,
		log:        appLog,
		logs:       logSvc,
		bus:        bus,
		store:      store,
		adapter:    ad,
		mailer:     mailer,
		engine:     eng,
		sched:      sched,
		notif:      notif,
		metrics:    m,
		metricsSrv: metricsSrv,
		planner:    planner,
		sweep:      sweep,
		cmdm:       cmdm,
		cur:        r,
		updates:    make(chan kit.Message, 256),
	}
	a.bot = bot.New(bot.Deps{
		Store:   store,
		Planner: planner,
		Prefs:   prefs,
		Mail:    mailer,
		Status:  a.status,
	}, log.Component("bot"))
	cmdm.Use(router.Throttle(time.Second, 5), a.bot.EnsureUser())
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.started = time.Now()
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.Component("config"))
	a.cfgm.SetValidator(validator)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sup.Go("telegram.watch", a.adapter.Watch)

	// Engine and notifier outlive the app context so Stop can drain them
	// in order.
	svcCtx := context.WithoutCancel(a.sup.Context())
	a.notif.Start(svcCtx)
	a.engine.Start(svcCtx)

	a.mu.Lock()
	rc := a.cur.reminders
	a.mu.Unlock()
	if err := a.sched.AddSchedule(sweepScheduleName, rc.SweepSchedule, rc.CallbackTimeout, a.sweepTick); err != nil {
		return err
	}
	a.sched.Start(a.sup.Context())
	a.metricsSrv.Start(a.sup.Context())

	a.sup.Go0("metrics.watch", func(c context.Context) { a.metrics.Watch(c, a.bus) })
	a.sup.Go0("reminders.plan_all", func(c context.Context) {
		if err := a.planner.PlanAll(c); err != nil {
			a.log.Warn("initial planning incomplete", logx.Err(err))
		}
		a.metrics.SetTimersPending(len(a.sched.Pending()))
	})

	a.cmdm.SetRegistry(a.sup.Context(), a.bot.Commands())
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.notifySystemd(a.sup)
	a.log.Info("app started")
	return nil
}

// sweepTick is the periodic sweep job. It runs on the engine with overlap
// skipping, so a slow tick is never doubled. The sweep is given the cron
// instant, not the time the job got a worker.
func (a *App) sweepTick(ctx context.Context) error {
	now, ok := scheduler.FiredAt(ctx)
	if !ok {
		now = time.Now()
	}
	err := a.sweep.Tick(ctx, now)
	a.metrics.SetTimersPending(len(a.sched.Pending()))
	a.bus.Publish(eventbus.Event{Type: eventbus.SweepCompleted, Time: now})
	return err
}
