package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"studybot/internal/eventbus"
	rtsup "studybot/internal/runtime/supervisor"
	logx "studybot/pkg/logx"
)

var (
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const historySize = 200

// Service is safe for concurrent use.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus
	dep Deps

	limiter *rate.Limiter

	queue     chan Message
	stopped   bool
	sendWG    sync.WaitGroup
	sup       *rtsup.Supervisor
	stopDone  chan struct{}

	// dmu makes the dedup check-and-set atomic across callers.
	dmu       sync.Mutex
	seen      *lru.Cache[string, time.Time]
	persistCh chan dedupWrite

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, dep Deps, log logx.Logger, bus eventbus.Bus) *Service {
	if bus == nil {
		bus = eventbus.Nop{}
	}
	if dep.Recorder == nil {
		dep.Recorder = nopRecorder{}
	}
	cfg = withDefaults(cfg)
	seen, _ := lru.New[string, time.Time](cfg.DedupMaxEntries)
	return &Service{
		cfg:     cfg,
		log:     log,
		bus:     bus,
		dep:     dep,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		seen:    seen,
	}
}

func withDefaults(cfg Config) Config {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 512
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	cfg.RetryMax = max(cfg.RetryMax, 0)
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 20 * time.Second
	}
	cfg.DedupWindow = max(cfg.DedupWindow, 0)
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 5000
	}
	return cfg
}

// Apply updates pacing, retry and dedup settings. Worker and queue sizes
// take effect on the next Start.
func (s *Service) Apply(cfg Config) {
	cfg = withDefaults(cfg)
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.limiter.SetLimit(rate.Limit(cfg.RatePerSec))
	s.limiter.SetBurst(cfg.RatePerSec)
	s.dmu.Lock()
	s.seen.Resize(cfg.DedupMaxEntries)
	s.dmu.Unlock()
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Start launches the worker pool. Without it, or with the pipeline disabled,
// Notify delivers inline.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.queue != nil || s.stopDone != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	cfg := s.cfg
	s.queue = make(chan Message, cfg.QueueSize)
	s.stopped = false
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.Component("notifier")),
		rtsup.WithCancelOnError(false),
	)
	if cfg.PersistDedup && s.dep.Dedup != nil {
		s.persistCh = make(chan dedupWrite, 1024)
	}
	q, sup, pch := s.queue, s.sup, s.persistCh
	s.mu.Unlock()

	if pch != nil {
		sup.Go0("dedup.persist", func(c context.Context) { s.persistLoop(c, pch) })
	}
	for i := 0; i < cfg.Workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case m, ok := <-q:
					if !ok {
						return nil
					}
					s.deliver(c, m)
				}
			}
		})
	}
	s.log.Info("notifier started", logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize))
}

// Stop refuses new messages and drains the queue until ctx expires; then the
// remaining sends are cancelled.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q, pch, sup := s.queue, s.persistCh, s.sup
	if q == nil || s.stopDone != nil {
		s.mu.Unlock()
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.stopped = true
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.sendWG.Wait()
		close(q)
		if pch != nil {
			close(pch)
		}
		_ = sup.Wait(context.Background())
		s.mu.Lock()
		s.queue, s.persistCh, s.sup, s.stopDone = nil, nil, nil, nil
		// a pipeline disabled by config falls back to inline delivery
		if !s.cfg.Enabled {
			s.stopped = false
		}
		s.mu.Unlock()
	}()

	select {
	case <-done:
		s.log.Info("notifier drained")
	case <-ctx.Done():
		s.log.Warn("notifier drain timed out", logx.Int("left", len(q)))
		sup.Cancel()
	}
}

// Notify dedups and dispatches m. Delivery failures are handled here and
// never returned; the only errors are intake errors (queue full, stopped,
// cancelled).
func (s *Service) Notify(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	async := q != nil
	if async {
		s.sendWG.Add(1)
		defer s.sendWG.Done()
	}
	s.mu.Unlock()

	until, fresh := s.claim(ctx, m)
	if !fresh {
		s.dep.Recorder.ObserveDedup(m.Kind)
		s.bus.Publish(eventbus.Event{Type: eventbus.NotifyDeduped, Data: DeliveryEvent{UserID: m.UserID, Key: m.Key, Kind: m.Kind, At: time.Now()}})
		s.log.Debug("notification deduped", logx.String("key", m.Key), logx.User(m.UserID))
		return nil
	}

	if !async {
		s.deliver(ctx, m)
		s.persist(m.Key, until)
		return nil
	}
	select {
	case q <- m:
		s.persist(m.Key, until)
		return nil
	default:
		s.unclaim(m.Key)
		s.dep.Recorder.ObserveDispatch(ChannelChat, m.Kind, "dropped")
		return ErrQueueFull
	}
}

func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(it HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, it)
	if over := len(s.history) - historySize; over > 0 {
		s.history = s.history[over:]
	}
	s.hmu.Unlock()
}
