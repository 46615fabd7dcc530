package fetcher

import (
	"context"
	"sync"
	"time"

	"rssbot/internal/client"
	"rssbot/internal/storage"
	"rssbot/internal/transport"
	"rssbot/pkg/logx"
)

// Database is the slice of the feed store the refresh pipeline uses.
// Every operation is atomic with respect to concurrent tasks.
type Database interface {
	AllFeeds() []*storage.Feed
	Update(link string, fetched *client.ParsedFeed) []storage.ChangeEvent
	GetOrUpdateDownTime(link string) (time.Duration, bool)
	ResetDownTime(link string)
	DeleteSubscriber(chat int64)
	UpdateSubscriber(old, new int64)
}

// Puller fetches and parses one feed URL.
type Puller interface {
	Pull(ctx context.Context, url string) (*client.ParsedFeed, error)
}

type Config struct {
	// MinInterval is both the floor of every feed's re-fetch interval
	// and the cadence of the re-enumeration pass (and therefore the
	// throttle window).
	MinInterval time.Duration
	MaxInterval time.Duration
}

// Service is the refresh orchestrator: it re-enumerates known feeds on a
// fixed cadence, drains due tasks from the queue and launches one
// fetch-and-deliver goroutine per due feed.
type Service struct {
	cfg      Config
	log      logx.Logger
	db       Database
	puller   Puller
	sender   transport.Sender
	queue    *Queue
	throttle *Throttle

	runMu    sync.Mutex
	cancel   context.CancelFunc
	loopDone chan struct{}
	tasks    sync.WaitGroup
}

func New(cfg Config, db Database, puller Puller, sender transport.Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.MinInterval < time.Second {
		cfg.MinInterval = time.Second
	}
	if cfg.MaxInterval < cfg.MinInterval {
		cfg.MaxInterval = cfg.MinInterval
	}
	return &Service{
		cfg:      cfg,
		log:      log,
		db:       db,
		puller:   puller,
		sender:   sender,
		queue:    NewQueue(),
		throttle: NewThrottle(int(cfg.MinInterval / time.Second)),
	}
}

// Start launches the control loop. It returns immediately.
func (s *Service) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.loopDone = make(chan struct{})
	go s.run(runCtx)
	s.log.Info("refresh loop started",
		logx.Duration("min_interval", s.cfg.MinInterval),
		logx.Duration("max_interval", s.cfg.MaxInterval))
}

// Stop halts scheduling and waits for in-flight fetch/deliver tasks to
// finish, bounded by ctx. Tasks past their throttle wait are allowed to
// complete their deliveries so subscriber sets are not left
// half-notified.
func (s *Service) Stop(ctx context.Context) {
	s.runMu.Lock()
	cancel := s.cancel
	loopDone := s.loopDone
	s.cancel = nil
	s.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-loopDone

	done := make(chan struct{})
	go func() {
		s.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("refresh loop stopped")
	case <-ctx.Done():
		s.log.Warn("refresh stop timed out with tasks in flight")
	}
}

func (s *Service) run(ctx context.Context) {
	defer close(s.loopDone)

	due := make(chan *storage.Feed)
	go func() {
		for {
			feed, err := s.queue.Next(ctx)
			if err != nil {
				close(due)
				return
			}
			select {
			case due <- feed:
			case <-ctx.Done():
				close(due)
				return
			}
		}
	}()

	ticker := time.NewTicker(s.cfg.MinInterval)
	defer ticker.Stop()
	s.enumerate()

	for {
		// Drain a due feed first when both a feed and a tick are ready,
		// to keep fetch latency low.
		select {
		case feed, ok := <-due:
			if !ok {
				return
			}
			s.launch(ctx, feed)
			continue
		default:
		}
		select {
		case <-ctx.Done():
			return
		case feed, ok := <-due:
			if !ok {
				return
			}
			s.launch(ctx, feed)
		case <-ticker.C:
			s.enumerate()
		}
	}
}

// enumerate reschedules every known feed. Feeds already pending keep
// their earlier slot (Enqueue rejects duplicates).
func (s *Service) enumerate() {
	feeds := s.db.AllFeeds()
	queued := 0
	for _, feed := range feeds {
		if s.queue.Enqueue(feed, s.effectiveInterval(feed)) {
			queued++
		}
	}
	s.log.Debug("feeds scheduled", logx.Int("known", len(feeds)), logx.Int("queued", queued))
}

// effectiveInterval clamps the feed's advertised interval into the
// configured bounds, minus one second so a feed's own cadence stays
// staggered against the enumeration tick instead of phase-locking.
func (s *Service) effectiveInterval(feed *storage.Feed) time.Duration {
	var advertised time.Duration
	if feed.TTL != nil {
		advertised = time.Duration(*feed.TTL) * time.Minute
	}
	iv := advertised
	if iv < s.cfg.MinInterval {
		iv = s.cfg.MinInterval
	}
	if iv > s.cfg.MaxInterval {
		iv = s.cfg.MaxInterval
	}
	return iv - time.Second
}

// launch runs one fetch-and-deliver task, fire-and-forget. The task
// waits out its throttle slot under the loop context (so shutdown
// cancels queued waits), then delivers under a detached context so an
// in-progress fan-out is not cut off mid-batch.
func (s *Service) launch(ctx context.Context, feed *storage.Feed) {
	ticket := s.throttle.Acquire()
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		defer ticket.Release()
		if err := ticket.Wait(ctx); err != nil {
			return
		}
		taskCtx := context.WithoutCancel(ctx)
		if err := s.fetchAndPush(taskCtx, feed); err != nil {
			s.log.Error("feed refresh failed", logx.String("feed", feed.Link), logx.Err(err))
		}
	}()
}
