// Package gardener periodically prunes subscribers the bot can no
// longer deliver to: chats the bot was removed from, or that ceased to
// exist while the bot was offline and so never produced a send error.
package gardener

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"rssbot/internal/transport"
	"rssbot/pkg/logx"
)

// Database is the subscriber slice of the feed store the gardener uses.
type Database interface {
	AllSubscribers() []int64
	DeleteSubscriber(chat int64)
}

// Inspector is the transport surface for membership probes.
type Inspector interface {
	ChatByID(ctx context.Context, id int64) (transport.Chat, error)
	ChatMemberOf(ctx context.Context, chat, user int64) (transport.ChatMember, error)
}

type Config struct {
	// Schedule is a cron spec or @every expression; defaults to one
	// sweep per day.
	Schedule string
	// SweepTimeout bounds one full sweep.
	SweepTimeout time.Duration
}

type Service struct {
	cfg       Config
	log       logx.Logger
	db        Database
	inspector Inspector
	botID     int64

	mu      sync.Mutex
	c       *cron.Cron
	runCtx  context.Context
	cancel  context.CancelFunc
	sweepWG sync.WaitGroup
}

func New(cfg Config, db Database, inspector Inspector, botID int64, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 24h"
	}
	if cfg.SweepTimeout <= 0 {
		cfg.SweepTimeout = 10 * time.Minute
	}
	return &Service{cfg: cfg, log: log, db: db, inspector: inspector, botID: botID}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)

	c := cron.New()
	if _, err := c.AddFunc(s.cfg.Schedule, func() {
		s.sweepWG.Add(1)
		defer s.sweepWG.Done()
		s.Sweep(s.runCtx)
	}); err != nil {
		s.cancel()
		return err
	}
	c.Start()
	s.c = c
	s.log.Info("gardener started", logx.String("schedule", s.cfg.Schedule))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	cancel()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.sweepWG.Wait()
	s.log.Info("gardener stopped")
}

// Sweep walks every distinct subscriber once and unsubscribes the dead
// ones. Probe errors are logged and skipped: a flaky API answer must
// never cost a live subscriber.
func (s *Service) Sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SweepTimeout)
	defer cancel()

	subscribers := s.db.AllSubscribers()
	pruned := 0
	for _, id := range subscribers {
		if ctx.Err() != nil {
			s.log.Warn("sweep aborted", logx.Err(ctx.Err()), logx.Int("pruned", pruned))
			return
		}
		if s.prune(ctx, id) {
			pruned++
		}
	}
	s.log.Info("sweep finished", logx.Int("checked", len(subscribers)), logx.Int("pruned", pruned))
}

func (s *Service) prune(ctx context.Context, id int64) bool {
	chat, err := s.inspector.ChatByID(ctx, id)
	if err != nil {
		if te, ok := transport.AsError(err); ok && te.PermanentlyUnreachable() {
			s.log.Info("chat gone, unsubscribing", logx.Int64("chat", id), logx.String("reason", te.Kind.String()))
			s.db.DeleteSubscriber(id)
			return true
		}
		s.log.Warn("chat probe failed", logx.Int64("chat", id), logx.Err(err))
		return false
	}
	if !chat.IsGroupKind() {
		return false
	}
	member, err := s.inspector.ChatMemberOf(ctx, id, s.botID)
	if err != nil {
		s.log.Warn("membership probe failed", logx.Int64("chat", id), logx.Err(err))
		return false
	}
	if member.Gone() {
		s.log.Info("no longer a member, unsubscribing", logx.Int64("chat", id), logx.String("status", string(member.Status)))
		s.db.DeleteSubscriber(id)
		return true
	}
	return false
}
