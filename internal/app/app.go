// Package app wires the bot together: config, logging, transport,
// storage, the fetch pipeline, command handlers and housekeeping.
package app

import (
	"context"
	"io"

	"rssbot/internal/client"
	"rssbot/internal/commands"
	"rssbot/internal/config"
	"rssbot/internal/fetcher"
	"rssbot/internal/gardener"
	"rssbot/internal/observability/pprof"
	"rssbot/internal/storage"
	"rssbot/internal/transport/telegram"
	"rssbot/pkg/logx"
)

type App struct {
	cfg *config.Config
	log logx.Logger

	logCloser io.Closer
	adapter   *telegram.Adapter
	store     *storage.Store
	fetch     *fetcher.Service
	garden    *gardener.Service
	pprof     *pprof.Service
}

// New builds the full object graph. Nothing is started yet; a returned
// error leaves no goroutines or open files behind except the validated
// Telegram session.
func New(cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, logCloser := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.ConsoleLogging(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File != "",
			Path:    cfg.Logging.File,
		},
	})

	fail := func(err error) (*App, error) {
		_ = logCloser.Close()
		return nil, err
	}

	// Durations below were parsed once already by Validate.
	pollTimeout, _ := cfg.PollTimeout()
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		RatePerSec:  cfg.Telegram.RatePerSec,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return fail(err)
	}

	busyTimeout, _ := cfg.BusyTimeout()
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Database.Driver,
		Path:        cfg.Database.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return fail(err)
	}

	fetchTimeout, _ := cfg.FetchTimeout()
	feedClient := client.New(client.Config{
		BotUsername: adapter.BotUsername(),
		MaxFeedSize: cfg.Fetch.MaxFeedSize,
		Timeout:     fetchTimeout,
		Insecure:    cfg.Fetch.Insecure,
	})

	minInterval, _ := cfg.MinInterval()
	maxInterval, _ := cfg.MaxInterval()
	fetch := fetcher.New(fetcher.Config{
		MinInterval: minInterval,
		MaxInterval: maxInterval,
	}, store, feedClient, adapter, log.With(logx.String("comp", "fetcher")))

	garden := gardener.New(gardener.Config{
		Schedule: cfg.Gardener.Schedule,
	}, store, adapter, adapter.BotID(), log.With(logx.String("comp", "gardener")))

	commands.New(commands.Config{
		Admins:     cfg.Admins,
		Restricted: cfg.Restricted,
	}, adapter, store, feedClient, adapter.BotID(), log.With(logx.String("comp", "commands"))).Register(adapter)

	prof := pprof.New(pprof.Config{
		Enabled: cfg.Pprof.Enabled,
		Addr:    cfg.Pprof.Addr,
	}, log)

	return &App{
		cfg:       cfg,
		log:       log.With(logx.String("comp", "app")),
		logCloser: logCloser,
		adapter:   adapter,
		store:     store,
		fetch:     fetch,
		garden:    garden,
		pprof:     prof,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	if err := a.pprof.Start(ctx); err != nil {
		// Profiling is optional observability; never fail the bot over it.
		a.log.Warn("pprof not started", logx.Err(err))
	}
	if err := a.garden.Start(ctx); err != nil {
		return err
	}
	a.fetch.Start(ctx)
	a.adapter.Start(ctx)
	a.log.Info("bot started",
		logx.String("username", a.adapter.BotUsername()),
		logx.Int("feeds", a.store.FeedCount()))
	return nil
}

// Stop tears the services down in reverse order: no new commands, no
// new fetches, then housekeeping and the listeners.
func (a *App) Stop(ctx context.Context) {
	a.adapter.Stop(ctx)
	a.fetch.Stop(ctx)
	a.garden.Stop(ctx)
	a.pprof.Stop(ctx)
	if err := a.store.Close(); err != nil {
		a.log.Error("store close failed", logx.Err(err))
	}
	a.log.Info("bot stopped")
	_ = a.logCloser.Close()
}
