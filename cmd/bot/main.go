package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"rssbot/internal/app"
	"rssbot/internal/config"
)

type idList []int64

func (l *idList) String() string { return fmt.Sprint([]int64(*l)) }

func (l *idList) Set(v string) error {
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return err
	}
	*l = append(*l, id)
	return nil
}

func main() {
	var (
		cfgPath     = flag.String("config", "", "path to a JSON or YAML config file")
		token       = flag.String("token", "", "Telegram bot token (overrides the config)")
		database    = flag.String("database", "", "path to the subscription database")
		minInterval = flag.Duration("min-interval", 0, "minimum fetch interval")
		maxInterval = flag.Duration("max-interval", 0, "maximum fetch interval")
		maxFeedSize = flag.Int64("max-feed-size", 0, "maximum feed size in bytes, 0 for unlimited")
		restricted  = flag.Bool("restricted", false, "restrict group commands to group admins")
		insecure    = flag.Bool("insecure", false, "accept invalid TLS certificates on feed hosts")
	)
	var admins idList
	flag.Var(&admins, "admin", "admin user id; repeatable, enables private mode")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fatal(err)
	}
	applyFlags(cfg, *token, *database, *minInterval, *maxInterval, *maxFeedSize, *restricted, *insecure, admins)

	a, err := app.New(cfg)
	if err != nil {
		fatal(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := a.Start(ctx); err != nil {
		fatal(err)
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	a.Stop(stopCtx)
}

func applyFlags(cfg *config.Config, token, database string, minInterval, maxInterval time.Duration, maxFeedSize int64, restricted, insecure bool, admins idList) {
	if token != "" {
		cfg.Telegram.Token = token
	}
	if database != "" {
		cfg.Database.Path = database
	}
	if minInterval > 0 {
		cfg.Fetch.MinInterval = minInterval.String()
	}
	if maxInterval > 0 {
		cfg.Fetch.MaxInterval = maxInterval.String()
	}
	if isFlagSet("max-feed-size") {
		cfg.Fetch.MaxFeedSize = maxFeedSize
	}
	if restricted {
		cfg.Restricted = true
	}
	if insecure {
		cfg.Fetch.Insecure = true
	}
	if len(admins) > 0 {
		cfg.Admins = append(cfg.Admins, admins...)
	}
}

func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "fatal:", err)
	os.Exit(1)
}
