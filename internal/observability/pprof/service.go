// Package pprof serves the runtime profiling endpoints on an optional
// HTTP listener. Disabled by default.
package pprof

import (
	"context"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"rssbot/pkg/logx"
)

type Config struct {
	Enabled bool
	// Addr must be a loopback address; the endpoints are unauthenticated.
	Addr string
}

type Service struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config

	ln  net.Listener
	srv *http.Server
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:6060"
	}
	return &Service{cfg: cfg, log: log.With(logx.String("comp", "pprof"))}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.srv != nil {
		return nil
	}

	addr := strings.TrimSpace(s.cfg.Addr)
	if !isLoopbackAddr(addr) {
		return errors.New("pprof: refusing to listen on a non-loopback address")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", hpprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.srv = &http.Server{
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		// No write timeout: /profile blocks for its entire sample window.
		IdleTimeout: time.Minute,
	}
	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("pprof server exited", logx.Err(err))
		}
	}(s.srv)
	s.log.Info("pprof listening", logx.String("addr", ln.Addr().String()))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.ln = nil
	s.mu.Unlock()
	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil {
		_ = srv.Close()
	}
	s.log.Info("pprof stopped")
}

// Addr reports the bound listen address, for tests and logs.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
