package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"ingestd/internal/runtime/supervisor"
	"ingestd/pkg/logx"
)

const (
	DefaultAddr = "127.0.0.1:9464"
	DefaultPath = "/metrics"
)

// ServerConfig controls the optional metrics listener.
type ServerConfig struct {
	Enabled bool
	Addr    string
	Path    string
	// Pprof also mounts net/http/pprof under /debug/pprof/.
	Pprof bool
}

func (c ServerConfig) normalized() ServerConfig {
	c.Addr = strings.TrimSpace(c.Addr)
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	c.Path = strings.TrimSpace(c.Path)
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if !strings.HasPrefix(c.Path, "/") {
		c.Path = "/" + c.Path
	}
	return c
}

// Server serves a metrics handler and can be reconfigured at runtime.
type Server struct {
	handler http.Handler
	log     logx.Logger

	mu   sync.Mutex
	cfg  ServerConfig
	sup  *supervisor.Supervisor
	addr string
}

func NewServer(cfg ServerConfig, handler http.Handler, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg.normalized(), handler: handler, log: log.With(logx.String("comp", "metrics"))}
}

// Addr is the bound listen address, empty while not serving.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Reconfigure applies cfg, starting, stopping or restarting the listener.
func (s *Server) Reconfigure(ctx context.Context, cfg ServerConfig) {
	cfg = cfg.normalized()
	s.mu.Lock()
	prev := s.cfg
	running := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		s.Stop(ctx)
	case !running:
		s.Start(ctx)
	case prev != cfg:
		s.Stop(ctx)
		s.Start(ctx)
	}
}

// Start is a no-op when disabled or already running.
func (s *Server) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || !s.cfg.Enabled {
		return
	}
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
	s.sup.GoRestart("metrics.serve", s.serve, supervisor.RestartPolicy{
		MinBackoff: 500 * time.Millisecond,
		MaxBackoff: 10 * time.Second,
	})
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	if err := sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("metrics stop", logx.Err(err))
	}
	s.log.Info("metrics stopped")
}

func (s *Server) mux(cfg ServerConfig) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, s.handler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Pprof {
		mux.HandleFunc("/debug/pprof/", hpprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)
	}
	return mux
}

func (s *Server) serve(ctx context.Context) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	if !isLoopbackAddr(cfg.Addr) {
		s.log.Warn("metrics listening on a non-loopback address", logx.String("addr", cfg.Addr))
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		s.log.Error("metrics listen failed", logx.String("addr", cfg.Addr), logx.Err(err))
		return err
	}

	srv := &http.Server{
		Handler:           s.mux(cfg),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(sctx)
		cancel()
	}()

	bound := ln.Addr().String()
	s.mu.Lock()
	s.addr = bound
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.addr == bound {
			s.addr = ""
		}
		s.mu.Unlock()
	}()

	s.log.Info("metrics started", logx.String("addr", bound), logx.String("path", cfg.Path), logx.Bool("pprof", cfg.Pprof))
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("metrics server exited unexpectedly")
	}
	return err
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil || strings.TrimSpace(h) == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
