// Package httpapi exposes the settings and schedule API consumed by the web
// dashboard and desktop clients.
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"respawnbot/internal/eventbus"
	"respawnbot/internal/respawn"
	"respawnbot/internal/storage"
	"respawnbot/internal/syncer"
	logx "respawnbot/pkg/logx"
)

type Config struct {
	Enabled bool
	Addr    string
	Token   string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type Service struct {
	cfg    Config
	state  *respawn.State
	sched  *respawn.Scheduler
	syncer *syncer.Service
	store  storage.Store
	bus    eventbus.Bus
	log    logx.Logger

	mu      sync.Mutex
	ln      net.Listener
	srv     *http.Server
	baseCtx context.Context
}

func New(cfg Config, state *respawn.State, sched *respawn.Scheduler, sync *syncer.Service, store storage.Store, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		state:  state,
		sched:  sched,
		syncer: sync,
		store:  store,
		bus:    bus,
		log:    log,
	}
}

func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.log.Debug("http api disabled")
		return nil
	}

	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:8130"
	}

	// Safety: prevent accidental public exposure without auth.
	if s.cfg.Token == "" && !isLoopbackAddr(addr) {
		return fmt.Errorf("http api refused to start: non-loopback addr %q requires a token", addr)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http api listen %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:      s.routes(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	s.mu.Lock()
	s.ln = ln
	s.srv = srv
	s.baseCtx = ctx
	s.mu.Unlock()

	go func() {
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http api stopped with error", logx.Err(err))
		}
	}()

	s.log.Info("http api started",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("token_set", s.cfg.Token != ""),
	)
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
	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		_ = srv.Close()
	}
	s.log.Info("http api stopped")
}

func (s *Service) routes() http.Handler {
	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.HandlerFunc { return s.withAuth(h) }

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /api/settings", wrap(s.handleGetSettings))
	mux.HandleFunc("PUT /api/settings", wrap(s.handlePutSettings))
	mux.HandleFunc("PATCH /api/settings", wrap(s.handlePatchSettings))
	mux.HandleFunc("POST /api/timers/{kind}/toggle", wrap(s.handleToggle))
	mux.HandleFunc("GET /api/next", wrap(s.handleNext))
	mux.HandleFunc("POST /api/play/{kind}", wrap(s.handlePlay))
	mux.HandleFunc("POST /api/sync", wrap(s.handleSync))
	mux.HandleFunc("GET /api/fires", wrap(s.handleFires))
	mux.HandleFunc("GET /ws", wrap(s.handleWS))

	return mux
}

func (s *Service) withAuth(h http.HandlerFunc) http.HandlerFunc {
	token := s.cfg.Token
	if token == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		// Websocket clients can't always set headers; accept a query token too.
		if got == "" {
			got = r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if host == "localhost" || host == "" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
