// Package syncer refreshes the synced base time from the game wiki on a
// fixed cadence. It only writes to RespawnState; the trigger loop picks the
// new anchor up on its next iteration through shared state.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"respawnbot/internal/eventbus"
	"respawnbot/internal/respawn"
	logx "respawnbot/pkg/logx"
)

type Config struct {
	Enabled  bool
	URL      string
	Interval time.Duration
	Timeout  time.Duration
}

// Result is published on the bus after each successful sync.
type Result struct {
	BaseTime string    `json:"base_time"`
	At       time.Time `json:"at"`
}

type Service struct {
	cfg    Config
	state  *respawn.State
	bus    eventbus.Bus
	log    logx.Logger
	client *http.Client

	mu sync.Mutex
	c  *cron.Cron
}

func New(cfg Config, state *respawn.State, bus eventbus.Bus, log logx.Logger) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		state:  state,
		bus:    bus,
		log:    log,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Start registers the cadence and runs one sync immediately in the
// background so a fresh process doesn't wait a full interval for its anchor.
func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.log.Debug("sync disabled")
		return nil
	}
	if strings.TrimSpace(s.cfg.URL) == "" {
		return errors.New("sync.url is required when sync is enabled")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	c := cron.New()
	spec := fmt.Sprintf("@every %s", s.cfg.Interval)
	if _, err := c.AddFunc(spec, func() {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("base time sync failed", logx.Err(err))
		}
	}); err != nil {
		return fmt.Errorf("sync schedule %q: %w", spec, err)
	}
	c.Start()
	s.c = c
	s.log.Info("sync started", logx.String("url", s.cfg.URL), logx.Duration("interval", s.cfg.Interval))

	go func() {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("initial base time sync failed", logx.Err(err))
		}
	}()
	return nil
}

func (s *Service) Stop() {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// RunOnce fetches and applies the base time. On any failure the synced value
// is left unchanged and the cadence continues.
func (s *Service) RunOnce(ctx context.Context) error {
	if strings.TrimSpace(s.cfg.URL) == "" {
		return errors.New("sync url not configured")
	}
	rctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(rctx, http.MethodGet, s.cfg.URL, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sync source returned %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return err
	}

	baseRaw, err := ParseResponse(body)
	if err != nil {
		return err
	}

	now := time.Now()
	if err := s.state.SetSyncedBaseTime(baseRaw, now); err != nil {
		return fmt.Errorf("synced base time rejected: %w", err)
	}
	s.log.Info("base time synced", logx.String("base", baseRaw))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeSyncCompleted, Time: now, Data: Result{BaseTime: baseRaw, At: now}})
	}
	return nil
}
