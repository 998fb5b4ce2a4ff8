package respawn

import (
	"context"
	"time"

	"github.com/google/uuid"

	"respawnbot/internal/eventbus"
	logx "respawnbot/pkg/logx"
)

// Player is the external voice playback capability. One call plays the asset
// once on one channel (join, speak, leave); the implementation owns the voice
// session serialization.
type Player interface {
	PlayOnce(ctx context.Context, channelID uint64, asset string) error
}

// FireEvent is published on the bus for every fire attempt (scheduled or
// manual). Storage and the websocket stream consume it.
type FireEvent struct {
	ID       string        `json:"id"`
	Kind     string        `json:"kind"`
	At       time.Time     `json:"at"`
	Manual   bool          `json:"manual"`
	Channels int           `json:"channels"`
	OK       int           `json:"ok"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// SchedulerConfig names the sound asset played for each timer kind.
type SchedulerConfig struct {
	Sound10m string
	Sound2h  string
}

// Scheduler computes next-fire instants from live state and fans a fire out
// to all configured channels through the Player.
type Scheduler struct {
	state  *State
	player Player
	bus    eventbus.Bus
	log    logx.Logger
	cfg    SchedulerConfig
}

func NewScheduler(state *State, player Player, bus eventbus.Bus, cfg SchedulerConfig, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{state: state, player: player, bus: bus, cfg: cfg, log: log}
}

// ComputeNext resolves the effective anchor once and returns the next fire
// instants for both timers. Deterministic for a given now and state; callers
// poll it, nothing is cached.
func (s *Scheduler) ComputeNext(now time.Time) (next10, next2h time.Time, err error) {
	base, err := ParseBaseTime(s.state.EffectiveBaseTime())
	if err != nil {
		// State validates at the boundary, so this only fires if storage was
		// edited out-of-band.
		return time.Time{}, time.Time{}, err
	}
	lead := s.state.Lead()
	next10 = NextAligned(now, base, Period10m, lead)
	next2h = NextAligned(now, base, Period2h, lead)
	return next10, next2h, nil
}

// Play runs one full fire for the given timer kind: every configured channel
// in order, repeat-count plays per channel with the configured gap between
// plays. A channel failure is logged and skips to the next channel; nothing
// propagates to the caller.
func (s *Scheduler) Play(ctx context.Context, kind TimerKind, manual bool) {
	asset := s.cfg.Sound10m
	if kind == Timer2h {
		asset = s.cfg.Sound2h
	}
	rep := s.state.Repeat(kind)
	channels := s.state.Channels()

	ev := FireEvent{
		ID:       uuid.NewString(),
		Kind:     kind.String(),
		At:       time.Now(),
		Manual:   manual,
		Channels: len(channels),
	}
	log := s.log.With(logx.String("fire", ev.ID), logx.String("timer", ev.Kind))

	if len(channels) == 0 {
		log.Debug("fire with no channels configured")
	}

	for _, ch := range channels {
		if ctx.Err() != nil {
			break
		}
		if err := s.playChannel(ctx, ch, asset, rep); err != nil {
			ev.Failed++
			log.Warn("channel playback failed", logx.Uint64("channel", ch), logx.Err(err))
			continue
		}
		ev.OK++
	}

	ev.Duration = time.Since(ev.At)
	log.Info("fire finished",
		logx.Bool("manual", ev.Manual),
		logx.Int("channels", ev.Channels),
		logx.Int("ok", ev.OK),
		logx.Int("failed", ev.Failed),
		logx.Duration("dur", ev.Duration),
	)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeTimerFired, Time: ev.At, Data: ev})
	}
}

func (s *Scheduler) playChannel(ctx context.Context, channelID uint64, asset string, rep Repeat) error {
	for i := 0; i < rep.Plays; i++ {
		if i > 0 && rep.GapMs > 0 {
			if err := sleepCtx(ctx, rep.Gap()); err != nil {
				return err
			}
		}
		if err := s.player.PlayOnce(ctx, channelID, asset); err != nil {
			return err
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	tmr := time.NewTimer(d)
	select {
	case <-ctx.Done():
		if !tmr.Stop() {
			<-tmr.C
		}
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}
