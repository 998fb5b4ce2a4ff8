package respawn

import (
	"context"
	"sync"
	"time"

	logx "respawnbot/pkg/logx"
)

// Worker is the trigger loop: it watches both timers, sleeps until the
// soonest next-fire instant, and decides which timer(s) actually fire.
//
// Every iteration recomputes both instants fresh from live state, so
// enable/disable toggles and base-time changes take effect on the very next
// decision without a restart. Fires are detached goroutines; the loop only
// keeps per-timer "last fired instant" bookkeeping, which is what guarantees
// at-most-once firing per computed tick while playback is still in flight.
type Worker struct {
	state *State
	sched *Scheduler
	log   logx.Logger

	minSleep        time.Duration
	collisionWindow time.Duration

	// clock is swapped in tests.
	clock func() time.Time

	lastFired10 time.Time
	lastFired2h time.Time

	wg sync.WaitGroup
}

type WorkerConfig struct {
	MinSleep        time.Duration
	CollisionWindow time.Duration
}

func NewWorker(state *State, sched *Scheduler, cfg WorkerConfig, log logx.Logger) *Worker {
	if cfg.MinSleep <= 0 {
		cfg.MinSleep = DefaultMinSleep
	}
	if cfg.CollisionWindow <= 0 {
		cfg.CollisionWindow = DefaultCollisionWindow
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Worker{
		state:           state,
		sched:           sched,
		log:             log,
		minSleep:        cfg.MinSleep,
		collisionWindow: cfg.CollisionWindow,
		clock:           time.Now,
	}
}

// Run blocks until ctx is cancelled. Playback failures never stop the loop;
// the only exit is cancellation.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("trigger loop started",
		logx.Duration("min_sleep", w.minSleep),
		logx.Duration("collision_window", w.collisionWindow),
	)
	defer w.log.Info("trigger loop stopped")

	for {
		now := w.clock()
		next10, next2h, err := w.sched.ComputeNext(now)
		if err != nil {
			w.log.Error("next-tick computation failed", logx.Err(err))
			if serr := sleepCtx(ctx, time.Second); serr != nil {
				break
			}
			continue
		}

		wait := next10.Sub(now)
		if d := next2h.Sub(now); d < wait {
			wait = d
		}
		if wait < w.minSleep {
			wait = w.minSleep
		}
		if err := sleepCtx(ctx, wait); err != nil {
			break
		}

		// The sleep may overshoot (scheduler jitter); decisions are made
		// against a fresh reading, never the computed delay.
		w.evaluate(ctx, w.clock(), next10, next2h)
	}

	w.wg.Wait()
	return ctx.Err()
}

// evaluate applies the fire decisions for one wakeup.
//
// The 2-hour timer is checked first: on a collision (both next instants
// within the collision window) it has priority and the 10-minute tick is
// suppressed. A due tick is always recorded as handled, fired or not, so the
// same instant is never reconsidered on the next iteration.
func (w *Worker) evaluate(ctx context.Context, now, next10, next2h time.Time) {
	fired2h := false
	if !now.Before(next2h) && !next2h.Equal(w.lastFired2h) {
		w.lastFired2h = next2h
		if w.state.Enabled(Timer2h) {
			fired2h = true
			w.fire(ctx, Timer2h, next2h)
		} else {
			w.log.Debug("due tick skipped (timer disabled)",
				logx.String("timer", Timer2h.String()), logx.Time("tick", next2h))
		}
	}

	collision := absDuration(next10.Sub(next2h)) < w.collisionWindow

	if !now.Before(next10) && !next10.Equal(w.lastFired10) {
		w.lastFired10 = next10
		switch {
		case fired2h && collision:
			w.log.Info("10m tick suppressed by 2h collision", logx.Time("tick", next10))
		case w.state.Enabled(Timer10m):
			w.fire(ctx, Timer10m, next10)
		default:
			w.log.Debug("due tick skipped (timer disabled)",
				logx.String("timer", Timer10m.String()), logx.Time("tick", next10))
		}
	}
}

// fire launches playback detached so a slow or failing play never stalls
// tick detection.
func (w *Worker) fire(ctx context.Context, kind TimerKind, tick time.Time) {
	w.log.Info("timer fired", logx.String("timer", kind.String()), logx.Time("tick", tick))
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				w.log.Error("playback panicked", logx.String("timer", kind.String()), logx.Any("panic", r))
			}
		}()
		w.sched.Play(ctx, kind, false)
	}()
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
