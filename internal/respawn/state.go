package respawn

import (
	"fmt"
	"sync"
	"time"

	logx "respawnbot/pkg/logx"
)

// State is the process-wide respawn configuration.
//
// It is constructed once at startup, seeded from storage, and shared by
// handle with the trigger loop, the sync service, and the HTTP handlers.
// All access goes through the internal mutex; the trigger loop only reads,
// request handlers and the sync service write.
//
// Mutators validate at the boundary: invalid values are rejected with an
// error and never stored. Every successful mutation fires the registered
// change observers synchronously, in registration order, each isolated so a
// misbehaving observer cannot break scheduling or suppress later observers.
type State struct {
	mu sync.Mutex

	maxChannels int

	channels       []uint64
	baseTime       string
	leadSeconds    int
	enabled10m     bool
	enabled2h      bool
	useSyncedTime  bool
	syncedBaseTime string
	lastSyncAt     time.Time
	rolesAllowed   []uint64
	repeat10m      Repeat
	repeat2h       Repeat

	obsMu     sync.Mutex
	observers []func()

	log logx.Logger
}

func NewState(maxChannels int, log logx.Logger) *State {
	if maxChannels <= 0 {
		maxChannels = DefaultMaxChannels
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	def := DefaultSettings()
	s := &State{maxChannels: maxChannels, log: log}
	s.applyLocked(def)
	return s
}

// ---- observers ----

// OnChange registers a change observer. Observers receive no payload; they
// re-read whatever they need from the state.
func (s *State) OnChange(fn func()) {
	if fn == nil {
		return
	}
	s.obsMu.Lock()
	s.observers = append(s.observers, fn)
	s.obsMu.Unlock()
}

// NotifyChanged runs all observers. Called after every mutation, outside the
// state lock so observers may read back through the public API.
func (s *State) NotifyChanged() {
	s.obsMu.Lock()
	obs := make([]func(), len(s.observers))
	copy(obs, s.observers)
	s.obsMu.Unlock()

	for i, fn := range obs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("state observer panicked", logx.Int("observer", i), logx.Any("panic", r))
				}
			}()
			fn()
		}()
	}
}

// ---- accessors ----

func (s *State) MaxChannels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxChannels
}

func (s *State) Channels() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, len(s.channels))
	copy(out, s.channels)
	return out
}

func (s *State) BaseTime() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseTime
}

func (s *State) LeadSeconds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leadSeconds
}

func (s *State) Lead() time.Duration {
	return time.Duration(s.LeadSeconds()) * time.Second
}

func (s *State) Enabled(kind TimerKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if kind == Timer2h {
		return s.enabled2h
	}
	return s.enabled10m
}

func (s *State) Repeat(kind TimerKind) Repeat {
	s.mu.Lock()
	defer s.mu.Unlock()
	if kind == Timer2h {
		return s.repeat2h
	}
	return s.repeat10m
}

func (s *State) LastSyncAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSyncAt
}

// EffectiveBaseTime resolves the alignment anchor: the synced override wins
// when enabled and present, otherwise the manual base time.
func (s *State) EffectiveBaseTime() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.useSyncedTime && s.syncedBaseTime != "" {
		return s.syncedBaseTime
	}
	return s.baseTime
}

// ---- mutators ----

func (s *State) SetChannels(ids []uint64) {
	s.mu.Lock()
	s.channels = dedupeChannels(ids, s.maxChannels)
	s.mu.Unlock()
	s.NotifyChanged()
}

func (s *State) RemoveChannel(id uint64) bool {
	s.mu.Lock()
	removed := false
	n := 0
	for _, c := range s.channels {
		if c == id {
			removed = true
			continue
		}
		s.channels[n] = c
		n++
	}
	s.channels = s.channels[:n]
	s.mu.Unlock()
	if removed {
		s.NotifyChanged()
	}
	return removed
}

func (s *State) SetBaseTime(raw string) error {
	t, err := ParseBaseTime(raw)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.baseTime = t.String()
	s.mu.Unlock()
	s.NotifyChanged()
	return nil
}

func (s *State) SetLeadSeconds(n int) error {
	if n < 0 {
		return fmt.Errorf("lead_seconds must be >= 0, got %d", n)
	}
	s.mu.Lock()
	s.leadSeconds = n
	s.mu.Unlock()
	s.NotifyChanged()
	return nil
}

func (s *State) SetEnabled(kind TimerKind, on bool) {
	s.mu.Lock()
	if kind == Timer2h {
		s.enabled2h = on
	} else {
		s.enabled10m = on
	}
	s.mu.Unlock()
	s.NotifyChanged()
}

// ToggleEnabled flips the timer flag and returns the new value.
func (s *State) ToggleEnabled(kind TimerKind) bool {
	s.mu.Lock()
	var now bool
	if kind == Timer2h {
		s.enabled2h = !s.enabled2h
		now = s.enabled2h
	} else {
		s.enabled10m = !s.enabled10m
		now = s.enabled10m
	}
	s.mu.Unlock()
	s.NotifyChanged()
	return now
}

func (s *State) SetRepeat(kind TimerKind, r Repeat) error {
	if r.Plays < 1 {
		return fmt.Errorf("repeat plays must be >= 1, got %d", r.Plays)
	}
	if r.GapMs < 0 {
		return fmt.Errorf("repeat gap must be >= 0 ms, got %d", r.GapMs)
	}
	s.mu.Lock()
	if kind == Timer2h {
		s.repeat2h = r
	} else {
		s.repeat10m = r
	}
	s.mu.Unlock()
	s.NotifyChanged()
	return nil
}

func (s *State) SetUseSyncedTime(on bool) {
	s.mu.Lock()
	s.useSyncedTime = on
	s.mu.Unlock()
	s.NotifyChanged()
}

// SetSyncedBaseTime records a freshly synced anchor. Called by the sync
// service only; a parse failure leaves the previous value in place.
func (s *State) SetSyncedBaseTime(raw string, at time.Time) error {
	t, err := ParseBaseTime(raw)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.syncedBaseTime = t.String()
	s.lastSyncAt = at
	s.mu.Unlock()
	s.NotifyChanged()
	return nil
}

func (s *State) SetRolesAllowed(roles []uint64) {
	s.mu.Lock()
	s.rolesAllowed = append([]uint64(nil), roles...)
	s.mu.Unlock()
	s.NotifyChanged()
}

// ---- persistence mapping ----

// ApplyPersisted seeds the state from a stored snapshot. Field-level repair
// happens in normalized(); this is the load path, so observers do not fire
// (the save observer is registered after seeding).
func (s *State) ApplyPersisted(p PersistedSettings) {
	s.mu.Lock()
	s.applyLocked(p.normalized(s.maxChannels))
	s.mu.Unlock()
}

func (s *State) applyLocked(p PersistedSettings) {
	s.channels = append([]uint64(nil), p.Channels...)
	s.baseTime = p.BaseTime
	s.leadSeconds = p.LeadSeconds
	s.enabled10m = p.Enabled10m
	s.enabled2h = p.Enabled2h
	s.useSyncedTime = p.UseSyncedTime
	s.syncedBaseTime = p.SyncedBaseTime
	s.lastSyncAt = p.LastSyncAt
	s.rolesAllowed = append([]uint64(nil), p.RolesAllowed...)
	s.repeat10m = Repeat{Plays: p.RepeatPlays10m, GapMs: p.RepeatGapMs10m}
	s.repeat2h = Repeat{Plays: p.RepeatPlays2h, GapMs: p.RepeatGapMs2h}
}

// ToPersisted snapshots the full state for storage and for the settings API.
func (s *State) ToPersisted() PersistedSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return PersistedSettings{
		Channels:       append([]uint64{}, s.channels...),
		BaseTime:       s.baseTime,
		LeadSeconds:    s.leadSeconds,
		Enabled10m:     s.enabled10m,
		Enabled2h:      s.enabled2h,
		UseSyncedTime:  s.useSyncedTime,
		SyncedBaseTime: s.syncedBaseTime,
		LastSyncAt:     s.lastSyncAt,
		RolesAllowed:   append([]uint64{}, s.rolesAllowed...),
		RepeatPlays10m: s.repeat10m.Plays,
		RepeatGapMs10m: s.repeat10m.GapMs,
		RepeatPlays2h:  s.repeat2h.Plays,
		RepeatGapMs2h:  s.repeat2h.GapMs,
	}
}
