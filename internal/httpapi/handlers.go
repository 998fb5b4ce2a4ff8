package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"respawnbot/internal/respawn"
	logx "respawnbot/pkg/logx"
)

// SettingsPatch is the explicit partial-update shape for PATCH /api/settings.
// Only fields present in the request body are applied.
type SettingsPatch struct {
	Channels       *[]uint64 `json:"channels,omitempty"`
	BaseTime       *string   `json:"base_time,omitempty"`
	LeadSeconds    *int      `json:"lead_seconds,omitempty"`
	Enabled10m     *bool     `json:"enabled_10m,omitempty"`
	Enabled2h      *bool     `json:"enabled_2h,omitempty"`
	UseSyncedTime  *bool     `json:"use_synced_time,omitempty"`
	RolesAllowed   *[]uint64 `json:"roles_allowed,omitempty"`
	RepeatPlays10m *int      `json:"repeat_plays_10m,omitempty"`
	RepeatGapMs10m *int      `json:"repeat_gap_ms_10m,omitempty"`
	RepeatPlays2h  *int      `json:"repeat_plays_2h,omitempty"`
	RepeatGapMs2h  *int      `json:"repeat_gap_ms_2h,omitempty"`
}

type nextResponse struct {
	Now    time.Time `json:"now"`
	Next10 time.Time `json:"next_10m"`
	Next2h time.Time `json:"next_2h"`
}

func (s *Service) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.state.ToPersisted())
}

func (s *Service) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var p respawn.PersistedSettings
	if err := decodeJSON(r, &p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := p.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.state.ApplyPersisted(p)
	s.state.NotifyChanged()
	s.log.Info("settings replaced")
	writeJSON(w, http.StatusOK, s.state.ToPersisted())
}

func (s *Service) handlePatchSettings(w http.ResponseWriter, r *http.Request) {
	var p SettingsPatch
	if err := decodeJSON(r, &p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Validating setters reject bad values before anything is stored, so a
	// failed field leaves earlier applied fields in place (each already saved
	// and notified, same as issuing them as separate requests).
	apply := func(err error) bool {
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return false
		}
		return true
	}

	if p.BaseTime != nil && !apply(s.state.SetBaseTime(*p.BaseTime)) {
		return
	}
	if p.LeadSeconds != nil && !apply(s.state.SetLeadSeconds(*p.LeadSeconds)) {
		return
	}
	if p.RepeatPlays10m != nil || p.RepeatGapMs10m != nil {
		rep := s.state.Repeat(respawn.Timer10m)
		if p.RepeatPlays10m != nil {
			rep.Plays = *p.RepeatPlays10m
		}
		if p.RepeatGapMs10m != nil {
			rep.GapMs = *p.RepeatGapMs10m
		}
		if !apply(s.state.SetRepeat(respawn.Timer10m, rep)) {
			return
		}
	}
	if p.RepeatPlays2h != nil || p.RepeatGapMs2h != nil {
		rep := s.state.Repeat(respawn.Timer2h)
		if p.RepeatPlays2h != nil {
			rep.Plays = *p.RepeatPlays2h
		}
		if p.RepeatGapMs2h != nil {
			rep.GapMs = *p.RepeatGapMs2h
		}
		if !apply(s.state.SetRepeat(respawn.Timer2h, rep)) {
			return
		}
	}
	if p.Channels != nil {
		s.state.SetChannels(*p.Channels)
	}
	if p.Enabled10m != nil {
		s.state.SetEnabled(respawn.Timer10m, *p.Enabled10m)
	}
	if p.Enabled2h != nil {
		s.state.SetEnabled(respawn.Timer2h, *p.Enabled2h)
	}
	if p.UseSyncedTime != nil {
		s.state.SetUseSyncedTime(*p.UseSyncedTime)
	}
	if p.RolesAllowed != nil {
		s.state.SetRolesAllowed(*p.RolesAllowed)
	}

	writeJSON(w, http.StatusOK, s.state.ToPersisted())
}

func (s *Service) handleToggle(w http.ResponseWriter, r *http.Request) {
	kind, ok := timerKind(r.PathValue("kind"))
	if !ok {
		http.Error(w, "unknown timer kind, expected 10m or 2h", http.StatusBadRequest)
		return
	}
	now := s.state.ToggleEnabled(kind)
	s.log.Info("timer toggled", logx.String("timer", kind.String()), logx.Bool("enabled", now))
	writeJSON(w, http.StatusOK, map[string]any{"timer": kind.String(), "enabled": now})
}

func (s *Service) handleNext(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	next10, next2h, err := s.sched.ComputeNext(now)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, nextResponse{Now: now, Next10: next10, Next2h: next2h})
}

func (s *Service) handlePlay(w http.ResponseWriter, r *http.Request) {
	kind, ok := timerKind(r.PathValue("kind"))
	if !ok {
		http.Error(w, "unknown timer kind, expected 10m or 2h", http.StatusBadRequest)
		return
	}

	// Detached like a scheduled fire: the request returns immediately and the
	// playback outcome lands in the fire audit.
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()
	if ctx == nil {
		http.Error(w, "service not started", http.StatusServiceUnavailable)
		return
	}
	s.log.Info("manual fire requested", logx.String("timer", kind.String()))
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("manual playback panicked", logx.String("timer", kind.String()), logx.Any("panic", r))
			}
		}()
		s.sched.Play(ctx, kind, true)
	}()

	w.WriteHeader(http.StatusAccepted)
}

func (s *Service) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		http.Error(w, "sync not configured", http.StatusServiceUnavailable)
		return
	}
	if err := s.syncer.RunOnce(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"synced_at": s.state.LastSyncAt(),
		"base_time": s.state.EffectiveBaseTime(),
	})
}

func (s *Service) handleFires(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, []respawn.FireEvent{})
		return
	}
	fires, err := s.store.RecentFires(r.Context(), 50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if fires == nil {
		fires = []respawn.FireEvent{}
	}
	writeJSON(w, http.StatusOK, fires)
}

func timerKind(raw string) (respawn.TimerKind, bool) {
	switch raw {
	case "10m":
		return respawn.Timer10m, true
	case "2h":
		return respawn.Timer2h, true
	default:
		return 0, false
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
