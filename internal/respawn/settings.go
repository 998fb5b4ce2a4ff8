package respawn

import (
	"fmt"
	"time"
)

// PersistedSettings is the flat snapshot written to / read from storage.
//
// Keep it schema-stable: the web dashboard and desktop clients read the same
// shape through the settings API.
type PersistedSettings struct {
	Channels       []uint64  `json:"channels"`
	BaseTime       string    `json:"base_time"`
	LeadSeconds    int       `json:"lead_seconds"`
	Enabled10m     bool      `json:"enabled_10m"`
	Enabled2h      bool      `json:"enabled_2h"`
	UseSyncedTime  bool      `json:"use_synced_time"`
	SyncedBaseTime string    `json:"synced_base_time,omitempty"`
	LastSyncAt     time.Time `json:"last_sync_at,omitempty"`
	RolesAllowed   []uint64  `json:"roles_allowed"`
	RepeatPlays10m int       `json:"repeat_plays_10m"`
	RepeatGapMs10m int       `json:"repeat_gap_ms_10m"`
	RepeatPlays2h  int       `json:"repeat_plays_2h"`
	RepeatGapMs2h  int       `json:"repeat_gap_ms_2h"`
}

const (
	defaultBaseTime    = "00:00:00"
	defaultRepeatPlays = 3
	defaultRepeatGapMs = 1000
)

// DefaultSettings is what an empty or unreadable store resolves to.
// Both timers start disabled so a fresh install stays silent until configured.
func DefaultSettings() PersistedSettings {
	return PersistedSettings{
		Channels:       []uint64{},
		BaseTime:       defaultBaseTime,
		LeadSeconds:    0,
		Enabled10m:     false,
		Enabled2h:      false,
		RolesAllowed:   []uint64{},
		RepeatPlays10m: defaultRepeatPlays,
		RepeatGapMs10m: defaultRepeatGapMs,
		RepeatPlays2h:  defaultRepeatPlays,
		RepeatGapMs2h:  defaultRepeatGapMs,
	}
}

// Validate rejects a snapshot with any out-of-range field. Used on the API
// boundary, where bad input must bounce instead of being silently repaired.
func (p PersistedSettings) Validate() error {
	if _, err := ParseBaseTime(p.BaseTime); err != nil {
		return fmt.Errorf("base_time: %w", err)
	}
	if p.SyncedBaseTime != "" {
		if _, err := ParseBaseTime(p.SyncedBaseTime); err != nil {
			return fmt.Errorf("synced_base_time: %w", err)
		}
	}
	if p.LeadSeconds < 0 {
		return fmt.Errorf("lead_seconds: must be >= 0, got %d", p.LeadSeconds)
	}
	if p.RepeatPlays10m < 1 {
		return fmt.Errorf("repeat_plays_10m: must be >= 1, got %d", p.RepeatPlays10m)
	}
	if p.RepeatPlays2h < 1 {
		return fmt.Errorf("repeat_plays_2h: must be >= 1, got %d", p.RepeatPlays2h)
	}
	if p.RepeatGapMs10m < 0 {
		return fmt.Errorf("repeat_gap_ms_10m: must be >= 0, got %d", p.RepeatGapMs10m)
	}
	if p.RepeatGapMs2h < 0 {
		return fmt.Errorf("repeat_gap_ms_2h: must be >= 0, got %d", p.RepeatGapMs2h)
	}
	return nil
}

// normalized repairs a snapshot field-by-field so a partially corrupt store
// never poisons in-memory state. Out-of-range values fall back to defaults
// rather than failing the whole load.
func (p PersistedSettings) normalized(maxChannels int) PersistedSettings {
	def := DefaultSettings()

	if _, err := ParseBaseTime(p.BaseTime); err != nil {
		p.BaseTime = def.BaseTime
	}
	if p.SyncedBaseTime != "" {
		if _, err := ParseBaseTime(p.SyncedBaseTime); err != nil {
			p.SyncedBaseTime = ""
		}
	}
	if p.LeadSeconds < 0 {
		p.LeadSeconds = 0
	}
	if p.RepeatPlays10m < 1 {
		p.RepeatPlays10m = def.RepeatPlays10m
	}
	if p.RepeatPlays2h < 1 {
		p.RepeatPlays2h = def.RepeatPlays2h
	}
	if p.RepeatGapMs10m < 0 {
		p.RepeatGapMs10m = def.RepeatGapMs10m
	}
	if p.RepeatGapMs2h < 0 {
		p.RepeatGapMs2h = def.RepeatGapMs2h
	}
	p.Channels = dedupeChannels(p.Channels, maxChannels)
	if p.RolesAllowed == nil {
		p.RolesAllowed = []uint64{}
	}
	return p
}

// dedupeChannels preserves input order, drops duplicates, and truncates to cap.
func dedupeChannels(ids []uint64, cap int) []uint64 {
	out := make([]uint64, 0, len(ids))
	seen := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
		if cap > 0 && len(out) >= cap {
			break
		}
	}
	return out
}
