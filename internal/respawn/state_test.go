package respawn

import (
	"testing"
	"time"

	logx "respawnbot/pkg/logx"
)

func newTestState(t *testing.T, maxChannels int) *State {
	t.Helper()
	return NewState(maxChannels, logx.Nop())
}

func TestSetChannelsCapAndOrder(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		max  int
		in   []uint64
		want []uint64
	}{
		{name: "truncates to cap", max: 1, in: []uint64{111, 222}, want: []uint64{111}},
		{name: "preserves order", max: 10, in: []uint64{3, 1, 2}, want: []uint64{3, 1, 2}},
		{name: "drops duplicates", max: 10, in: []uint64{5, 5, 7, 5}, want: []uint64{5, 7}},
		{name: "empty ok", max: 10, in: nil, want: []uint64{}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			s := newTestState(t, tt.max)
			s.SetChannels(tt.in)
			got := s.Channels()
			if len(got) != len(tt.want) {
				t.Fatalf("Channels() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("Channels() = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestRemoveChannel(t *testing.T) {
	t.Parallel()
	s := newTestState(t, 10)
	s.SetChannels([]uint64{1, 2, 3})

	if !s.RemoveChannel(2) {
		t.Fatal("RemoveChannel(2) = false, want true")
	}
	if s.RemoveChannel(2) {
		t.Fatal("RemoveChannel(2) twice = true, want false")
	}
	got := s.Channels()
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("Channels() = %v, want [1 3]", got)
	}
}

func TestMutatorValidation(t *testing.T) {
	t.Parallel()
	s := newTestState(t, 10)

	if err := s.SetBaseTime("25:00"); err == nil {
		t.Fatal("SetBaseTime(25:00): expected error")
	}
	if got := s.BaseTime(); got != "00:00:00" {
		t.Fatalf("rejected base time was stored: %q", got)
	}
	if err := s.SetLeadSeconds(-1); err == nil {
		t.Fatal("SetLeadSeconds(-1): expected error")
	}
	if err := s.SetRepeat(Timer10m, Repeat{Plays: 0, GapMs: 100}); err == nil {
		t.Fatal("SetRepeat plays=0: expected error")
	}
	if err := s.SetRepeat(Timer2h, Repeat{Plays: 1, GapMs: -5}); err == nil {
		t.Fatal("SetRepeat gap=-5: expected error")
	}
	if err := s.SetSyncedBaseTime("nope", time.Now()); err == nil {
		t.Fatal("SetSyncedBaseTime(nope): expected error")
	}

	// HH:MM input is normalized to HH:MM:SS.
	if err := s.SetBaseTime("21:30"); err != nil {
		t.Fatalf("SetBaseTime(21:30) error: %v", err)
	}
	if got := s.BaseTime(); got != "21:30:00" {
		t.Fatalf("BaseTime() = %q, want 21:30:00", got)
	}
}

func TestEffectiveBaseTime(t *testing.T) {
	t.Parallel()
	s := newTestState(t, 10)
	if err := s.SetBaseTime("06:00"); err != nil {
		t.Fatal(err)
	}

	if got := s.EffectiveBaseTime(); got != "06:00:00" {
		t.Fatalf("EffectiveBaseTime() = %q, want manual base", got)
	}

	// Synced value alone doesn't override.
	if err := s.SetSyncedBaseTime("21:00:00", time.Now()); err != nil {
		t.Fatal(err)
	}
	if got := s.EffectiveBaseTime(); got != "06:00:00" {
		t.Fatalf("EffectiveBaseTime() = %q, want manual base while use_synced_time off", got)
	}

	s.SetUseSyncedTime(true)
	if got := s.EffectiveBaseTime(); got != "21:00:00" {
		t.Fatalf("EffectiveBaseTime() = %q, want synced override", got)
	}
}

func TestObserverIsolation(t *testing.T) {
	t.Parallel()
	s := newTestState(t, 10)

	var order []int
	s.OnChange(func() { order = append(order, 1) })
	s.OnChange(func() { panic("observer blew up") })
	s.OnChange(func() { order = append(order, 3) })

	s.SetEnabled(Timer10m, true)

	if len(order) != 2 || order[0] != 1 || order[1] != 3 {
		t.Fatalf("observer order = %v, want [1 3] (panicking observer isolated)", order)
	}
}

func TestPersistedRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestState(t, 10)
	s.SetChannels([]uint64{10, 20})
	if err := s.SetBaseTime("04:30:15"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetLeadSeconds(45); err != nil {
		t.Fatal(err)
	}
	s.SetEnabled(Timer2h, true)
	if err := s.SetRepeat(Timer10m, Repeat{Plays: 2, GapMs: 500}); err != nil {
		t.Fatal(err)
	}

	snap := s.ToPersisted()
	restored := newTestState(t, 10)
	restored.ApplyPersisted(snap)

	got := restored.ToPersisted()
	if got.BaseTime != "04:30:15" || got.LeadSeconds != 45 || !got.Enabled2h || got.Enabled10m {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.RepeatPlays10m != 2 || got.RepeatGapMs10m != 500 {
		t.Fatalf("repeat round trip mismatch: %+v", got)
	}
	if len(got.Channels) != 2 || got.Channels[0] != 10 || got.Channels[1] != 20 {
		t.Fatalf("channels round trip mismatch: %v", got.Channels)
	}
}

func TestApplyPersistedRepairsCorruptSnapshot(t *testing.T) {
	t.Parallel()
	s := newTestState(t, 2)
	s.ApplyPersisted(PersistedSettings{
		BaseTime:       "99:99",
		SyncedBaseTime: "also bad",
		LeadSeconds:    -10,
		Channels:       []uint64{1, 1, 2, 3},
		RepeatPlays10m: 0,
		RepeatGapMs10m: -1,
		RepeatPlays2h:  5,
		RepeatGapMs2h:  250,
	})

	got := s.ToPersisted()
	if got.BaseTime != "00:00:00" {
		t.Fatalf("BaseTime = %q, want default", got.BaseTime)
	}
	if got.SyncedBaseTime != "" {
		t.Fatalf("SyncedBaseTime = %q, want cleared", got.SyncedBaseTime)
	}
	if got.LeadSeconds != 0 {
		t.Fatalf("LeadSeconds = %d, want 0", got.LeadSeconds)
	}
	if len(got.Channels) != 2 || got.Channels[0] != 1 || got.Channels[1] != 2 {
		t.Fatalf("Channels = %v, want deduped and capped [1 2]", got.Channels)
	}
	if got.RepeatPlays10m != 3 || got.RepeatGapMs10m != 1000 {
		t.Fatalf("10m repeat = %d/%d, want defaults 3/1000", got.RepeatPlays10m, got.RepeatGapMs10m)
	}
	// Valid fields survive the repair.
	if got.RepeatPlays2h != 5 || got.RepeatGapMs2h != 250 {
		t.Fatalf("2h repeat = %d/%d, want 5/250", got.RepeatPlays2h, got.RepeatGapMs2h)
	}
}
