package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"respawnbot/internal/respawn"
	logx "respawnbot/pkg/logx"
)

func openTestFileStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{
		Driver: "file",
		Path:   filepath.Join(t.TempDir(), "respawnbot.json"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("open file store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabledDriver(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: ""}, logx.Nop())
	if err != nil {
		t.Fatalf("Open with empty driver: %v", err)
	}
	if st != nil {
		t.Fatal("Open with empty driver returned a store, want nil")
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("Open(redis): expected error")
	}
}

func TestFileSettingsRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestFileStore(t)
	ctx := context.Background()

	in := respawn.DefaultSettings()
	in.Channels = []uint64{42, 77}
	in.BaseTime = "21:00:00"
	in.LeadSeconds = 30
	in.Enabled10m = true

	if err := st.SaveSettings(ctx, in); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	got := st.LoadSettings(ctx)
	if got.BaseTime != "21:00:00" || got.LeadSeconds != 30 || !got.Enabled10m {
		t.Fatalf("LoadSettings = %+v", got)
	}
	if len(got.Channels) != 2 || got.Channels[0] != 42 || got.Channels[1] != 77 {
		t.Fatalf("Channels = %v, want [42 77]", got.Channels)
	}
}

func TestFileLoadSettingsMissingReturnsDefaults(t *testing.T) {
	t.Parallel()
	st := openTestFileStore(t)

	got := st.LoadSettings(context.Background())
	def := respawn.DefaultSettings()
	if got.BaseTime != def.BaseTime || got.Enabled10m || got.Enabled2h {
		t.Fatalf("fresh store LoadSettings = %+v, want defaults", got)
	}
}

func TestFileLoadSettingsCorruptReturnsDefaults(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "respawnbot.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := os.WriteFile(filepath.Join(dir, "respawnbot.settings.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	got := st.LoadSettings(context.Background())
	if got.BaseTime != respawn.DefaultSettings().BaseTime {
		t.Fatalf("corrupt snapshot LoadSettings = %+v, want defaults", got)
	}
}

func TestFileFireAudit(t *testing.T) {
	t.Parallel()
	st := openTestFileStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 14, 2, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		ev := respawn.FireEvent{
			ID:       string(rune('a' + i)),
			Kind:     "10m",
			At:       base.Add(time.Duration(i) * 10 * time.Minute),
			Channels: 1,
			OK:       1,
		}
		if err := st.AppendFire(ctx, ev); err != nil {
			t.Fatalf("AppendFire %d: %v", i, err)
		}
	}

	got, err := st.RecentFires(ctx, 3)
	if err != nil {
		t.Fatalf("RecentFires: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("RecentFires len = %d, want 3", len(got))
	}
	// Limit keeps the newest records.
	if got[0].ID != "c" || got[2].ID != "e" {
		t.Fatalf("RecentFires ids = [%s %s %s], want [c d e]", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestFileRecentFiresEmpty(t *testing.T) {
	t.Parallel()
	st := openTestFileStore(t)

	got, err := st.RecentFires(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentFires: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("RecentFires on fresh store = %v, want empty", got)
	}
}
