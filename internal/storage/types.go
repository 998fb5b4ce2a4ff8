package storage

import (
	"context"
	"time"

	"respawnbot/internal/respawn"
)

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (settings snapshot + fires jsonl)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled and the bot runs from
// in-memory defaults.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the respawn core.
//
// LoadSettings never fails the caller: an absent or unreadable snapshot
// resolves to defaults (logged). SaveSettings failures are returned so the
// caller can log them; state stays correct in memory and the next mutation
// retries implicitly.
type Store interface {
	LoadSettings(ctx context.Context) respawn.PersistedSettings
	SaveSettings(ctx context.Context, p respawn.PersistedSettings) error
	AppendFire(ctx context.Context, ev respawn.FireEvent) error
	RecentFires(ctx context.Context, limit int) ([]respawn.FireEvent, error)
	Close() error
}
