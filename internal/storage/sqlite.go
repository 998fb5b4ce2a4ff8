package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"respawnbot/internal/respawn"
	logx "respawnbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadSettings(ctx context.Context) respawn.PersistedSettings {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM settings WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return respawn.DefaultSettings()
	}
	if err != nil {
		s.log.Warn("settings row unreadable; using defaults", logx.Err(err))
		return respawn.DefaultSettings()
	}
	var p respawn.PersistedSettings
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		s.log.Warn("settings row corrupt; using defaults", logx.Err(err))
		return respawn.DefaultSettings()
	}
	return p
}

func (s *sqliteStore) SaveSettings(ctx context.Context, p respawn.PersistedSettings) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO settings(id, data, updated_at) VALUES(1,?,?)
		 ON CONFLICT(id) DO UPDATE SET data=excluded.data, updated_at=excluded.updated_at`,
		string(b), time.Now().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) AppendFire(ctx context.Context, ev respawn.FireEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fires(id, at, kind, manual, channels, ok, failed, took_ms)
		 VALUES(?,?,?,?,?,?,?,?)`,
		ev.ID, ev.At.Format(time.RFC3339Nano), ev.Kind, ev.Manual,
		ev.Channels, ev.OK, ev.Failed, ev.Duration.Milliseconds(),
	)
	return err
}

func (s *sqliteStore) RecentFires(ctx context.Context, limit int) ([]respawn.FireEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, at, kind, manual, channels, ok, failed, took_ms
		 FROM fires ORDER BY at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []respawn.FireEvent
	for rows.Next() {
		var (
			ev     respawn.FireEvent
			at     string
			tookMS int64
		)
		if err := rows.Scan(&ev.ID, &at, &ev.Kind, &ev.Manual, &ev.Channels, &ev.OK, &ev.Failed, &tookMS); err != nil {
			return nil, err
		}
		if t, perr := time.Parse(time.RFC3339Nano, at); perr == nil {
			ev.At = t
		}
		ev.Duration = time.Duration(tookMS) * time.Millisecond
		out = append(out, ev)
	}
	return out, rows.Err()
}
