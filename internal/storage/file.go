package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"respawnbot/internal/respawn"
	logx "respawnbot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.settings.json (full snapshot, rewritten atomically on save)
//   - <prefix>.fires.jsonl   (append-only JSON Lines fire audit)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	settingsPath string
	firesPath    string
	firesFile    *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	firesPath := prefix + ".fires.jsonl"
	ff, err := os.OpenFile(firesPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:          log,
		settingsPath: prefix + ".settings.json",
		firesPath:    firesPath,
		firesFile:    ff,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.firesFile != nil {
		err := s.firesFile.Close()
		s.firesFile = nil
		return err
	}
	return nil
}

func (s *fileStore) LoadSettings(ctx context.Context) respawn.PersistedSettings {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.settingsPath)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("settings snapshot unreadable; using defaults",
				logx.String("path", s.settingsPath), logx.Err(err))
		}
		return respawn.DefaultSettings()
	}
	var p respawn.PersistedSettings
	if err := json.Unmarshal(b, &p); err != nil {
		s.log.Warn("settings snapshot corrupt; using defaults",
			logx.String("path", s.settingsPath), logx.Err(err))
		return respawn.DefaultSettings()
	}
	return p
}

func (s *fileStore) SaveSettings(ctx context.Context, p respawn.PersistedSettings) error {
	_ = ctx
	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Write-then-rename so a crash mid-save never leaves a truncated snapshot.
	tmp := s.settingsPath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.settingsPath)
}

func (s *fileStore) AppendFire(ctx context.Context, ev respawn.FireEvent) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.firesFile == nil {
		return errors.New("fires file closed")
	}
	return json.NewEncoder(s.firesFile).Encode(ev)
}

func (s *fileStore) RecentFires(ctx context.Context, limit int) ([]respawn.FireEvent, error) {
	_ = ctx
	if limit <= 0 {
		limit = 50
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.firesPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	// The audit file stays small in practice (a handful of fires per day);
	// scanning it whole is fine.
	var out []respawn.FireEvent
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var ev respawn.FireEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			s.log.Debug("skipping malformed fire record", logx.Err(err))
			continue
		}
		out = append(out, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
