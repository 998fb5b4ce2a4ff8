package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"respawnbot/internal/respawn"
	logx "respawnbot/pkg/logx"
)

type recordedPlay struct {
	channel uint64
	asset   string
}

type stubPlayer struct {
	plays chan recordedPlay
}

func (p *stubPlayer) PlayOnce(_ context.Context, channelID uint64, asset string) error {
	p.plays <- recordedPlay{channel: channelID, asset: asset}
	return nil
}

func newTestService(t *testing.T, token string) (*Service, *respawn.State, *stubPlayer) {
	t.Helper()
	state := respawn.NewState(10, logx.Nop())
	player := &stubPlayer{plays: make(chan recordedPlay, 16)}
	sched := respawn.NewScheduler(state, player, nil, respawn.SchedulerConfig{
		Sound10m: "ten.dca",
		Sound2h:  "two.dca",
	}, logx.Nop())
	svc := New(Config{Enabled: true, Token: token}, state, sched, nil, nil, nil, logx.Nop())
	svc.baseCtx = context.Background()
	return svc, state, player
}

func doJSON(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestGetSettings(t *testing.T) {
	t.Parallel()
	svc, state, _ := newTestService(t, "")
	state.SetChannels([]uint64{5})

	w := doJSON(t, svc.routes(), http.MethodGet, "/api/settings", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var got respawn.PersistedSettings
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Channels) != 1 || got.Channels[0] != 5 {
		t.Fatalf("channels = %v, want [5]", got.Channels)
	}
}

func TestPutSettingsValidates(t *testing.T) {
	t.Parallel()
	svc, state, _ := newTestService(t, "")
	routes := svc.routes()

	// Bad base time bounces, state untouched.
	w := doJSON(t, routes, http.MethodPut, "/api/settings",
		`{"channels":[],"base_time":"25:00","lead_seconds":0,"enabled_10m":false,"enabled_2h":false,"use_synced_time":false,"roles_allowed":[],"repeat_plays_10m":3,"repeat_gap_ms_10m":1000,"repeat_plays_2h":3,"repeat_gap_ms_2h":1000}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid PUT status = %d, want 400", w.Code)
	}
	if state.BaseTime() != "00:00:00" {
		t.Fatalf("state mutated by rejected PUT: %q", state.BaseTime())
	}

	// Unknown fields are rejected, not ignored.
	w = doJSON(t, routes, http.MethodPut, "/api/settings", `{"base_time":"21:00","bogus":true}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown-field PUT status = %d, want 400", w.Code)
	}

	// Valid replacement lands.
	w = doJSON(t, routes, http.MethodPut, "/api/settings",
		`{"channels":[9],"base_time":"21:00:00","lead_seconds":30,"enabled_10m":true,"enabled_2h":false,"use_synced_time":false,"roles_allowed":[],"repeat_plays_10m":2,"repeat_gap_ms_10m":500,"repeat_plays_2h":3,"repeat_gap_ms_2h":1000}`)
	if w.Code != http.StatusOK {
		t.Fatalf("valid PUT status = %d, body %s", w.Code, w.Body.String())
	}
	if state.BaseTime() != "21:00:00" || state.LeadSeconds() != 30 || !state.Enabled(respawn.Timer10m) {
		t.Fatalf("state after PUT: base=%q lead=%d", state.BaseTime(), state.LeadSeconds())
	}
}

func TestPatchSettingsPartial(t *testing.T) {
	t.Parallel()
	svc, state, _ := newTestService(t, "")
	routes := svc.routes()
	state.SetChannels([]uint64{1, 2})

	w := doJSON(t, routes, http.MethodPatch, "/api/settings", `{"lead_seconds":45,"enabled_2h":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("PATCH status = %d, body %s", w.Code, w.Body.String())
	}
	if state.LeadSeconds() != 45 || !state.Enabled(respawn.Timer2h) {
		t.Fatalf("patched fields not applied: lead=%d", state.LeadSeconds())
	}
	// Untouched fields survive.
	if got := state.Channels(); len(got) != 2 {
		t.Fatalf("channels clobbered by partial patch: %v", got)
	}

	w = doJSON(t, routes, http.MethodPatch, "/api/settings", `{"lead_seconds":-1}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid PATCH status = %d, want 400", w.Code)
	}
	if state.LeadSeconds() != 45 {
		t.Fatalf("lead mutated by rejected PATCH: %d", state.LeadSeconds())
	}
}

func TestToggleTimer(t *testing.T) {
	t.Parallel()
	svc, state, _ := newTestService(t, "")
	routes := svc.routes()

	w := doJSON(t, routes, http.MethodPost, "/api/timers/10m/toggle", "")
	if w.Code != http.StatusOK {
		t.Fatalf("toggle status = %d", w.Code)
	}
	var resp struct {
		Timer   string `json:"timer"`
		Enabled bool   `json:"enabled"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Timer != "10m" || !resp.Enabled || !state.Enabled(respawn.Timer10m) {
		t.Fatalf("toggle response = %+v", resp)
	}

	if w := doJSON(t, routes, http.MethodPost, "/api/timers/5m/toggle", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad kind status = %d, want 400", w.Code)
	}
}

func TestNextEndpoint(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t, "")

	w := doJSON(t, svc.routes(), http.MethodGet, "/api/next", "")
	if w.Code != http.StatusOK {
		t.Fatalf("next status = %d", w.Code)
	}
	var resp nextResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Next10.After(resp.Now) || !resp.Next2h.After(resp.Now) {
		t.Fatalf("next instants not in the future: %+v", resp)
	}
	if d := resp.Next10.Sub(resp.Now); d > 10*time.Minute {
		t.Fatalf("next_10m is %v away, want <= one period", d)
	}
}

func TestPlayEndpointFiresManually(t *testing.T) {
	t.Parallel()
	svc, state, player := newTestService(t, "")
	routes := svc.routes()
	state.SetChannels([]uint64{3})
	if err := state.SetRepeat(respawn.Timer2h, respawn.Repeat{Plays: 1, GapMs: 0}); err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, routes, http.MethodPost, "/api/play/2h", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("play status = %d, want 202", w.Code)
	}

	select {
	case got := <-player.plays:
		if got.channel != 3 || got.asset != "two.dca" {
			t.Fatalf("played %+v, want channel 3 two.dca", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("manual play never reached the player")
	}
}

type panicPlayer struct {
	called chan struct{}
}

func (p *panicPlayer) PlayOnce(_ context.Context, _ uint64, _ string) error {
	close(p.called)
	panic("voice session corrupted")
}

func TestPlayEndpointSurvivesPlaybackPanic(t *testing.T) {
	t.Parallel()
	state := respawn.NewState(10, logx.Nop())
	player := &panicPlayer{called: make(chan struct{})}
	sched := respawn.NewScheduler(state, player, nil, respawn.SchedulerConfig{
		Sound10m: "ten.dca",
		Sound2h:  "two.dca",
	}, logx.Nop())
	svc := New(Config{Enabled: true}, state, sched, nil, nil, nil, logx.Nop())
	svc.baseCtx = context.Background()
	routes := svc.routes()

	state.SetChannels([]uint64{1})
	if err := state.SetRepeat(respawn.Timer10m, respawn.Repeat{Plays: 1, GapMs: 0}); err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, routes, http.MethodPost, "/api/play/10m", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("play status = %d, want 202", w.Code)
	}

	select {
	case <-player.called:
	case <-time.After(2 * time.Second):
		t.Fatal("manual play never reached the player")
	}
	// Let the panic unwind; the detached fire's recover must contain it.
	time.Sleep(50 * time.Millisecond)

	// The service is still alive and serving.
	if w := doJSON(t, routes, http.MethodGet, "/api/settings", ""); w.Code != http.StatusOK {
		t.Fatalf("settings after panic status = %d, want 200", w.Code)
	}
}

func TestSyncUnconfigured(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t, "")
	if w := doJSON(t, svc.routes(), http.MethodPost, "/api/sync", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("sync status = %d, want 503", w.Code)
	}
}

func TestFiresWithoutStore(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t, "")
	w := doJSON(t, svc.routes(), http.MethodGet, "/api/fires", "")
	if w.Code != http.StatusOK {
		t.Fatalf("fires status = %d", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Fatalf("fires body = %q, want []", got)
	}
}

func TestAuthToken(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t, "sekrit")
	routes := svc.routes()

	if w := doJSON(t, routes, http.MethodGet, "/api/settings", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("no-token status = %d, want 401", w.Code)
	}

	r := httptest.NewRequest(http.MethodGet, "/api/settings", nil)
	r.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong-token status = %d, want 401", w.Code)
	}

	r = httptest.NewRequest(http.MethodGet, "/api/settings", nil)
	r.Header.Set("Authorization", "Bearer sekrit")
	w = httptest.NewRecorder()
	routes.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("bearer status = %d, want 200", w.Code)
	}

	// Query token works for clients that can't set headers.
	if w := doJSON(t, routes, http.MethodGet, "/api/settings?token=sekrit", ""); w.Code != http.StatusOK {
		t.Fatalf("query-token status = %d, want 200", w.Code)
	}

	// Health stays open.
	if w := doJSON(t, routes, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", w.Code)
	}
}
