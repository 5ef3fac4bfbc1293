package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/andr2000/camera-be/internal/auth"
	"github.com/andr2000/camera-be/internal/camera"
	"github.com/andr2000/camera-be/internal/camera/cameratest"
	"github.com/andr2000/camera-be/internal/frontend"
	"github.com/andr2000/camera-be/internal/infrastructure/config"
	"github.com/andr2000/camera-be/internal/infrastructure/database"
	"github.com/andr2000/camera-be/internal/infrastructure/logging"
	"github.com/andr2000/camera-be/internal/inventory"
	"github.com/andr2000/camera-be/internal/transport"
	"github.com/andr2000/camera-be/migrations"
)

type override struct {
	uniqueID string
	name     string
	value    int64
}

// mockFrontends records overrides and serves a fixed session list.
type mockFrontends struct {
	mu        sync.Mutex
	sessions  []frontend.SessionInfo
	overrides []override
	err       error
}

func (m *mockFrontends) Sessions() []frontend.SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]frontend.SessionInfo(nil), m.sessions...)
}

func (m *mockFrontends) OverrideControl(uniqueID, name string, value int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.overrides = append(m.overrides, override{uniqueID, name, value})
	return nil
}

type staticGroups []frontend.GroupInfo

func (g staticGroups) Groups() []frontend.GroupInfo { return g }

type checkFunc func(ctx context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

type testEnv struct {
	srv       *Server
	registry  *camera.Registry
	inventory *inventory.SQLiteRepository
	frontends *mockFrontends
}

// testJWTSecret signs tokens accepted by testServer.
const testJWTSecret = "camera-be-api-test-secret-0123456789"

func testLogger() *logging.Logger {
	return logging.NewWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, "test", io.Discard)
}

// testServer wires a Server to a real registry over fake hardware and a
// migrated in-memory inventory.
func testServer(t *testing.T, checks map[string]HealthChecker) *testEnv {
	t.Helper()

	db, err := database.Open(database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	registry := camera.NewRegistry(camera.RegistryOptions{
		Resolver: camera.DevResolver{DevDir: "/dev", ByIDDir: t.TempDir()},
		Device:   camera.Options{Open: cameratest.NewFactory("/dev/video0").Open},
	})

	env := &testEnv{
		registry:  registry,
		inventory: inventory.NewSQLiteRepository(db.DB),
		frontends: &mockFrontends{},
	}

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
			JWT: config.JWTConfig{Secret: testJWTSecret},
		},
		Logger:    testLogger(),
		Registry:  registry,
		Inventory: env.inventory,
		Frontends: env.frontends,
		Groups:    staticGroups{{UniqueID: "video0", Frontends: 2, Streaming: 1}},
		DB:        db,
		Checks:    checks,
		Version:   "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	env.srv = srv
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	return e.doAuth(t, method, path, body, "")
}

// doAuth sends a request with an optional bearer token.
func (e *testEnv) doAuth(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)
	return w
}

// testToken issues a token for testServer.
func testToken(t *testing.T, scopes ...string) string {
	t.Helper()
	token, err := auth.GenerateToken("tester", scopes, testJWTSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	return token
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
}

// ─── Server Construction ───────────────────────────────────────────

func TestNew_RequiredDeps(t *testing.T) {
	if _, err := New(Deps{Registry: camera.NewRegistry(camera.RegistryOptions{})}); err == nil {
		t.Error("New() without logger succeeded")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without registry succeeded")
	}
}

// ─── Health Endpoint Tests ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	env := testServer(t, map[string]HealthChecker{
		"database": checkFunc(func(context.Context) error { return nil }),
	})

	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp struct {
		Status     string                     `json:"status"`
		Version    string                     `json:"version"`
		Components map[string]ComponentHealth `json:"components"`
	}
	decode(t, w, &resp)

	if resp.Status != "ok" || resp.Version != "test" {
		t.Errorf("health = %+v", resp)
	}
	if resp.Components["database"].Status != "ok" {
		t.Errorf("database component = %+v", resp.Components["database"])
	}
}

func TestHealth_Degraded(t *testing.T) {
	env := testServer(t, map[string]HealthChecker{
		"database": checkFunc(func(context.Context) error { return nil }),
		"mqtt":     checkFunc(func(context.Context) error { return errors.New("mqtt: client not connected") }),
	})

	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}

	var resp struct {
		Status     string                     `json:"status"`
		Components map[string]ComponentHealth `json:"components"`
	}
	decode(t, w, &resp)
	if resp.Status != "degraded" {
		t.Errorf("status = %q, want degraded", resp.Status)
	}
	if c := resp.Components["mqtt"]; c.Status != "error" || c.Error == "" {
		t.Errorf("mqtt component = %+v", c)
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	env := testServer(t, nil)

	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	if id := w.Header().Get("X-Request-ID"); len(id) != 36 {
		t.Errorf("X-Request-ID = %q, want a UUID", id)
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	env := testServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestRecovery(t *testing.T) {
	env := testServer(t, map[string]HealthChecker{
		"broken": checkFunc(func(context.Context) error { panic("boom") }),
	})

	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestNotFound(t *testing.T) {
	env := testServer(t, nil)

	w := env.do(t, http.MethodGet, "/api/v1/nonexistent", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
	var e Error
	decode(t, w, &e)
	if e.Code != ErrCodeNotFound {
		t.Errorf("code = %q, want %q", e.Code, ErrCodeNotFound)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := testServer(t, nil)

	w := env.do(t, http.MethodDelete, "/api/v1/sessions", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

// ─── Camera Endpoint Tests ─────────────────────────────────────────

func TestListCameras_Empty(t *testing.T) {
	env := testServer(t, nil)

	w := env.do(t, http.MethodGet, "/api/v1/cameras", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"cameras":[]`) {
		t.Errorf("body = %s, want empty cameras array", w.Body.String())
	}
}

func TestListCameras_MergesInventoryAndLive(t *testing.T) {
	env := testServer(t, nil)
	ctx := context.Background()

	seen := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	for _, cam := range []*inventory.Camera{
		{UniqueID: "usb-Acme_Webcam-video-index0", Path: "/dev/video2", Driver: "uvcvideo", Card: "Acme"},
		{UniqueID: "video0", Path: "/dev/video0", Driver: "fake", Card: "Fake Camera"},
	} {
		if err := env.inventory.Upsert(ctx, cam, seen); err != nil {
			t.Fatalf("Upsert(%s) error = %v", cam.UniqueID, err)
		}
	}

	h, err := env.registry.Acquire("video0")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer h.Release()

	w := env.do(t, http.MethodGet, "/api/v1/cameras", "")
	var resp struct {
		Cameras []CameraView `json:"cameras"`
		Count   int          `json:"count"`
	}
	decode(t, w, &resp)

	if resp.Count != 2 {
		t.Fatalf("count = %d, want 2: %+v", resp.Count, resp.Cameras)
	}
	byID := make(map[string]CameraView)
	for _, v := range resp.Cameras {
		byID[v.UniqueID] = v
	}

	if v := byID["usb-Acme_Webcam-video-index0"]; v.Open || v.Inventory == nil || v.Inventory.Card != "Acme" {
		t.Errorf("closed camera view = %+v", v)
	}
	live := byID["video0"]
	if !live.Open || live.Refs != 1 || live.Stats == nil || live.Stats.Path != "/dev/video0" {
		t.Errorf("live camera view = %+v", live)
	}
	if live.Frontends != 2 || live.Streamers != 1 {
		t.Errorf("live camera groups = %d/%d, want 2/1", live.Frontends, live.Streamers)
	}
}

func TestGetCamera(t *testing.T) {
	env := testServer(t, nil)

	h, err := env.registry.Acquire("video0")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer h.Release()

	tests := []struct {
		name string
		path string
		want int
	}{
		{"live only", "/api/v1/cameras/video0", http.StatusOK},
		{"unknown", "/api/v1/cameras/video7", http.StatusNotFound},
		{"dot id", "/api/v1/cameras/..", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodGet, tt.path, "")
			if w.Code != tt.want {
				t.Errorf("GET %s status = %d, want %d (%s)", tt.path, w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestSetControl(t *testing.T) {
	env := testServer(t, nil)

	w := env.doAuth(t, http.MethodPut, "/api/v1/cameras/video0/controls/contrast", `{"value": 40}`,
		testToken(t, auth.ScopeControlWrite))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	env.frontends.mu.Lock()
	defer env.frontends.mu.Unlock()
	if len(env.frontends.overrides) != 1 || env.frontends.overrides[0] != (override{"video0", "contrast", 40}) {
		t.Errorf("overrides = %v", env.frontends.overrides)
	}
}

func TestSetControl_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"invalid json", `{"value":`, nil, http.StatusBadRequest},
		{"missing value", `{}`, nil, http.StatusBadRequest},
		{"camera not open", `{"value":1}`, fmt.Errorf("%w: video0", frontend.ErrCameraNotOpen), http.StatusNotFound},
		{"unsupported control", `{"value":1}`, camera.ErrUnsupportedControl, http.StatusNotFound},
		{"hardware", `{"value":1}`, camera.ErrHardwareIO, http.StatusBadGateway},
		{"other", `{"value":1}`, errors.New("unexpected"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testServer(t, nil)
			env.frontends.err = tt.err

			w := env.doAuth(t, http.MethodPut, "/api/v1/cameras/video0/controls/hue", tt.body,
				testToken(t, auth.ScopeControlWrite))
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestSetControl_Auth(t *testing.T) {
	foreign, err := auth.GenerateToken("tester", []string{auth.ScopeControlWrite},
		"some-other-backend-secret-0123456789", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	tests := []struct {
		name     string
		noSecret bool
		header   string
		want     int
		wantCode string
	}{
		{"no secret configured", true, "Bearer " + testToken(t, auth.ScopeControlWrite), http.StatusForbidden, ErrCodeForbidden},
		{"missing header", false, "", http.StatusUnauthorized, ErrCodeUnauthorized},
		{"not bearer", false, "Basic dXNlcjpwYXNz", http.StatusUnauthorized, ErrCodeUnauthorized},
		{"empty bearer", false, "Bearer ", http.StatusUnauthorized, ErrCodeUnauthorized},
		{"garbage token", false, "Bearer not-a-jwt", http.StatusUnauthorized, ErrCodeUnauthorized},
		{"foreign secret", false, "Bearer " + foreign, http.StatusUnauthorized, ErrCodeUnauthorized},
		{"missing scope", false, "Bearer " + testToken(t), http.StatusForbidden, ErrCodeForbidden},
		{"valid", false, "Bearer " + testToken(t, auth.ScopeControlWrite), http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testServer(t, nil)
			if tt.noSecret {
				env.srv.cfg.JWT.Secret = ""
			}

			req := httptest.NewRequest(http.MethodPut, "/api/v1/cameras/video0/controls/hue", strings.NewReader(`{"value":3}`))
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			env.srv.Handler().ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
			if tt.wantCode != "" {
				var apiErr Error
				decode(t, w, &apiErr)
				if apiErr.Code != tt.wantCode {
					t.Errorf("code = %q, want %q", apiErr.Code, tt.wantCode)
				}
			}

			env.frontends.mu.Lock()
			defer env.frontends.mu.Unlock()
			if applied := len(env.frontends.overrides) == 1; applied != (tt.want == http.StatusOK) {
				t.Errorf("override applied = %v with status %d", applied, w.Code)
			}
		})
	}
}

func TestReadRoutesNeedNoToken(t *testing.T) {
	env := testServer(t, nil)
	for _, path := range []string{"/api/v1/health", "/api/v1/cameras", "/api/v1/sessions", "/api/v1/groups", "/api/v1/metrics"} {
		if w := env.do(t, http.MethodGet, path, ""); w.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, w.Code)
		}
	}
}

// ─── Session Endpoint Tests ────────────────────────────────────────

func TestListSessions(t *testing.T) {
	env := testServer(t, nil)
	env.frontends.sessions = []frontend.SessionInfo{{
		ID:        "s1",
		UniqueID:  "video0",
		Remote:    "domu1",
		Transport: transport.Stats{MessagesRx: 3},
	}}

	w := env.do(t, http.MethodGet, "/api/v1/sessions", "")
	var resp struct {
		Sessions []frontend.SessionInfo `json:"sessions"`
		Count    int                    `json:"count"`
	}
	decode(t, w, &resp)
	if resp.Count != 1 || resp.Sessions[0].ID != "s1" || resp.Sessions[0].Transport.MessagesRx != 3 {
		t.Errorf("sessions = %+v", resp)
	}
}

func TestListGroups(t *testing.T) {
	env := testServer(t, nil)

	w := env.do(t, http.MethodGet, "/api/v1/groups", "")
	var resp struct {
		Groups []frontend.GroupInfo `json:"groups"`
	}
	decode(t, w, &resp)
	if len(resp.Groups) != 1 || resp.Groups[0].Frontends != 2 {
		t.Errorf("groups = %+v", resp.Groups)
	}
}

func TestMetrics(t *testing.T) {
	env := testServer(t, nil)
	h, err := env.registry.Acquire("video0")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer h.Release()
	env.frontends.sessions = []frontend.SessionInfo{
		{ID: "s1", Transport: transport.Stats{MessagesRx: 2, EventsDropped: 1}},
		{ID: "s2", Transport: transport.Stats{MessagesRx: 5}},
	}

	w := env.do(t, http.MethodGet, "/api/v1/metrics", "")
	var m SystemMetrics
	decode(t, w, &m)

	if m.Version != "test" || m.Runtime.Goroutines == 0 {
		t.Errorf("metrics header = %+v", m)
	}
	if m.Cameras.Open != 1 || m.Cameras.Streaming != 0 {
		t.Errorf("camera metrics = %+v", m.Cameras)
	}
	if m.Frontends.Sessions != 2 || m.Frontends.MessagesRx != 7 || m.Frontends.EventsDropped != 1 {
		t.Errorf("frontend metrics = %+v", m.Frontends)
	}
}

// ─── Lifecycle Tests ───────────────────────────────────────────────

func TestServer_StartAndClose(t *testing.T) {
	env := testServer(t, nil)
	srv := env.srv

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start succeeded")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := srv.Start(context.Background()); err == nil {
		t.Error("second Start() succeeded")
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	addr := srv.Addr()
	resp, err := http.Get("http://" + addr + "/api/v1/health")
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health check status = %d, want 200", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if _, err := http.Get("http://" + addr + "/api/v1/health"); err == nil {
		t.Error("server still responding after Close()")
	}
}

func TestServer_CloseNotStarted(t *testing.T) {
	env := testServer(t, nil)
	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
