package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/andr2000/camera-be/internal/auth"
	"github.com/andr2000/camera-be/internal/infrastructure/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, []string{"-config", "/nonexistent/path/config.yaml"}); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRun_InvalidConfigValues(t *testing.T) {
	path := writeConfig(t, `
backend:
  id: dom0
  listen: "udp://127.0.0.1:9000"
  memory: overlay
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, []string{"-config", path}); err == nil {
		t.Fatal("run() should reject an invalid listen URL and memory mode")
	}
}

func TestRun_UnknownFlag(t *testing.T) {
	if err := run(context.Background(), []string{"-bogus"}); err == nil {
		t.Error("run() accepted an unknown flag")
	}
	if err := run(context.Background(), []string{"-h"}); !errors.Is(err, flag.ErrHelp) {
		t.Errorf("run(-h) error = %v, want flag.ErrHelp", err)
	}
}

func TestRun_Version(t *testing.T) {
	if err := run(context.Background(), []string{"-version"}); err != nil {
		t.Errorf("run(-version) error = %v", err)
	}
}

func TestGetConfigPath(t *testing.T) {
	tests := []struct {
		name string
		flag string
		env  string
		want string
	}{
		{"default", "", "", defaultConfigPath},
		{"env", "", "/custom/env.yaml", "/custom/env.yaml"},
		{"flag wins", "/custom/flag.yaml", "/custom/env.yaml", "/custom/flag.yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CAMBE_CONFIG", tt.env)
			if got := getConfigPath(tt.flag); got != tt.want {
				t.Errorf("getConfigPath(%q) = %q, want %q", tt.flag, got, tt.want)
			}
		})
	}
}

// TestRun_StartupAndShutdown starts the backend with every optional
// service off except discovery and stops it through the context.
func TestRun_StartupAndShutdown(t *testing.T) {
	dir := t.TempDir()
	sock := filepath.Join(dir, "be.sock")
	devDir := filepath.Join(dir, "dev")
	if err := os.Mkdir(devDir, 0750); err != nil {
		t.Fatal(err)
	}

	path := writeConfig(t, `
backend:
  id: test
  listen: "unix://`+sock+`"
  memory: mmap

cameras:
  usb-Acme_Webcam-video-index0:
    memory: userptr
    controls: "contrast,hue"

discovery:
  enabled: true
  dev_dir: "`+devDir+`"
  by_id_dir: "`+filepath.Join(devDir, "v4l", "by-id")+`"
  interval: 0

database:
  path: "`+filepath.Join(dir, "camera-be.db")+`"
  wal_mode: true
  busy_timeout: 5

mqtt:
  enabled: false

influxdb:
  enabled: false

api:
  enabled: false

logging:
  level: error
  format: text
  output: stdout
`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- run(ctx, []string{"-config", path}) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(sock); err == nil {
			break
		}
		select {
		case err := <-done:
			t.Fatalf("run() exited early: %v", err)
		default:
		}
		if time.Now().After(deadline) {
			t.Fatal("frontend socket never appeared")
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v, want clean shutdown", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}

func TestIssueToken(t *testing.T) {
	cfg := &config.Config{API: config.APIConfig{JWT: config.JWTConfig{
		Secret:   "issue-token-test-secret-0123456789ab",
		TokenTTL: 2,
	}}}

	token, err := issueToken(cfg, "ops")
	if err != nil {
		t.Fatalf("issueToken() error = %v", err)
	}
	claims, err := auth.ParseToken(token, cfg.API.JWT.Secret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "ops" || !claims.HasScope(auth.ScopeControlWrite) {
		t.Errorf("claims = subject %q scopes %v", claims.Subject, claims.Scopes)
	}
	if ttl := claims.ExpiresAt.Sub(claims.IssuedAt.Time); ttl != 2*time.Hour {
		t.Errorf("lifetime = %v, want 2h", ttl)
	}

	cfg.API.JWT.Secret = ""
	if _, err := issueToken(cfg, "ops"); !errors.Is(err, auth.ErrSecretRequired) {
		t.Errorf("issueToken(no secret) error = %v, want ErrSecretRequired", err)
	}
}

func TestRun_IssueToken(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
backend:
  id: test
  listen: "unix://`+filepath.Join(dir, "be.sock")+`"

database:
  path: "`+filepath.Join(dir, "camera-be.db")+`"

api:
  jwt:
    secret: "run-issue-token-secret-0123456789ab"
`)

	if err := run(context.Background(), []string{"-config", path, "-issue-token", "ops"}); err != nil {
		t.Errorf("run(-issue-token) error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "be.sock")); err == nil {
		t.Error("run(-issue-token) started the backend")
	}
}
