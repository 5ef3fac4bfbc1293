package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/andr2000/camera-be/internal/infrastructure/config"
	"github.com/andr2000/camera-be/internal/infrastructure/influxdb"
)

// fakeInflux answers /ping and records line protocol posted to
// /api/v2/write.
type fakeInflux struct {
	mu          sync.Mutex
	lines       []string
	writeStatus int
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/ping":
		w.WriteHeader(http.StatusNoContent)
	case "/api/v2/write":
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		status := f.writeStatus
		if status == 0 {
			for _, l := range strings.Split(strings.TrimSpace(string(body)), "\n") {
				if l != "" {
					f.lines = append(f.lines, l)
				}
			}
			status = http.StatusNoContent
		}
		f.mu.Unlock()
		if status != http.StatusNoContent {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"code":"invalid","message":"bad line"}`))
			return
		}
		w.WriteHeader(status)
	default:
		http.NotFound(w, r)
	}
}

// waitLines waits until n lines have been written.
func (f *fakeInflux) waitLines(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		if len(f.lines) >= n {
			out := append([]string(nil), f.lines...)
			f.mu.Unlock()
			return out
		}
		f.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t.Fatalf("got %d lines, want %d: %v", len(f.lines), n, f.lines)
	return nil
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "camera-be-test-token",
		Org:           "camera-be",
		Bucket:        "metrics",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

func connectFake(t *testing.T) (*influxdb.Client, *fakeInflux) {
	t.Helper()
	fake := &fakeInflux{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := influxdb.Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client, fake
}

func TestConnect(t *testing.T) {
	client, _ := connectFake(t)

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Enabled = false

	client, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
	if client != nil {
		t.Error("Connect() returned a client when disabled")
	}
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := influxdb.Connect(testConfig("http://127.0.0.1:1"))
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_DefaultBatchSettings(t *testing.T) {
	srv := httptest.NewServer(&fakeInflux{})
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.BatchSize = -1
	cfg.FlushInterval = 0

	client, err := influxdb.Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() with defaulted batch settings error = %v", err)
	}
	client.Close()
}

func TestWriteCommand(t *testing.T) {
	client, fake := connectFake(t)

	client.WriteCommand("dom0", "cam0", "config-set", -22, 150*time.Microsecond)
	client.WriteCommand("dom0", "cam0", "config-get", 0, 20*time.Microsecond)
	client.Flush()

	lines := fake.waitLines(t, 2)
	for _, want := range []string{
		"camera_commands,backend=dom0,ok=false,op=config-set,unique_id=cam0",
		"latency_us=150i",
		"status=-22i",
	} {
		if !strings.Contains(lines[0], want) {
			t.Errorf("line %q missing %q", lines[0], want)
		}
	}
	if !strings.Contains(lines[1], "ok=true") {
		t.Errorf("line %q missing ok=true", lines[1])
	}
}

func TestWriteCameraSample(t *testing.T) {
	client, fake := connectFake(t)
	at := time.Unix(1760000000, 0)

	client.WriteCameraSample(influxdb.CameraSample{
		Backend:      "dom0",
		UniqueID:     "cam0",
		Memory:       "dmabuf",
		Streaming:    true,
		Buffers:      4,
		Frontends:    2,
		Frames:       900,
		Bytes:        552960000,
		LastSequence: 899,
	}, at)
	client.Flush()

	line := fake.waitLines(t, 1)[0]
	for _, want := range []string{
		"camera_stats,backend=dom0,memory=dmabuf,unique_id=cam0 ",
		"streaming=true",
		"buffers=4i",
		"frontends=2i",
		"frames=900",
		"last_sequence=899i",
		" 1760000000000000000",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestWriteControlChange(t *testing.T) {
	client, fake := connectFake(t)

	client.WriteControlChange("dom0", "cam0", "contrast", 40)
	client.Flush()

	line := fake.waitLines(t, 1)[0]
	if !strings.HasPrefix(line, "camera_controls,backend=dom0,control=contrast,unique_id=cam0 value=40i") {
		t.Errorf("line = %q", line)
	}
}

func TestWriteErrorCallback(t *testing.T) {
	client, fake := connectFake(t)
	fake.mu.Lock()
	fake.writeStatus = http.StatusBadRequest
	fake.mu.Unlock()

	errCh := make(chan error, 1)
	client.SetOnError(func(err error) {
		select {
		case errCh <- err:
		default:
		}
	})

	client.WriteControlChange("dom0", "cam0", "hue", 1)
	client.Flush()

	select {
	case err := <-errCh:
		if !errors.Is(err, influxdb.ErrWriteFailed) {
			t.Errorf("callback error = %v, want ErrWriteFailed", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("write error not reported")
	}
}

func TestClose(t *testing.T) {
	client, fake := connectFake(t)

	client.WriteControlChange("dom0", "cam0", "brightness", 5)
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	fake.waitLines(t, 1)

	// Writes, flushes and health checks after Close are no-ops or errors.
	client.WriteControlChange("dom0", "cam0", "brightness", 6)
	client.Flush()
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}
}

func TestClose_Nil(t *testing.T) {
	client := &influxdb.Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on zero client error = %v", err)
	}
}
