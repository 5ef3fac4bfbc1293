package inventory

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/andr2000/camera-be/internal/camera"
	"github.com/andr2000/camera-be/internal/camera/cameratest"
)

// mockRepository is an in-memory Repository.
type mockRepository struct {
	mu      sync.Mutex
	cameras map[string]Camera
	getErr  error
	gets    int
}

func newMockRepository(cams ...Camera) *mockRepository {
	m := &mockRepository{cameras: make(map[string]Camera)}
	for _, c := range cams {
		m.cameras[c.UniqueID] = c
	}
	return m
}

func (m *mockRepository) Get(_ context.Context, id string) (*Camera, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.getErr != nil {
		return nil, m.getErr
	}
	c, ok := m.cameras[id]
	if !ok {
		return nil, ErrCameraNotFound
	}
	return &c, nil
}

func (m *mockRepository) List(context.Context) ([]Camera, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Camera, 0, len(m.cameras))
	for _, c := range m.cameras {
		out = append(out, c)
	}
	return out, nil
}

func (m *mockRepository) Upsert(_ context.Context, cam *Camera, seen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *cam
	c.Present = true
	c.LastSeen = seen
	m.cameras[c.UniqueID] = c
	return nil
}

func (m *mockRepository) MarkAbsent(_ context.Context, keep []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := make(map[string]bool, len(keep))
	for _, id := range keep {
		kept[id] = true
	}
	var n int64
	for id, c := range m.cameras {
		if c.Present && !kept[id] {
			c.Present = false
			m.cameras[id] = c
			n++
		}
	}
	return n, nil
}

func (m *mockRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cameras[id]; !ok {
		return ErrCameraNotFound
	}
	delete(m.cameras, id)
	return nil
}

func TestResolver_ResolvePath(t *testing.T) {
	devDir := t.TempDir()
	repo := newMockRepository(
		Camera{UniqueID: "front", Path: "/dev/video4", Present: true},
		Camera{UniqueID: "gone", Path: "/dev/video6", Present: false},
	)
	r := NewResolver(
		map[string]string{"rear": "/dev/video2"},
		repo,
		camera.DevResolver{DevDir: devDir},
	)

	tests := []struct {
		name    string
		id      string
		want    string
		wantErr bool
	}{
		{name: "configured path", id: "rear", want: "/dev/video2"},
		{name: "present in inventory", id: "front", want: "/dev/video4"},
		{name: "absent falls back", id: "gone", want: filepath.Join(devDir, "gone")},
		{name: "unknown falls back", id: "video0", want: filepath.Join(devDir, "video0")},
		{name: "path traversal", id: "../etc/passwd", wantErr: true},
		{name: "empty id", id: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.ResolvePath(tt.id)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ResolvePath(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ResolvePath(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}

func TestResolver_InventoryError(t *testing.T) {
	dbErr := errors.New("database is locked")
	repo := newMockRepository()
	repo.getErr = dbErr
	r := NewResolver(nil, repo, nil)

	_, err := r.ResolvePath("front")
	if !errors.Is(err, dbErr) {
		t.Errorf("ResolvePath() error = %v, want %v", err, dbErr)
	}
}

func TestResolver_ConfiguredPathSkipsInventory(t *testing.T) {
	repo := newMockRepository()
	r := NewResolver(map[string]string{"rear": "/dev/video2"}, repo, nil)

	if _, err := r.ResolvePath("rear"); err != nil {
		t.Fatalf("ResolvePath() error = %v", err)
	}
	if repo.gets != 0 {
		t.Errorf("inventory queried %d times, want 0", repo.gets)
	}
}

func TestResolver_WithRegistry(t *testing.T) {
	repo := newMockRepository(Camera{UniqueID: webcamLink, Path: "/dev/video0", Present: true})
	reg := camera.NewRegistry(camera.RegistryOptions{
		Resolver: NewResolver(nil, repo, nil),
		Device:   camera.Options{Open: cameratest.NewFactory("/dev/video0").Open},
	})

	h, err := reg.Acquire(webcamLink)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer h.Release()

	if got := h.Device().Path(); got != "/dev/video0" {
		t.Errorf("device path = %q, want /dev/video0", got)
	}
}
