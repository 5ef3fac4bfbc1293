package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/andr2000/camera-be/internal/camera"
	"github.com/andr2000/camera-be/internal/infrastructure/database"
	"github.com/andr2000/camera-be/internal/v4l2"
	"github.com/andr2000/camera-be/migrations"
)

// setupTestRepo opens a migrated in-memory inventory.
func setupTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func testCamera(id, path string) *Camera {
	return &Camera{
		UniqueID: id,
		Path:     path,
		Driver:   "uvcvideo",
		Card:     "HD Webcam",
		BusInfo:  "usb-0000:00:14.0-1",
		Formats: []camera.FormatDesc{{
			PixelFormat: v4l2.PixFmtMJPEG,
			FourCC:      "MJPG",
			Description: "Motion-JPEG",
			Sizes: []camera.FrameSize{{
				Width:     1280,
				Height:    720,
				Intervals: []v4l2.Fract{{Numerator: 1, Denominator: 30}},
			}},
		}},
	}
}

func TestSQLiteRepository_UpsertGet(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	first := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

	if err := repo.Upsert(ctx, testCamera("cam0", "/dev/video0"), first); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, err := repo.Get(ctx, "cam0")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Path != "/dev/video0" || got.Driver != "uvcvideo" || got.BusInfo != "usb-0000:00:14.0-1" {
		t.Errorf("Get() = %+v", got)
	}
	if !got.Present {
		t.Error("Present = false")
	}
	if !got.FirstSeen.Equal(first) || !got.LastSeen.Equal(first) {
		t.Errorf("FirstSeen/LastSeen = %v/%v, want %v", got.FirstSeen, got.LastSeen, first)
	}
	if len(got.Formats) != 1 || got.Formats[0].Sizes[0].Intervals[0].Denominator != 30 {
		t.Errorf("Formats = %+v", got.Formats)
	}

	// A later sighting moves the node but keeps the first sighting.
	later := first.Add(time.Hour)
	if err := repo.Upsert(ctx, testCamera("cam0", "/dev/video4"), later); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	got, err = repo.Get(ctx, "cam0")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Path != "/dev/video4" {
		t.Errorf("Path = %q, want /dev/video4", got.Path)
	}
	if !got.FirstSeen.Equal(first) {
		t.Errorf("FirstSeen = %v, want %v", got.FirstSeen, first)
	}
	if !got.LastSeen.Equal(later) {
		t.Errorf("LastSeen = %v, want %v", got.LastSeen, later)
	}
}

func TestSQLiteRepository_UpsertValidation(t *testing.T) {
	repo := setupTestRepo(t)

	tests := []struct {
		name string
		cam  *Camera
	}{
		{"missing id", &Camera{Path: "/dev/video0"}},
		{"missing path", &Camera{UniqueID: "cam0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := repo.Upsert(context.Background(), tt.cam, time.Now())
			if !errors.Is(err, ErrInvalidCamera) {
				t.Errorf("Upsert() error = %v, want ErrInvalidCamera", err)
			}
		})
	}
}

func TestSQLiteRepository_GetNotFound(t *testing.T) {
	repo := setupTestRepo(t)

	_, err := repo.Get(context.Background(), "missing")
	if !errors.Is(err, ErrCameraNotFound) {
		t.Errorf("Get() error = %v, want ErrCameraNotFound", err)
	}
}

func TestSQLiteRepository_ListAndMarkAbsent(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	for _, id := range []string{"cam2", "cam0", "cam1"} {
		if err := repo.Upsert(ctx, testCamera(id, "/dev/"+id), now); err != nil {
			t.Fatalf("Upsert(%s) error = %v", id, err)
		}
	}

	n, err := repo.MarkAbsent(ctx, []string{"cam1"})
	if err != nil {
		t.Fatalf("MarkAbsent() error = %v", err)
	}
	if n != 2 {
		t.Errorf("MarkAbsent() changed %d, want 2", n)
	}

	cams, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []struct {
		id      string
		present bool
	}{
		{"cam0", false},
		{"cam1", true},
		{"cam2", false},
	}
	if len(cams) != len(want) {
		t.Fatalf("List() returned %d cameras, want %d", len(cams), len(want))
	}
	for i, w := range want {
		if cams[i].UniqueID != w.id || cams[i].Present != w.present {
			t.Errorf("cams[%d] = %s present=%v, want %s present=%v",
				i, cams[i].UniqueID, cams[i].Present, w.id, w.present)
		}
	}

	// Nothing to keep: the last one goes too, absent ones are not counted again.
	n, err = repo.MarkAbsent(ctx, nil)
	if err != nil {
		t.Fatalf("MarkAbsent(nil) error = %v", err)
	}
	if n != 1 {
		t.Errorf("MarkAbsent(nil) changed %d, want 1", n)
	}
}

func TestSQLiteRepository_Delete(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	if err := repo.Upsert(ctx, testCamera("cam0", "/dev/video0"), time.Now()); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := repo.Delete(ctx, "cam0"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := repo.Delete(ctx, "cam0"); !errors.Is(err, ErrCameraNotFound) {
		t.Errorf("second Delete() error = %v, want ErrCameraNotFound", err)
	}
}
