package inventory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/andr2000/camera-be/internal/camera"
)

// Repository persists the camera inventory.
type Repository interface {
	// Get returns ErrCameraNotFound for an unknown id.
	Get(ctx context.Context, uniqueID string) (*Camera, error)

	// List returns every camera, present or not, sorted by unique id.
	List(ctx context.Context) ([]Camera, error)

	// Upsert records cam as present at seen. FirstSeen is kept for a
	// camera already in the inventory.
	Upsert(ctx context.Context, cam *Camera, seen time.Time) error

	// MarkAbsent flags every present camera not named in keep and
	// returns how many changed.
	MarkAbsent(ctx context.Context, keep []string) (int64, error)

	// Delete returns ErrCameraNotFound for an unknown id.
	Delete(ctx context.Context, uniqueID string) error
}

// SQLiteRepository implements Repository on the cameras table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectCameras = `
	SELECT unique_id, path, driver, card, bus_info, formats, present,
		first_seen, last_seen
	FROM cameras`

// Get retrieves a camera by unique id.
func (r *SQLiteRepository) Get(ctx context.Context, uniqueID string) (*Camera, error) {
	row := r.db.QueryRowContext(ctx, selectCameras+" WHERE unique_id = ?", uniqueID)
	cam, err := scanCamera(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCameraNotFound
		}
		return nil, fmt.Errorf("querying camera: %w", err)
	}
	return cam, nil
}

// List retrieves all cameras.
func (r *SQLiteRepository) List(ctx context.Context) ([]Camera, error) {
	rows, err := r.db.QueryContext(ctx, selectCameras+" ORDER BY unique_id")
	if err != nil {
		return nil, fmt.Errorf("querying cameras: %w", err)
	}
	defer rows.Close()

	var cams []Camera
	for rows.Next() {
		cam, err := scanCamera(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning camera: %w", err)
		}
		cams = append(cams, *cam)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cameras: %w", err)
	}
	return cams, nil
}

// Upsert inserts or refreshes a camera.
//
// Parameters:
//   - ctx: Context for the query
//   - cam: Camera to record; UniqueID and Path are required
//   - seen: Scan time, stored as first_seen on insert and last_seen always
//
// Returns:
//   - error: ErrInvalidCamera, or the database failure
func (r *SQLiteRepository) Upsert(ctx context.Context, cam *Camera, seen time.Time) error {
	if cam.UniqueID == "" || cam.Path == "" {
		return fmt.Errorf("%w: unique id and path are required", ErrInvalidCamera)
	}

	// Encode formats as JSON
	formats := cam.Formats
	if formats == nil {
		formats = []camera.FormatDesc{}
	}
	formatsJSON, err := json.Marshal(formats)
	if err != nil {
		return fmt.Errorf("marshalling formats: %w", err)
	}

	ts := seen.UTC().Format(time.RFC3339)
	query := `
		INSERT INTO cameras (unique_id, path, driver, card, bus_info, formats,
			present, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(unique_id) DO UPDATE SET
			path = excluded.path,
			driver = excluded.driver,
			card = excluded.card,
			bus_info = excluded.bus_info,
			formats = excluded.formats,
			present = 1,
			last_seen = excluded.last_seen`

	if _, err := r.db.ExecContext(ctx, query,
		cam.UniqueID,
		cam.Path,
		cam.Driver,
		cam.Card,
		cam.BusInfo,
		string(formatsJSON),
		ts,
		ts,
	); err != nil {
		return fmt.Errorf("upserting camera: %w", err)
	}
	return nil
}

// MarkAbsent flags cameras missing from the latest scan.
func (r *SQLiteRepository) MarkAbsent(ctx context.Context, keep []string) (int64, error) {
	query := "UPDATE cameras SET present = 0 WHERE present = 1"
	args := make([]any, 0, len(keep))
	if len(keep) > 0 {
		query += " AND unique_id NOT IN (" + strings.TrimSuffix(strings.Repeat("?,", len(keep)), ",") + ")"
		for _, id := range keep {
			args = append(args, id)
		}
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("marking cameras absent: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// Delete removes a camera.
func (r *SQLiteRepository) Delete(ctx context.Context, uniqueID string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM cameras WHERE unique_id = ?", uniqueID)
	if err != nil {
		return fmt.Errorf("deleting camera: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrCameraNotFound
	}
	return nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCamera(row rowScanner) (*Camera, error) {
	var (
		cam                 Camera
		formats             string
		present             int
		firstSeen, lastSeen string
	)
	if err := row.Scan(
		&cam.UniqueID,
		&cam.Path,
		&cam.Driver,
		&cam.Card,
		&cam.BusInfo,
		&formats,
		&present,
		&firstSeen,
		&lastSeen,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(formats), &cam.Formats); err != nil {
		return nil, fmt.Errorf("unmarshalling formats: %w", err)
	}
	cam.Present = present != 0
	cam.FirstSeen, _ = time.Parse(time.RFC3339, firstSeen) //nolint:errcheck // written by Upsert
	cam.LastSeen, _ = time.Parse(time.RFC3339, lastSeen)   //nolint:errcheck // written by Upsert
	return &cam, nil
}
