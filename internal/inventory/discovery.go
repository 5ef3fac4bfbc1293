package inventory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Discovery keeps the inventory in step with the devices on the host.
//
// Thread Safety: Sync and Cameras are safe for concurrent use.
type Discovery struct {
	scanner *Scanner
	repo    Repository
	logger  Logger
	now     func() time.Time

	mu      sync.Mutex
	present map[string]Camera
}

// NewDiscovery creates a discovery service. logger may be nil.
func NewDiscovery(scanner *Scanner, repo Repository, logger Logger) *Discovery {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Discovery{
		scanner: scanner,
		repo:    repo,
		logger:  logger,
		now:     time.Now,
		present: make(map[string]Camera),
	}
}

// Sync scans once, records every camera found and marks the rest absent.
// It returns the cameras found.
//
// Parameters:
//   - ctx: Context for the scan and the database writes
//
// Returns:
//   - []Camera: Cameras present in this scan
//   - error: Scan or repository failure; the cached list is left as is
func (d *Discovery) Sync(ctx context.Context) ([]Camera, error) {
	cams, err := d.scanner.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanning devices: %w", err)
	}

	// Record what is present, then flag the rest
	seen := d.now()
	keep := make([]string, 0, len(cams))
	for i := range cams {
		if err := d.repo.Upsert(ctx, &cams[i], seen); err != nil {
			return nil, err
		}
		keep = append(keep, cams[i].UniqueID)
	}
	if _, err := d.repo.MarkAbsent(ctx, keep); err != nil {
		return nil, err
	}

	d.update(cams)
	return cams, nil
}

func (d *Discovery) update(cams []Camera) {
	d.mu.Lock()
	defer d.mu.Unlock()

	next := make(map[string]Camera, len(cams))
	for _, c := range cams {
		next[c.UniqueID] = c
		if _, ok := d.present[c.UniqueID]; !ok {
			d.logger.Info("camera discovered",
				"unique_id", c.UniqueID,
				"path", c.Path,
				"driver", c.Driver,
				"card", c.Card,
				"bus_info", c.BusInfo,
				"formats", len(c.Formats),
			)
		}
	}
	for id, c := range d.present {
		if _, ok := next[id]; !ok {
			d.logger.Info("camera removed", "unique_id", id, "path", c.Path)
		}
	}
	d.present = next
}

// Cameras returns the cameras found by the last Sync, sorted by unique
// id.
func (d *Discovery) Cameras() []Camera {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Camera, 0, len(d.present))
	for _, c := range d.present {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UniqueID < out[j].UniqueID })
	return out
}

// Run syncs immediately and then every interval until ctx is cancelled.
// A non-positive interval syncs once. Scan failures after the first are
// logged and retried on the next tick.
func (d *Discovery) Run(ctx context.Context, interval time.Duration) error {
	if _, err := d.Sync(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	if interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := d.Sync(ctx); err != nil && ctx.Err() == nil {
				d.logger.Warn("device scan failed", "error", err)
			}
		}
	}
}
