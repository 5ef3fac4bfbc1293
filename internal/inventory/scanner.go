package inventory

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/andr2000/camera-be/internal/camera"
)

// Scanner finds capture devices under a device directory.
type Scanner struct {
	// DevDir holds the video nodes. Defaults to "/dev".
	DevDir string

	// ByIDDir holds persistent links named after each device. Defaults
	// to DevDir/v4l/by-id.
	ByIDDir string

	// Open opens a node for probing. Defaults to camera.OpenHardware.
	Open camera.OpenFunc

	// Logger is optional.
	Logger Logger
}

// Scan inspects every video node and returns the capture devices found,
// sorted by unique id. Nodes that cannot be opened or are not capture
// devices are logged and skipped.
func (s *Scanner) Scan(ctx context.Context) ([]Camera, error) {
	devDir := s.DevDir
	if devDir == "" {
		devDir = "/dev"
	}
	byIDDir := s.ByIDDir
	if byIDDir == "" {
		byIDDir = filepath.Join(devDir, "v4l", "by-id")
	}

	nodes, err := filepath.Glob(filepath.Join(devDir, "video*"))
	if err != nil {
		return nil, fmt.Errorf("listing video nodes: %w", err)
	}
	sort.Strings(nodes)

	names, err := linkNames(byIDDir)
	if err != nil {
		return nil, err
	}

	var cams []Camera
	for _, node := range nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cam, ok := s.inspect(node)
		if !ok {
			continue
		}
		cam.UniqueID = filepath.Base(node)
		if name, found := names[realPath(node)]; found {
			cam.UniqueID = name
		}
		cams = append(cams, cam)
	}

	sort.Slice(cams, func(i, j int) bool { return cams[i].UniqueID < cams[j].UniqueID })
	return cams, nil
}

func (s *Scanner) logger() Logger {
	if s.Logger == nil {
		return noopLogger{}
	}
	return s.Logger
}

func (s *Scanner) inspect(node string) (Camera, bool) {
	log := s.logger()
	open := s.Open
	if open == nil {
		open = camera.OpenHardware
	}

	hw, err := open(node)
	if err != nil {
		log.Warn("cannot open video node", "path", node, "error", err)
		return Camera{}, false
	}
	defer hw.Close() //nolint:errcheck // read-only check

	caps, ok, err := camera.CheckCapture(hw)
	if err != nil {
		log.Warn("probing video node failed", "path", node, "error", err)
		return Camera{}, false
	}
	if !ok {
		log.Debug("not a capture device", "path", node, "driver", caps.Driver)
		return Camera{}, false
	}

	formats, err := camera.EnumerateFormats(hw)
	if err != nil {
		log.Warn("enumerating formats failed", "path", node, "error", err)
		formats = nil
	}

	return Camera{
		Path:    node,
		Driver:  caps.Driver,
		Card:    caps.Card,
		BusInfo: caps.BusInfo,
		Formats: formats,
		Present: true,
	}, true
}

// linkNames maps the resolved target of every link in dir to the link
// name. When several links share a target the lowest name wins.
func linkNames(dir string) (map[string]string, error) {
	names := make(map[string]string)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return names, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	for _, e := range entries {
		target, err := filepath.EvalSymlinks(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		if prev, ok := names[target]; !ok || e.Name() < prev {
			names[target] = e.Name()
		}
	}
	return names, nil
}

func realPath(p string) string {
	if r, err := filepath.EvalSymlinks(p); err == nil {
		return r
	}
	return p
}
