package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andr2000/camera-be/internal/camera"
)

// resolveTimeout bounds the inventory lookup behind one ResolvePath.
const resolveTimeout = 2 * time.Second

// Resolver implements camera.PathResolver over configured paths, the
// inventory and a fallback resolver.
type Resolver struct {
	paths    map[string]string
	repo     Repository
	fallback camera.PathResolver
}

var _ camera.PathResolver = (*Resolver)(nil)

// NewResolver creates a resolver. paths and repo may be nil; a nil
// fallback uses camera.DevResolver{}.
func NewResolver(paths map[string]string, repo Repository, fallback camera.PathResolver) *Resolver {
	if fallback == nil {
		fallback = camera.DevResolver{}
	}
	return &Resolver{paths: paths, repo: repo, fallback: fallback}
}

// ResolvePath returns the device path for uniqueID.
//
// Lookup order:
//  1. Per-camera path from the configuration
//  2. Present camera in the inventory database
//  3. The fallback resolver (/dev/<id>)
func (r *Resolver) ResolvePath(uniqueID string) (string, error) {
	if err := camera.ValidateUniqueID(uniqueID); err != nil {
		return "", err
	}
	// Configured paths win
	if p, ok := r.paths[uniqueID]; ok && p != "" {
		return p, nil
	}

	if r.repo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
		defer cancel()

		cam, err := r.repo.Get(ctx, uniqueID)
		switch {
		case err == nil && cam.Present:
			return cam.Path, nil
		case err != nil && !errors.Is(err, ErrCameraNotFound):
			return "", fmt.Errorf("resolving %s: %w", uniqueID, err)
		}
	}
	return r.fallback.ResolvePath(uniqueID)
}
