package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/andr2000/camera-be/internal/camera"
	"github.com/andr2000/camera-be/internal/frontend"
	"github.com/andr2000/camera-be/internal/inventory"
)

// CameraView joins a camera's inventory record with its live state.
// Either half may be missing: a camera opened by explicit path is not in
// the inventory, and most inventory entries are not open.
type CameraView struct {
	UniqueID  string            `json:"unique_id"`
	Inventory *inventory.Camera `json:"inventory,omitempty"`
	Open      bool              `json:"open"`
	Refs      int               `json:"refs,omitempty"`
	Stats     *camera.Stats     `json:"stats,omitempty"`
	Frontends int               `json:"frontends"`
	Streamers int               `json:"streamers"`
}

// controlRequest is the body of PUT /cameras/{id}/controls/{name}.
type controlRequest struct {
	Value *int64 `json:"value"`
}

func (s *Server) cameraViews(r *http.Request) ([]CameraView, error) {
	var views []CameraView
	index := make(map[string]int)

	if s.inventory != nil {
		cams, err := s.inventory.List(r.Context())
		if err != nil {
			return nil, err
		}
		for i := range cams {
			index[cams[i].UniqueID] = len(views)
			views = append(views, CameraView{UniqueID: cams[i].UniqueID, Inventory: &cams[i]})
		}
	}

	for _, e := range s.registry.Snapshot() {
		i, ok := index[e.UniqueID]
		if !ok {
			i = len(views)
			index[e.UniqueID] = i
			views = append(views, CameraView{UniqueID: e.UniqueID})
		}
		stats := e.Stats
		views[i].Open = true
		views[i].Refs = e.Refs
		views[i].Stats = &stats
	}

	if s.groups != nil {
		for _, g := range s.groups.Groups() {
			if i, ok := index[g.UniqueID]; ok {
				views[i].Frontends = g.Frontends
				views[i].Streamers = g.Streaming
			}
		}
	}

	if views == nil {
		views = []CameraView{}
	}
	return views, nil
}

// handleListCameras lists the inventory merged with the open devices.
func (s *Server) handleListCameras(w http.ResponseWriter, r *http.Request) {
	views, err := s.cameraViews(r)
	if err != nil {
		s.logger.Error("listing cameras failed", "error", err)
		writeInternalError(w, "failed to list cameras")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cameras": views,
		"count":   len(views),
	})
}

// handleGetCamera returns one camera by unique id.
func (s *Server) handleGetCamera(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := camera.ValidateUniqueID(id); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	views, err := s.cameraViews(r)
	if err != nil {
		s.logger.Error("listing cameras failed", "error", err)
		writeInternalError(w, "failed to get camera")
		return
	}
	for _, v := range views {
		if v.UniqueID == id {
			writeJSON(w, http.StatusOK, v)
			return
		}
	}
	writeNotFound(w, "camera not found")
}

// handleSetControl overrides a control on an open camera.
func (s *Server) handleSetControl(w http.ResponseWriter, r *http.Request) {
	if s.frontends == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "frontend manager not available")
		return
	}

	id := chi.URLParam(r, "id")
	name := chi.URLParam(r, "name")

	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Value == nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "value is required")
		return
	}

	err := s.frontends.OverrideControl(id, name, *req.Value)
	switch {
	case err == nil:
		s.logger.Info("control overridden via API",
			"unique_id", id,
			"control", name,
			"value", *req.Value,
			"subject", subject(r.Context()),
			"request_id", requestID(r.Context()),
		)
		writeJSON(w, http.StatusOK, map[string]any{
			"unique_id": id,
			"control":   name,
			"value":     *req.Value,
		})
	case errors.Is(err, frontend.ErrCameraNotOpen):
		writeNotFound(w, "camera not open")
	case errors.Is(err, camera.ErrUnsupportedControl):
		writeNotFound(w, "control not supported")
	case errors.Is(err, camera.ErrHardwareIO):
		writeError(w, http.StatusBadGateway, ErrCodeDevice, err.Error())
	default:
		s.logger.Error("control override failed", "unique_id", id, "control", name, "error", err)
		writeInternalError(w, "control override failed")
	}
}

// handleListSessions lists the connected frontends.
func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := []frontend.SessionInfo{}
	if s.frontends != nil {
		sessions = append(sessions, s.frontends.Sessions()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// handleListGroups lists frontends grouped by camera.
func (s *Server) handleListGroups(w http.ResponseWriter, _ *http.Request) {
	groups := []frontend.GroupInfo{}
	if s.groups != nil {
		groups = append(groups, s.groups.Groups()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"groups": groups,
		"count":  len(groups),
	})
}
