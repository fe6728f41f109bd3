package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/lora-relay/internal/enddevice"
)

// endDevicesBody is the request and response body of /api/end_devices.
type endDevicesBody struct {
	EndDevices []string `json:"end_devices"`
}

// handleListEndDevices returns the current registry.
func (s *Server) handleListEndDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, endDevicesBody{EndDevices: s.registry.List()})
}

// handleAddEndDevices union-adds the requested ids.
func (s *Server) handleAddEndDevices(w http.ResponseWriter, r *http.Request) {
	s.mutateEndDevices(w, r, "added", s.registry.Add)
}

// handleRemoveEndDevices removes the requested ids.
func (s *Server) handleRemoveEndDevices(w http.ResponseWriter, r *http.Request) {
	s.mutateEndDevices(w, r, "removed", s.registry.Remove)
}

func (s *Server) mutateEndDevices(w http.ResponseWriter, r *http.Request, verb string, apply func([]string) ([]string, error)) {
	var req endDevicesBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.EndDevices == nil {
		writeBadRequest(w, "end_devices is required")
		return
	}

	ids, err := apply(req.EndDevices)
	if err != nil {
		if errors.Is(err, enddevice.ErrInvalidID) {
			writeValidationError(w, err.Error())
			return
		}
		writeInternalError(w, "updating end-device registry")
		return
	}

	s.logger.Debug("end-device request "+verb,
		"ids", req.EndDevices,
		"total", len(ids),
		"subject", r.Context().Value(ctxKeySubject),
	)
	writeJSON(w, http.StatusOK, endDevicesBody{EndDevices: ids})
}
