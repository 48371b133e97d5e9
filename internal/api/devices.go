package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-cast/internal/bridges/cast"
)

// handleListDevices returns every device the bridge has reported on.
//
// Query parameters:
//   - status: filter by device_status (online, offline)
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.store.List()

	if status := r.URL.Query().Get("status"); status != "" {
		filtered := devices[:0]
		for _, d := range devices {
			if d.DeviceStatus != nil && string(*d.DeviceStatus) == status {
				filtered = append(filtered, d)
			}
		}
		devices = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device view.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := cast.DeviceID(chi.URLParam(r, "id"))
	view, ok := s.store.Get(id)
	if !ok {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// instructionRequest is the body of POST /devices/{id}/instructions.
type instructionRequest struct {
	ID          string          `json:"id,omitempty"`
	Instruction string          `json:"instruction"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// handlePostInstruction routes an instruction and waits for its outcome.
//
// Responses:
//   - 200 with the ack for accepted, ignored and failed outcomes
//   - 404 when the device has no active session
//   - 400 when the instruction cannot be decoded
//   - 504 when no reply arrives in time (dropped instructions never reply)
func (s *Server) handlePostInstruction(w http.ResponseWriter, r *http.Request) {
	deviceID := cast.DeviceID(chi.URLParam(r, "id"))

	var req instructionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Instruction == "" {
		writeBadRequest(w, "instruction is required")
		return
	}
	payload, err := cast.DecodePayload(req.Instruction, req.Parameters)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	replies := make(chan cast.Result, 1)
	s.router.Route(cast.Instruction{
		ID:       req.ID,
		DeviceID: deviceID,
		Payload:  payload,
		Source:   s.instructionSource(r),
		Reply: func(res cast.Result) {
			select {
			case replies <- res:
			default:
			}
		},
	})

	timer := time.NewTimer(s.instructionTimeout)
	defer timer.Stop()

	select {
	case res := <-replies:
		ack := cast.NewAck(req.ID, deviceID, res)
		if res.Outcome == cast.OutcomeNotFound {
			writeJSON(w, http.StatusNotFound, ack)
			return
		}
		writeJSON(w, http.StatusOK, ack)
	case <-timer.C:
		writeJSON(w, http.StatusGatewayTimeout, cast.NewTimeoutAck(req.ID, deviceID))
	case <-r.Context().Done():
		s.logger.Debug("instruction request abandoned",
			"instruction_id", req.ID,
			"device_id", deviceID,
			"error", r.Context().Err(),
		)
	}
}

// instructionSource tags audit records with the token subject when present.
func (s *Server) instructionSource(r *http.Request) string {
	if sub, ok := r.Context().Value(ctxKeySubject).(string); ok && sub != "" {
		return "api:" + sub
	}
	return "api"
}
