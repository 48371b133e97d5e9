package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-cast/internal/audit"
)

// handleListInstructions returns paginated instruction log entries.
//
// Query parameters:
//   - device_id: filter by device
//   - outcome: filter by outcome (accepted, ignored, failed, not_found)
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListInstructions(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "instruction log not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		DeviceID: q.Get("device_id"),
		Outcome:  q.Get("outcome"),
	}

	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeBadRequest(w, "limit must be an integer")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeBadRequest(w, "offset must be an integer")
		return
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list instruction log", "error", err)
		writeInternalError(w, "failed to list instruction log")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
