package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/lora-relay/internal/journal"
)

// handleJournal returns recent traffic journal entries, newest first.
//
// Query parameters: limit, offset, direction (up|down), kind.
func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeUnavailable(w, "traffic journal is disabled")
		return
	}

	q := r.URL.Query()
	filter := journal.Filter{
		Direction: q.Get("direction"),
		Kind:      q.Get("kind"),
	}
	if filter.Direction != "" && filter.Direction != journal.DirectionUp && filter.Direction != journal.DirectionDown {
		writeBadRequest(w, "direction must be up or down")
		return
	}

	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeBadRequest(w, "limit must be a non-negative integer")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeBadRequest(w, "offset must be a non-negative integer")
		return
	}

	res, err := s.journal.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing journal", "error", err)
		writeInternalError(w, "reading traffic journal")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// intParam parses an optional non-negative query parameter.
func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}
