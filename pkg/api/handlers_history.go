package api

import (
	"net/http"
	"strconv"

	"github.com/ethpandaops/durationoor/pkg/history"
)

const defaultHistoryLimit = 50

type testHistoryResponse struct {
	Test    string                 `json:"test"`
	Entries []history.TestDuration `json:"entries"`
}

type compilationsResponse struct {
	Compilations []history.Compilation `json:"compilations"`
}

// parseLimit reads the "limit" query parameter.
func parseLimit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultHistoryLimit, true
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}

	return n, true
}

// handleTestHistory returns the compiled durations of one test over time.
func (s *server) handleTestHistory(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("test")
	if name == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"test query parameter is required"})

		return
	}

	limit, ok := parseLimit(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid limit"})

		return
	}

	entries, err := s.tracker.History().ListTestHistory(r.Context(), name, limit)
	if err != nil {
		s.log.WithError(err).Error("Failed to list test history")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"listing test history failed"})

		return
	}

	if entries == nil {
		entries = []history.TestDuration{}
	}

	writeJSON(w, http.StatusOK, testHistoryResponse{Test: name, Entries: entries})
}

// handleCompilations returns the most recent compilations.
func (s *server) handleCompilations(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid limit"})

		return
	}

	comps, err := s.tracker.History().ListCompilations(r.Context(), limit)
	if err != nil {
		s.log.WithError(err).Error("Failed to list compilations")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"listing compilations failed"})

		return
	}

	if comps == nil {
		comps = []history.Compilation{}
	}

	writeJSON(w, http.StatusOK, compilationsResponse{Compilations: comps})
}
