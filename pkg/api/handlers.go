package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/ethpandaops/durationoor/pkg/durations"
	"github.com/ethpandaops/durationoor/pkg/split"
	"github.com/go-chi/chi/v5"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// decodeJSON reads a size-limited JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}

	return nil
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleDurations returns the compiled durations.
func (s *server) handleDurations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.Compiled(r.Context()))
}

type nodesResponse struct {
	Nodes []string `json:"nodes"`
}

// handleNodes lists the nodes that have saved durations.
func (s *server) handleNodes(w http.ResponseWriter, _ *http.Request) {
	nodes, err := s.tracker.Nodes()
	if err != nil {
		s.log.WithError(err).Error("Failed to list nodes")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"listing nodes failed"})

		return
	}

	writeJSON(w, http.StatusOK, nodesResponse{Nodes: nodes})
}

// handlePutNodeDurations replaces the durations file of a node.
func (s *server) handlePutNodeDurations(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")

	if err := durations.ValidateNodeID(nodeID); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	var rec durations.Record
	if err := decodeJSON(w, r, &rec); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	for name, secs := range rec {
		if secs < 0 {
			writeJSON(w, http.StatusBadRequest,
				errorResponse{fmt.Sprintf("negative duration for %q", name)})

			return
		}
	}

	if err := s.tracker.SaveNodeAs(r.Context(), nodeID, rec); err != nil {
		if errors.Is(err, durations.ErrInvalidNodeID) {
			writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

			return
		}

		s.log.WithError(err).WithField("node", nodeID).
			Error("Failed to save node durations")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"saving node durations failed"})

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type compileResponse struct {
	Tests     int                     `json:"tests"`
	NodeFiles []string                `json:"node_files"`
	Skipped   []durations.SkippedFile `json:"skipped"`
}

// handleCompile compiles all node files.
func (s *server) handleCompile(w http.ResponseWriter, r *http.Request) {
	s.compileMu.Lock()
	defer s.compileMu.Unlock()

	c, err := s.tracker.Compile(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to compile durations")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"compiling durations failed"})

		return
	}

	resp := compileResponse{
		Tests:     len(c.Durations),
		NodeFiles: make([]string, 0, len(c.NodeFiles)),
		Skipped:   make([]durations.SkippedFile, 0, len(c.Skipped)),
	}

	for _, f := range c.NodeFiles {
		resp.NodeFiles = append(resp.NodeFiles, filepath.Base(f))
	}

	for _, sf := range c.Skipped {
		resp.Skipped = append(resp.Skipped, durations.SkippedFile{
			Path: filepath.Base(sf.Path),
			Err:  sf.Err,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type splitRequest struct {
	Tests    []string `json:"tests"`
	Splits   int      `json:"splits"`
	Group    int      `json:"group"`
	Strategy string   `json:"strategy,omitempty"`
}

// handleSplit returns the tests assigned to one group.
func (s *server) handleSplit(w http.ResponseWriter, r *http.Request) {
	var req splitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	strategy := s.strategy
	if req.Strategy != "" {
		parsed, err := split.ParseStrategy(req.Strategy)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

			return
		}

		strategy = parsed
	}

	shard, err := split.Compute(
		req.Tests, s.tracker.Compiled(r.Context()), req.Splits, req.Group, strategy,
	)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	writeJSON(w, http.StatusOK, shard)
}
