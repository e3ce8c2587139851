package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"driftwatch/internal/logfiles"
)

// GET /pipeline-logs — list the stored log files.
func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	files, err := s.catalog.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "log_listing_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"logs":  files,
		"count": len(files),
	})
}

// GET /pipeline-logs/{filename} — fetch one validated log file.
func (s *Server) handleGetLog(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")

	data, err := s.catalog.Read(filename)
	if err != nil {
		writeLogError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"filename": filename,
		"data":     json.RawMessage(data),
	})
}

// POST /pipeline-logs/{filename}/process — re-run analysis from a stored file.
func (s *Server) handleProcessLog(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")

	data, err := s.catalog.Read(filename)
	if err != nil {
		writeLogError(w, err)
		return
	}

	resp, apiErr := s.runAnalysis(r.Context(), data, "", "")
	if apiErr != nil {
		writeError(w, apiErr.status, apiErr.tag, apiErr.msg)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "processed",
		"message":  fmt.Sprintf("analyzed %s as pipeline %q", filename, resp.PipelineName),
		"analysis": resp,
	})
}

func writeLogError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, logfiles.ErrInvalidName):
		writeError(w, http.StatusBadRequest, "invalid_filename", err.Error())
	case errors.Is(err, logfiles.ErrNotFound):
		writeError(w, http.StatusNotFound, "log_not_found", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "log_read_failed", err.Error())
	}
}
