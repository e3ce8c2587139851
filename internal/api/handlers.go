package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"driftwatch/internal/baseline"
	"driftwatch/internal/diff"
	"driftwatch/internal/drift"
	"driftwatch/internal/features"
	"driftwatch/internal/normalizer"
	"driftwatch/internal/report"
	"driftwatch/internal/store"
)

type apiError struct {
	status int
	tag    string
	msg    string
}

type analyzeResponse struct {
	*drift.Analysis
	Format string        `json:"format"`
	Trend  *report.Trend `json:"trend"`
}

// POST /analyze — ingest one pipeline run and return its drift analysis.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var envelope map[string]any
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body must be a JSON object")
		return
	}
	if err := analyzeEnvelope.Validate(envelope); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	rawLog, err := json.Marshal(envelope["log"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_log_format", "log payload could not be re-encoded")
		return
	}
	pipeline, _ := envelope["pipeline"].(string)
	timestamp, _ := envelope["timestamp"].(string)

	resp, apiErr := s.runAnalysis(r.Context(), rawLog, pipeline, timestamp)
	if apiErr != nil {
		writeError(w, apiErr.status, apiErr.tag, apiErr.msg)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// runAnalysis is the shared analyze flow for /analyze and the stored-file
// process endpoint.
func (s *Server) runAnalysis(ctx context.Context, rawLog []byte, pipelineOverride, timestampOverride string) (*analyzeResponse, *apiError) {
	run, err := normalizer.Normalize(rawLog)
	if err != nil {
		return nil, &apiError{http.StatusBadRequest, "invalid_log_format", err.Error()}
	}
	if pipelineOverride != "" {
		run.Pipeline = pipelineOverride
	}
	if timestampOverride != "" {
		if t, perr := time.Parse(time.RFC3339, timestampOverride); perr == nil {
			run.Timestamp = t.UTC().Format(time.RFC3339)
		}
	}

	if s.cfg.Production() && testDataPattern.MatchString(run.Pipeline) {
		return nil, &apiError{
			http.StatusBadRequest, "test_data_rejected",
			fmt.Sprintf("pipeline %q looks like test data and is rejected in production", run.Pipeline),
		}
	}

	vec, err := features.Extract(run)
	if err != nil {
		return nil, &apiError{http.StatusInternalServerError, "feature_extraction_failed", err.Error()}
	}

	model, err := s.models.Current()
	if err != nil {
		return nil, &apiError{http.StatusInternalServerError, "no_model", err.Error()}
	}

	analysis, err := s.detector.Detect(ctx, vec, model, run.Pipeline, run.Steps)
	if err != nil {
		return nil, &apiError{http.StatusInternalServerError, "detection_failed", err.Error()}
	}
	analysesTotal.WithLabelValues(analysis.RiskLevel).Inc()

	// Durability is best-effort: the caller still gets the analysis when the
	// store write fails.
	if err := s.store.Upsert(analysis); err != nil {
		log.Warn().Err(err).Str("id", analysis.ID).Msg("Failed to persist analysis")
	}

	var trend *report.Trend
	if previous, err := s.store.PreviousFor(run.Pipeline, analysis.Timestamp); err == nil {
		trend = report.TrendFor(analysis, previous)
	} else if !errors.Is(err, store.ErrNotFound) {
		log.Warn().Err(err).Str("pipeline", run.Pipeline).Msg("Failed to load previous analysis for trend")
	}

	return &analyzeResponse{Analysis: analysis, Format: run.Format, Trend: trend}, nil
}

// GET /history?pipeline=&limit=&since= — analyses plus timeline and stats.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	opts := store.QueryOptions{Pipeline: r.URL.Query().Get("pipeline"), Limit: 50}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > store.MaxQueryLimit {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer between 1 and 1000")
			return
		}
		opts.Limit = n
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_since", "since must be an RFC3339 timestamp")
			return
		}
		opts.Since = t
	}

	history, err := s.store.Query(opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}

	stats, err := s.store.GetStats(s.cfg.Production())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stats_failed", err.Error())
		return
	}
	recent, err := s.store.Query(store.QueryOptions{Limit: 20})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"history":  history,
		"timeline": report.Timeline(history),
		"stats":    report.QuickStats(stats, recent),
	})
}

type trainRequest struct {
	BaselineLogs []json.RawMessage `json:"baselineLogs"`
	ModelName    string            `json:"modelName"`
	Retrain      bool              `json:"retrain"`
}

// POST /train — fit (or extend) the baseline from a set of known-good runs.
func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	var envelope map[string]any
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body must be a JSON object")
		return
	}
	if err := trainEnvelope.Validate(envelope); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	raw, _ := json.Marshal(envelope)
	var req trainRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	vectors, pipelines, logErrors := s.vectorizeLogs(req.BaselineLogs)
	if len(vectors) < 2 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"code":   "insufficient_baseline",
			"error":  fmt.Sprintf("training needs at least 2 valid logs, got %d", len(vectors)),
			"errors": logErrors,
		})
		return
	}

	modelName := req.ModelName
	if modelName == "" && len(pipelines) > 0 {
		modelName = pipelines[0]
	}

	var (
		model *baseline.Model
		err   error
	)
	if req.Retrain {
		old, _ := s.models.Current()
		model, err = baseline.Retrain(old, vectors, modelName)
	} else {
		model, err = baseline.Train(vectors, modelName)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "training_failed", err.Error())
		return
	}
	if err := s.models.Replace(model); err != nil {
		writeError(w, http.StatusInternalServerError, "model_persist_failed", err.Error())
		return
	}
	modelReplacements.Inc()

	resp := map[string]any{
		"status":           "trained",
		"modelName":        modelName,
		"trainedAt":        model.TrainedAt,
		"baselineRunCount": model.BaselineRunCount,
		"features":         model.Features,
		"processedLogs":    len(vectors),
	}
	if len(logErrors) > 0 {
		resp["errors"] = logErrors
	}
	writeJSON(w, http.StatusOK, resp)
}

// vectorizeLogs normalizes and extracts each baseline log concurrently,
// collecting per-log failure reasons instead of aborting the batch.
func (s *Server) vectorizeLogs(logs []json.RawMessage) ([]features.Vector, []string, []string) {
	results := make([]features.Vector, len(logs))
	names := make([]string, len(logs))
	reasons := make([]string, len(logs))

	var g errgroup.Group
	g.SetLimit(8)
	for i, raw := range logs {
		g.Go(func() error {
			run, err := normalizer.Normalize(raw)
			if err != nil {
				reasons[i] = fmt.Sprintf("log %d: %v", i+1, err)
				return nil
			}
			vec, err := features.Extract(run)
			if err != nil {
				reasons[i] = fmt.Sprintf("log %d: %v", i+1, err)
				return nil
			}
			results[i] = vec
			names[i] = run.Pipeline
			return nil
		})
	}
	g.Wait()

	var (
		vectors   []features.Vector
		pipelines []string
		errList   []string
	)
	for i := range logs {
		if reasons[i] != "" {
			errList = append(errList, reasons[i])
			continue
		}
		vectors = append(vectors, results[i])
		pipelines = append(pipelines, names[i])
	}
	return vectors, pipelines, errList
}

// GET /pipelines/{name} — diff the oldest stored run against the newest.
func (s *Server) handlePipelineDiff(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	oldest, newest, err := s.store.OldestNewest(name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "pipeline_not_found", fmt.Sprintf("no analyses recorded for pipeline %q", name))
			return
		}
		writeError(w, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}

	result := diff.Compare(oldest.ParsedSteps, newest.ParsedSteps)
	writeJSON(w, http.StatusOK, map[string]any{
		"pipelineName":      name,
		"baseline":          result.Baseline,
		"current":           result.Current,
		"baselineTimestamp": oldest.Timestamp,
		"currentTimestamp":  newest.Timestamp,
	})
}

// GET /health — liveness plus readiness detail.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, modelErr := s.models.Current()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"env":            s.cfg.Env,
		"uptimeSeconds":  int(time.Since(s.startTime).Seconds()),
		"modelLoaded":    modelErr == nil,
		"storeReachable": s.store.Ping() == nil,
	})
}
