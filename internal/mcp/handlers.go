package mcp

import (
	"context"
	"fmt"
	"regexp"

	"driftwatch/internal/baseline"
	"driftwatch/internal/diff"
	"driftwatch/internal/features"
	"driftwatch/internal/normalizer"
	"driftwatch/internal/store"
)

var testDataPattern = regexp.MustCompile(`(?i)test|sample|mock|dummy`)

func isTestData(name string) bool {
	return testDataPattern.MatchString(name)
}

func (s *Server) handleAnalyze(logPayload, pipeline string) (any, error) {
	if logPayload == "" {
		return nil, fmt.Errorf("log is required")
	}

	run, err := normalizer.NormalizeString(logPayload)
	if err != nil {
		return nil, err
	}
	if pipeline != "" {
		run.Pipeline = pipeline
	}
	if s.cfg.Production() && isTestData(run.Pipeline) {
		return nil, fmt.Errorf("pipeline %q looks like test data and is rejected in production", run.Pipeline)
	}

	vec, err := features.Extract(run)
	if err != nil {
		return nil, err
	}
	model, err := s.models.Current()
	if err != nil {
		return nil, err
	}

	analysis, err := s.detector.Detect(context.Background(), vec, model, run.Pipeline, run.Steps)
	if err != nil {
		return nil, err
	}
	if err := s.store.Upsert(analysis); err != nil {
		return nil, fmt.Errorf("analysis computed but could not be stored: %w", err)
	}
	return analysis, nil
}

func (s *Server) handleTrain(filenames []string, modelName string) (any, error) {
	if len(filenames) == 0 {
		files, err := s.catalog.List()
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			filenames = append(filenames, f.Name)
		}
	}

	var vectors []features.Vector
	for _, name := range filenames {
		data, err := s.catalog.Read(name)
		if err != nil {
			return nil, err
		}
		run, err := normalizer.Normalize(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		vec, err := features.Extract(run)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		vectors = append(vectors, vec)
		if modelName == "" {
			modelName = run.Pipeline
		}
	}
	if len(vectors) < 2 {
		return nil, fmt.Errorf("training needs at least 2 usable logs, got %d", len(vectors))
	}

	model, err := baseline.Train(vectors, modelName)
	if err != nil {
		return nil, err
	}
	if err := s.models.Replace(model); err != nil {
		return nil, err
	}

	return map[string]any{
		"status":           "trained",
		"modelName":        modelName,
		"trainedAt":        model.TrainedAt,
		"baselineRunCount": model.BaselineRunCount,
	}, nil
}

func (s *Server) handleHistory(pipeline string, limit int) (any, error) {
	return s.store.Query(store.QueryOptions{Pipeline: pipeline, Limit: limit})
}

func (s *Server) handleDiff(pipeline string) (any, error) {
	if pipeline == "" {
		return nil, fmt.Errorf("pipeline is required")
	}
	oldest, newest, err := s.store.OldestNewest(pipeline)
	if err != nil {
		return nil, err
	}
	result := diff.Compare(oldest.ParsedSteps, newest.ParsedSteps)
	return map[string]any{
		"pipelineName":      pipeline,
		"baseline":          result.Baseline,
		"current":           result.Current,
		"baselineTimestamp": oldest.Timestamp,
		"currentTimestamp":  newest.Timestamp,
	}, nil
}
