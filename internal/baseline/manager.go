package baseline

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrNoModel is returned when analysis is attempted before a baseline exists.
var ErrNoModel = errors.New("no baseline model trained; POST /train first")

// Manager owns the on-disk model and hands out read-only snapshots. Readers
// during a replace see either the old model or the new one, never a partial
// write: the file is replaced via temp-file + rename and the in-memory
// pointer is swapped under the lock.
type Manager struct {
	path string

	mu      sync.RWMutex
	current *Model
}

// NewManager creates a manager for the model file at path and loads any
// existing model. A missing file is not an error; analysis stays unavailable
// until training runs.
func NewManager(path string) (*Manager, error) {
	m := &Manager{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", path).Msg("No baseline model on disk yet")
			return m, nil
		}
		return nil, fmt.Errorf("failed to read model: %w", err)
	}

	var model Model
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf("failed to parse model %s: %w", path, err)
	}
	if err := model.Validate(); err != nil {
		return nil, fmt.Errorf("model %s rejected: %w", path, err)
	}

	m.current = &model
	log.Info().
		Str("pipeline", model.PipelineName).
		Int("runs", model.BaselineRunCount).
		Time("trainedAt", model.TrainedAt).
		Msg("Baseline model loaded")
	return m, nil
}

// Current returns the active model, or ErrNoModel when none is trained.
func (m *Manager) Current() (*Model, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil, ErrNoModel
	}
	return m.current, nil
}

// Replace persists the model atomically and swaps it in. On any persistence
// failure the prior model stays active.
func (m *Manager) Replace(model *Model) error {
	if err := model.Validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(model, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}

	tmpPath := m.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp model file: %w", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename model file: %w", err)
	}

	m.mu.Lock()
	m.current = model
	m.mu.Unlock()

	log.Info().
		Str("pipeline", model.PipelineName).
		Int("runs", model.BaselineRunCount).
		Msg("Baseline model replaced")
	return nil
}

// Path returns the on-disk location of the model file.
func (m *Manager) Path() string {
	return m.path
}
