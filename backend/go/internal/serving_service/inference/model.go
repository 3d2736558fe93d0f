package inference

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Model holds the loaded versions of one registered model, keyed by tag:
// a stage name or the run name of a calibrated model.
type Model struct {
	Name string

	run        string // calibrated run name, empty for the stage-based model
	mu         sync.RWMutex
	predictors map[string]Predictor
	updated    time.Time
}

// NewModel creates a model from its loaded versions.
func NewModel(name string, predictors map[string]Predictor, now time.Time) *Model {
	return &Model{Name: name, predictors: predictors, updated: now}
}

// Predictor picks the version for modelID when loaded, otherwise the one for stage.
func (m *Model) Predictor(stage, modelID string) (Predictor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if modelID != "" {
		if p, ok := m.predictors[modelID]; ok {
			return p, nil
		}
	}
	if p, ok := m.predictors[stage]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("no model with ID '%s' or with stage '%s' found: %w", modelID, stage, ErrInvalidModelIDOrStage)
}

// Predict runs inputs through the selected version.
func (m *Model) Predict(inputs interface{}, stage, modelID string) (interface{}, error) {
	p, err := m.Predictor(stage, modelID)
	if err != nil {
		return nil, err
	}
	return p.Predict(inputs)
}

// Tags returns the loaded tags in sorted order.
func (m *Model) Tags() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tags := make([]string, 0, len(m.predictors))
	for tag := range m.predictors {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Update replaces the version for one tag.
func (m *Model) Update(tag string, p Predictor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictors[tag] = p
}

// claimRefresh marks the model as refreshed at now if it was stale and
// reports whether the caller should reload it.
func (m *Model) claimRefresh(now time.Time, interval time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now.Sub(m.updated) <= interval {
		return false
	}
	m.updated = now
	return true
}
