// Package inference keeps a bounded working set of loaded models for the
// serving API and refreshes them from the model registry.
package inference

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"Chimp/backend/go/internal/models"
	"Chimp/backend/go/internal/registry"
	"Chimp/backend/go/pkg/logger"
	"Chimp/backend/go/pkg/tracing"
	"Chimp/backend/go/pkg/util"

	"go.opentelemetry.io/otel/attribute"
)

// ModelSource is the part of the model registry the cache reads from.
type ModelSource interface {
	ListModels(ctx context.Context) ([]models.RegisteredModel, error)
	LoadStageArtifact(ctx context.Context, modelName, stage, saveTo string) (*models.ModelRun, string, error)
	LoadRunArtifact(ctx context.Context, runName, saveTo string) (*models.ModelRun, string, error)
}

var servedStages = []string{models.StageProduction, models.StageStaging}

// Cache loads models lazily and keeps at most capacity of them in memory.
type Cache struct {
	source   ModelSource
	loaded   *util.LRU[string, *Model]
	interval time.Duration
	scratch  string
	logger   *logger.Logger
	now      func() time.Time

	knownMu    sync.Mutex
	known      map[string]struct{}
	runOwners  map[string]string
	modelNames []string
	knownAt    time.Time

	loadMu sync.Mutex
}

// NewCache creates a Cache. interval controls both how often the set of
// registered models is re-read and when a loaded model is reloaded.
func NewCache(source ModelSource, capacity int, interval time.Duration, scratch string, log *logger.Logger) (*Cache, error) {
	c := &Cache{
		source:   source,
		interval: interval,
		scratch:  scratch,
		logger:   log,
		now:      time.Now,
	}
	loaded, err := util.NewLRU(util.LRUConfig[string, *Model]{
		Capacity: capacity,
		OnEvict: func(key string, _ *Model) {
			log.Debug(fmt.Sprintf("Evicted model '%s' from the inference cache", key))
		},
	})
	if err != nil {
		return nil, err
	}
	c.loaded = loaded
	return c, nil
}

// Infer runs inputs through the model. stage defaults to production.
// modelID selects a calibrated version by run name when a stage of modelName points at it.
func (c *Cache) Infer(ctx context.Context, modelName string, inputs interface{}, stage, modelID string) (result interface{}, err error) {
	ctx, span := tracing.StartSpan(ctx, "infer",
		attribute.String("model", modelName),
		attribute.String("stage", stage))
	defer func() {
		tracing.RecordError(span, err)
		span.End()
	}()

	if stage == "" {
		stage = models.StageProduction
	}
	m, err := c.model(ctx, modelName, modelID)
	if err != nil {
		return nil, err
	}
	c.maybeRefresh(ctx, m)
	return m.Predict(inputs, stage, modelID)
}

func (c *Cache) model(ctx context.Context, modelName, modelID string) (*Model, error) {
	if modelID != "" {
		m, err := c.lookup(ctx, calibratedKey(modelName, modelID),
			func() bool { return c.runOwners[modelID] == modelName },
			func(ctx context.Context) (*Model, error) { return c.loadCalibrated(ctx, modelName, modelID) })
		if err == nil {
			return m, nil
		}
		c.logger.Debug(fmt.Sprintf("Calibrated model '%s' unavailable, using '%s': %v", modelID, modelName, err))
	}
	return c.lookup(ctx, modelName,
		func() bool {
			_, ok := c.known[modelName]
			return ok
		},
		func(ctx context.Context) (*Model, error) { return c.loadGlobal(ctx, modelName) })
}

// calibratedKey scopes a calibrated run to the model it was requested under.
func calibratedKey(modelName, runName string) string {
	return modelName + "@" + runName
}

// lookup 返回已加载的模型；未加载但已注册时加载一次。
func (c *Cache) lookup(ctx context.Context, key string, registered func() bool, load func(context.Context) (*Model, error)) (*Model, error) {
	if m, ok := c.loaded.Get(key); ok {
		return m, nil
	}
	known, err := c.isKnown(ctx, registered)
	if err != nil {
		return nil, err
	}
	if !known {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, key)
	}

	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	if m, ok := c.loaded.Peek(key); ok {
		return m, nil
	}
	m, err := load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load model '%s': %w", key, err)
	}
	c.loaded.Put(key, m)
	c.logger.WithPayload(map[string]interface{}{"tags": m.Tags()}).Info(fmt.Sprintf("Loaded model '%s'", key))
	return m, nil
}

// isKnown evaluates registered against the known set, refreshing it first when stale.
func (c *Cache) isKnown(ctx context.Context, registered func() bool) (bool, error) {
	c.knownMu.Lock()
	defer c.knownMu.Unlock()
	if c.known == nil || c.now().Sub(c.knownAt) > c.interval {
		if err := c.refreshKnownLocked(ctx); err != nil {
			if c.known == nil {
				return false, err
			}
			c.logger.WithError(models.ErrorInfo{Message: err.Error(), Type: "registry_error"}).
				Warn("Could not refresh the registered models, using the previous list")
		}
	}
	return registered(), nil
}

func (c *Cache) refreshKnownLocked(ctx context.Context) error {
	registered, err := c.source.ListModels(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]struct{}, len(registered))
	owners := make(map[string]string, len(registered)*2)
	names := make([]string, 0, len(registered))
	for _, m := range registered {
		known[m.Name] = struct{}{}
		names = append(names, m.Name)
		for _, run := range m.Stages {
			owners[run] = m.Name
		}
	}
	sort.Strings(names)
	c.known = known
	c.runOwners = owners
	c.modelNames = names
	c.knownAt = c.now()
	return nil
}

// Refresh re-reads the registered models immediately and returns their names.
func (c *Cache) Refresh(ctx context.Context) ([]string, error) {
	c.knownMu.Lock()
	defer c.knownMu.Unlock()
	if err := c.refreshKnownLocked(ctx); err != nil {
		return nil, err
	}
	return append([]string(nil), c.modelNames...), nil
}

// Loaded returns the keys of the models currently in memory.
func (c *Cache) Loaded() []string {
	return c.loaded.Keys()
}

func (c *Cache) loadGlobal(ctx context.Context, name string) (*Model, error) {
	predictors := make(map[string]Predictor, len(servedStages))
	for _, stage := range servedStages {
		p, err := c.loadStage(ctx, name, stage)
		if errors.Is(err, registry.ErrModelNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		predictors[stage] = p
	}
	if len(predictors) == 0 {
		return nil, fmt.Errorf("%w: %s has no served stages", ErrModelNotFound, name)
	}
	return NewModel(name, predictors, c.now()), nil
}

// loadCalibrated loads one run of modelName, tagged with the run name and every
// served stage. A run of another model gives ErrModelNotFound.
func (c *Cache) loadCalibrated(ctx context.Context, modelName, runName string) (*Model, error) {
	p, err := c.loadRun(ctx, modelName, runName)
	if err != nil {
		return nil, err
	}
	predictors := map[string]Predictor{runName: p}
	for _, stage := range servedStages {
		predictors[stage] = p
	}
	m := NewModel(modelName, predictors, c.now())
	m.run = runName
	return m, nil
}

func (c *Cache) loadStage(ctx context.Context, name, stage string) (Predictor, error) {
	_, p, err := c.download(func(dir string) (*models.ModelRun, string, error) {
		return c.source.LoadStageArtifact(ctx, name, stage, dir)
	})
	return p, err
}

func (c *Cache) loadRun(ctx context.Context, modelName, runName string) (Predictor, error) {
	run, p, err := c.download(func(dir string) (*models.ModelRun, string, error) {
		return c.source.LoadRunArtifact(ctx, runName, dir)
	})
	if err != nil {
		return nil, err
	}
	if run.ModelName != modelName {
		return nil, fmt.Errorf("%w: run %s is not a version of %s", ErrModelNotFound, runName, modelName)
	}
	return p, nil
}

// download 把制品下载到临时目录，解析后删除该目录。
func (c *Cache) download(fetch func(dir string) (*models.ModelRun, string, error)) (*models.ModelRun, Predictor, error) {
	dir, err := os.MkdirTemp(c.scratch, "model-")
	if err != nil {
		return nil, nil, err
	}
	defer os.RemoveAll(dir)
	run, path, err := fetch(dir)
	if err != nil {
		return nil, nil, err
	}
	p, err := LoadPredictor(run.ModelKind, path)
	if err != nil {
		return nil, nil, err
	}
	return run, p, nil
}

// maybeRefresh 在模型过期时重新加载，失败时保留旧版本。
func (c *Cache) maybeRefresh(ctx context.Context, m *Model) {
	if !m.claimRefresh(c.now(), c.interval) {
		return
	}
	if m.run != "" {
		p, err := c.loadRun(ctx, m.Name, m.run)
		if err != nil {
			c.refreshFailed(m.Name, m.run, err)
			return
		}
		for _, tag := range m.Tags() {
			m.Update(tag, p)
		}
		return
	}
	for _, tag := range m.Tags() {
		p, err := c.loadStage(ctx, m.Name, tag)
		if err != nil {
			c.refreshFailed(m.Name, tag, err)
			continue
		}
		m.Update(tag, p)
	}
}

func (c *Cache) refreshFailed(model, tag string, err error) {
	c.logger.WithError(models.ErrorInfo{Message: err.Error(), Type: "model_refresh_error"}).
		Warn(fmt.Sprintf("Could not refresh tag '%s' of model '%s'", tag, model))
}
