package inference

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"sync"
	"testing"
	"time"

	"Chimp/backend/go/internal/datastore"
	"Chimp/backend/go/internal/models"
	"Chimp/backend/go/internal/registry"
	"Chimp/backend/go/pkg/logger"
)

func init() {
	logger.SetOutput(io.Discard)
}

// countingSource 统计加载次数，并可以模拟注册表故障。
type countingSource struct {
	*registry.Registry
	mu        sync.Mutex
	loads     int
	lists     int
	failLoads bool
}

func (s *countingSource) ListModels(ctx context.Context) ([]models.RegisteredModel, error) {
	s.mu.Lock()
	s.lists++
	s.mu.Unlock()
	return s.Registry.ListModels(ctx)
}

func (s *countingSource) LoadStageArtifact(ctx context.Context, modelName, stage, saveTo string) (*models.ModelRun, string, error) {
	if err := s.count(); err != nil {
		return nil, "", err
	}
	return s.Registry.LoadStageArtifact(ctx, modelName, stage, saveTo)
}

func (s *countingSource) LoadRunArtifact(ctx context.Context, runName, saveTo string) (*models.ModelRun, string, error) {
	if err := s.count(); err != nil {
		return nil, "", err
	}
	return s.Registry.LoadRunArtifact(ctx, runName, saveTo)
}

func (s *countingSource) count() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	if s.failLoads {
		return errors.New("registry unavailable")
	}
	return nil
}

func (s *countingSource) loadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}

func newSource(t *testing.T) *countingSource {
	t.Helper()
	blobs, err := datastore.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return &countingSource{Registry: registry.New(registry.NewMemoryStore(), blobs)}
}

func storeLinear(t *testing.T, src *countingSource, model, run string, weights []float64, bias float64) {
	t.Helper()
	data, _ := json.Marshal(models.LinearModel{Weights: weights, Bias: bias})
	_, err := src.StoreModel(context.Background(), registry.StoreModelRequest{
		ExperimentName: "exp",
		RunName:        run,
		Model:          data,
		ModelKind:      models.ModelKindLinear,
		ModelName:      model,
	})
	if err != nil {
		t.Fatalf("StoreModel failed: %v", err)
	}
}

func newTestCache(t *testing.T, src *countingSource, capacity int) *Cache {
	t.Helper()
	c, err := NewCache(src, capacity, time.Minute, t.TempDir(), logger.New("test", "", ""))
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func rows(values ...[]float64) []interface{} {
	out := make([]interface{}, len(values))
	for i, row := range values {
		cells := make([]interface{}, len(row))
		for j, v := range row {
			cells[j] = v
		}
		out[i] = cells
	}
	return out
}

func infer(t *testing.T, c *Cache, model, stage, id string) []float64 {
	t.Helper()
	out, err := c.Infer(context.Background(), model, rows([]float64{1, 2}), stage, id)
	if err != nil {
		t.Fatalf("Infer(%s, %s, %s) failed: %v", model, stage, id, err)
	}
	return out.([]float64)
}

func TestInferByStage(t *testing.T) {
	src := newSource(t)
	storeLinear(t, src, "lin", "run1", []float64{1, 1}, 0)
	storeLinear(t, src, "lin", "run2", []float64{2, 2}, 1)
	c := newTestCache(t, src, 4)

	if got := infer(t, c, "lin", "", ""); !reflect.DeepEqual(got, []float64{3}) {
		t.Errorf("production prediction = %v, want [3]", got)
	}
	if got := infer(t, c, "lin", models.StageStaging, ""); !reflect.DeepEqual(got, []float64{7}) {
		t.Errorf("staging prediction = %v, want [7]", got)
	}
	if src.loadCount() != 2 {
		t.Errorf("loads = %d, want one per stage", src.loadCount())
	}

	_, err := c.Infer(context.Background(), "lin", rows([]float64{1, 2}), "archived", "")
	if !errors.Is(err, ErrInvalidModelIDOrStage) {
		t.Errorf("unknown stage error = %v", err)
	}
}

func TestInferUnknownModel(t *testing.T) {
	src := newSource(t)
	c := newTestCache(t, src, 4)
	_, err := c.Infer(context.Background(), "nope", rows([]float64{1}), "", "")
	if !errors.Is(err, ErrModelNotFound) {
		t.Errorf("error = %v, want ErrModelNotFound", err)
	}
	if src.loadCount() != 0 {
		t.Errorf("unregistered model triggered %d loads", src.loadCount())
	}
}

func TestInferInvalidData(t *testing.T) {
	src := newSource(t)
	storeLinear(t, src, "lin", "run1", []float64{1, 1}, 0)
	c := newTestCache(t, src, 4)

	for name, inputs := range map[string]interface{}{
		"not a list":    "hello",
		"flat numbers":  []interface{}{1.0, 2.0},
		"wrong width":   rows([]float64{1, 2, 3}),
		"string values": []interface{}{[]interface{}{"a", "b"}},
	} {
		_, err := c.Infer(context.Background(), "lin", inputs, "", "")
		var invalid *InvalidDataFormatError
		if !errors.As(err, &invalid) {
			t.Errorf("%s: error = %v, want InvalidDataFormatError", name, err)
		}
	}
}

func TestKnownModelsRefreshOnInterval(t *testing.T) {
	src := newSource(t)
	c := newTestCache(t, src, 4)
	now := time.Now()
	c.now = func() time.Time { return now }

	if _, err := c.Infer(context.Background(), "late", rows([]float64{1}), "", ""); !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("error = %v, want ErrModelNotFound", err)
	}
	storeLinear(t, src, "late", "run1", []float64{1}, 0)

	if _, err := c.Infer(context.Background(), "late", rows([]float64{1}), "", ""); !errors.Is(err, ErrModelNotFound) {
		t.Errorf("known set re-read before the interval elapsed: %v", err)
	}
	if src.lists != 1 {
		t.Errorf("ListModels called %d times, want 1", src.lists)
	}

	names, err := c.Refresh(context.Background())
	if err != nil || !reflect.DeepEqual(names, []string{"late"}) {
		t.Fatalf("Refresh = %v, %v", names, err)
	}
	if _, err := c.Infer(context.Background(), "late", rows([]float64{1}), "", ""); err != nil {
		t.Errorf("Infer after refresh failed: %v", err)
	}
}

func TestStaleModelIsReloaded(t *testing.T) {
	src := newSource(t)
	storeLinear(t, src, "lin", "run1", []float64{1, 1}, 0)
	storeLinear(t, src, "lin", "run2", []float64{2, 2}, 0)
	c := newTestCache(t, src, 4)
	now := time.Now()
	c.now = func() time.Time { return now }

	infer(t, c, "lin", "", "")
	if err := src.TransitionStage(context.Background(), "lin", models.StageProduction, "run2"); err != nil {
		t.Fatal(err)
	}
	if got := infer(t, c, "lin", "", ""); !reflect.DeepEqual(got, []float64{3}) {
		t.Errorf("fresh model reloaded early: %v", got)
	}

	now = now.Add(2 * time.Minute)
	if got := infer(t, c, "lin", "", ""); !reflect.DeepEqual(got, []float64{6}) {
		t.Errorf("stale model not reloaded: %v", got)
	}
}

func TestFailedRefreshKeepsPreviousModel(t *testing.T) {
	src := newSource(t)
	storeLinear(t, src, "lin", "run1", []float64{1, 1}, 0)
	c := newTestCache(t, src, 4)
	now := time.Now()
	c.now = func() time.Time { return now }
	infer(t, c, "lin", "", "")

	src.failLoads = true
	now = now.Add(2 * time.Minute)
	if got := infer(t, c, "lin", "", ""); !reflect.DeepEqual(got, []float64{3}) {
		t.Errorf("prediction after failed refresh = %v, want [3]", got)
	}
}

func TestCalibratedModelID(t *testing.T) {
	src := newSource(t)
	storeLinear(t, src, "lin", "run1", []float64{1, 1}, 0)
	storeLinear(t, src, "lin", "run2", []float64{2, 2}, 0)
	c := newTestCache(t, src, 4)

	if got := infer(t, c, "lin", models.StageProduction, "run2"); !reflect.DeepEqual(got, []float64{6}) {
		t.Errorf("calibrated prediction = %v, want [6]", got)
	}
	if got := infer(t, c, "lin", models.StageProduction, "unknown-run"); !reflect.DeepEqual(got, []float64{3}) {
		t.Errorf("unknown id should fall back to the stage: %v", got)
	}
}

func TestCalibratedModelIDScopedToModel(t *testing.T) {
	src := newSource(t)
	storeLinear(t, src, "alpha", "alpha-run", []float64{1, 1}, 0)
	storeLinear(t, src, "beta", "beta-run", []float64{100, 100}, 0)
	c := newTestCache(t, src, 4)

	if got := infer(t, c, "beta", "", "beta-run"); !reflect.DeepEqual(got, []float64{300}) {
		t.Fatalf("beta calibrated prediction = %v, want [300]", got)
	}
	if got := infer(t, c, "alpha", "", "beta-run"); !reflect.DeepEqual(got, []float64{3}) {
		t.Errorf("alpha with another model's run id = %v, want alpha's production [3]", got)
	}
	if got := infer(t, c, "alpha", "", "alpha-run"); !reflect.DeepEqual(got, []float64{3}) {
		t.Errorf("alpha calibrated prediction = %v, want [3]", got)
	}

	if _, err := c.loadCalibrated(context.Background(), "alpha", "beta-run"); !errors.Is(err, ErrModelNotFound) {
		t.Errorf("loading beta's run as alpha: err = %v, want ErrModelNotFound", err)
	}
}

func TestCacheCapacity(t *testing.T) {
	src := newSource(t)
	storeLinear(t, src, "a", "run-a", []float64{1, 1}, 0)
	storeLinear(t, src, "b", "run-b", []float64{1, 1}, 0)
	c := newTestCache(t, src, 1)

	infer(t, c, "a", "", "")
	infer(t, c, "b", "", "")
	if got := c.Loaded(); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("loaded = %v, want [b]", got)
	}
	infer(t, c, "a", "", "")
	if src.loadCount() != 3 {
		t.Errorf("loads = %d, want an evicted model to load again", src.loadCount())
	}
}
