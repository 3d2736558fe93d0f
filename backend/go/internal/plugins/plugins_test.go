package plugins

import (
	"context"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"Chimp/backend/go/internal/datastore"
	"Chimp/backend/go/internal/models"
	"Chimp/backend/go/internal/plugin"
	"Chimp/backend/go/internal/registry"
	"Chimp/backend/go/pkg/logger"
)

func init() {
	logger.SetOutput(io.Discard)
}

func newContext(t *testing.T, datasets map[string]string) (*plugin.ExecutionContext, *registry.Registry) {
	ec, reg, _ := newContextWithMeta(t, datasets)
	return ec, reg
}

func newContextWithMeta(t *testing.T, datasets map[string]string) (*plugin.ExecutionContext, *registry.Registry, *registry.MemoryStore) {
	t.Helper()
	blobs, err := datastore.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	meta := registry.NewMemoryStore()
	reg := registry.New(meta, blobs)
	return &plugin.ExecutionContext{
		RunName:  "20240101T000000.000000_test_0badc0de",
		WorkDir:  t.TempDir(),
		Datasets: datasets,
		Models:   reg,
		Blobs:    blobs,
		Logger:   logger.New("test", "", ""),
	}, reg, meta
}

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestCatalogLoads(t *testing.T) {
	r, err := plugin.NewRegistry(Factories(), []string{"*"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n := r.LoadAll(); n != 3 {
		t.Fatalf("loaded %d work units, want 3", n)
	}
	e, ok := r.Get("Example 2 Plugin")
	if !ok {
		t.Fatalf("Example 2 Plugin not registered")
	}
	if got := e.Descriptor.RequiredDatasets(); len(got) != 1 || got[0] != "dataset" {
		t.Errorf("required datasets = %v", got)
	}
}

func TestExample2CountsFiles(t *testing.T) {
	ds := writeFiles(t, map[string]string{"a.txt": "1", "sub/b.txt": "2"})
	opt := writeFiles(t, map[string]string{"c.txt": "3"})
	ec, reg, meta := newContextWithMeta(t, map[string]string{"dataset": ds, "optional_ds": opt})

	unit, _ := NewExample2()
	out, err := unit.Execute(context.Background(), ec, map[string]string{"start_value": "10"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out != ec.RunName {
		t.Errorf("result = %v, want the run name", out)
	}
	run, err := meta.FindRun(context.Background(), ec.RunName)
	if err != nil {
		t.Fatalf("run not stored: %v", err)
	}
	if total, _ := run.Metrics["total"].(float64); total != 13 {
		t.Errorf("total = %v, want 13", run.Metrics["total"])
	}
	registered, err := reg.ListModels(context.Background())
	if err != nil || len(registered) != 0 {
		t.Errorf("Example 2 should not register a model: %v %v", registered, err)
	}
}

func TestExample2RejectsNonIntegerStart(t *testing.T) {
	ds := writeFiles(t, map[string]string{"a.txt": "1"})
	ec, _ := newContext(t, map[string]string{"dataset": ds})
	unit, _ := NewExample2()
	if _, err := unit.Execute(context.Background(), ec, map[string]string{"start_value": "ten"}); err == nil {
		t.Errorf("expected an error for a non-integer start_value")
	}
}

func TestLinearRegressionFitsAndRegisters(t *testing.T) {
	ds := writeFiles(t, map[string]string{
		"part1.csv": "x1,x2,y\n0,0,1\n1,0,3\n",
		"part2.csv": "0,1,4\n1,1,6\n2,3,14\n",
	})
	ec, reg := newContext(t, map[string]string{"dataset": ds})

	unit, _ := NewLinearRegression()
	out, err := unit.Execute(context.Background(), ec, map[string]string{"model_name": "lin"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out != ec.RunName {
		t.Errorf("result = %v, want the run name", out)
	}

	run, dir, err := reg.LoadStageArtifact(context.Background(), "lin", models.StageProduction, t.TempDir())
	if err != nil {
		t.Fatalf("model not registered as production: %v", err)
	}
	if run.ModelKind != models.ModelKindLinear {
		t.Errorf("model kind = %s", run.ModelKind)
	}
	data, err := os.ReadFile(filepath.Join(dir, "model.json"))
	if err != nil {
		t.Fatalf("model file missing: %v", err)
	}
	m, err := models.ParseLinearModel(data)
	if err != nil {
		t.Fatal(err)
	}
	// y = 2*x1 + 3*x2 + 1
	want := []float64{2, 3}
	for i, w := range want {
		if math.Abs(m.Weights[i]-w) > 1e-9 {
			t.Errorf("weight %d = %f, want %f", i, m.Weights[i], w)
		}
	}
	if math.Abs(m.Bias-1) > 1e-9 {
		t.Errorf("bias = %f, want 1", m.Bias)
	}
}

func TestLinearRegressionRejectsBadData(t *testing.T) {
	cases := map[string]map[string]string{
		"no csv":       {"readme.txt": "hi"},
		"ragged":       {"d.csv": "1,2\n1,2,3\n"},
		"too few rows": {"d.csv": "1,2\n"},
		"non numeric":  {"d.csv": "1,2\n3,abc\n"},
		"collinear":    {"d.csv": "1,2,3\n2,4,5\n3,6,7\n"},
	}
	for name, files := range cases {
		t.Run(name, func(t *testing.T) {
			ec, _ := newContext(t, map[string]string{"dataset": writeFiles(t, files)})
			unit, _ := NewLinearRegression()
			if _, err := unit.Execute(context.Background(), ec, nil); err == nil {
				t.Errorf("expected an error")
			}
		})
	}
}
