package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"Chimp/backend/go/internal/datastore"
	"Chimp/backend/go/internal/models"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func newTestRegistry(t *testing.T, meta MetaStore) (*Registry, *datastore.LocalStore) {
	t.Helper()
	blobs, err := datastore.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	return New(meta, blobs), blobs
}

func storeLinear(t *testing.T, r *Registry, model, run string) {
	t.Helper()
	_, err := r.StoreModel(context.Background(), StoreModelRequest{
		ExperimentName: "exp",
		RunName:        run,
		Model:          []byte(`{"weights":[1],"bias":0}`),
		ModelKind:      models.ModelKindLinear,
		ModelName:      model,
		Metrics:        map[string]float64{"mse": 0.5},
	})
	if err != nil {
		t.Fatalf("StoreModel(%s) failed: %v", run, err)
	}
}

func TestStoreModelPromotesFirstVersion(t *testing.T) {
	r, _ := newTestRegistry(t, NewMemoryStore())
	ctx := context.Background()

	storeLinear(t, r, "lin", "run1")
	storeLinear(t, r, "lin", "run2")

	list, err := r.ListModels(ctx)
	if err != nil {
		t.Fatalf("ListModels failed: %v", err)
	}
	if len(list) != 1 || list[0].Name != "lin" {
		t.Fatalf("ListModels = %+v", list)
	}
	if got := list[0].Stages[models.StageProduction]; got != "run1" {
		t.Errorf("production = %s, want run1", got)
	}
	if got := list[0].Stages[models.StageStaging]; got != "run2" {
		t.Errorf("staging = %s, want run2", got)
	}
}

func TestStoreModelRejectsDuplicateRun(t *testing.T) {
	r, _ := newTestRegistry(t, NewMemoryStore())
	storeLinear(t, r, "lin", "run1")
	_, err := r.StoreModel(context.Background(), StoreModelRequest{ExperimentName: "exp", RunName: "run1"})
	if !errors.Is(err, ErrRunExists) {
		t.Errorf("error = %v, want ErrRunExists", err)
	}
}

func TestStoreModelWithoutModelDoesNotRegister(t *testing.T) {
	r, blobs := newTestRegistry(t, NewMemoryStore())
	ctx := context.Background()
	src := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(src, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	run, err := r.StoreModel(ctx, StoreModelRequest{
		ExperimentName: "exp",
		ModelKind:      models.ModelKindOther,
		Artifacts:      map[string]string{"notes": src},
	})
	if err != nil {
		t.Fatalf("StoreModel failed: %v", err)
	}
	if run == "" {
		t.Fatalf("expected a generated run name")
	}
	data, err := blobs.LoadObjectToMemory(ctx, "exp/"+run+"/notes/notes.txt")
	if err != nil || string(data) != "hello" {
		t.Errorf("artifact not stored: %q, %v", data, err)
	}
	list, _ := r.ListModels(ctx)
	if len(list) != 0 {
		t.Errorf("a run without a model was registered: %+v", list)
	}
}

func TestGetArtifact(t *testing.T) {
	r, _ := newTestRegistry(t, NewMemoryStore())
	ctx := context.Background()

	if _, err := r.GetArtifact(ctx, t.TempDir(), "lin", "exp", "", ""); !errors.Is(err, ErrModelNotFound) {
		t.Errorf("unregistered model error = %v, want ErrModelNotFound", err)
	}

	storeLinear(t, r, "lin", "run1")
	dir := t.TempDir()
	p, err := r.GetArtifact(ctx, dir, "lin", "exp", "", "")
	if err != nil {
		t.Fatalf("GetArtifact failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(p, "model.json")); err != nil {
		t.Errorf("model file not downloaded: %v", err)
	}

	if _, err := r.GetArtifact(ctx, dir, "lin", "exp", "missing", ""); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("missing run error = %v, want ErrRunNotFound", err)
	}
	if _, err := r.GetArtifact(ctx, dir, "lin", "other-exp", "run1", ""); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("run in a different experiment error = %v, want ErrRunNotFound", err)
	}
}

func TestLoadStageArtifactAndTransition(t *testing.T) {
	r, _ := newTestRegistry(t, NewMemoryStore())
	ctx := context.Background()
	storeLinear(t, r, "lin", "run1")
	storeLinear(t, r, "lin", "run2")

	run, p, err := r.LoadStageArtifact(ctx, "lin", models.StageStaging, t.TempDir())
	if err != nil {
		t.Fatalf("LoadStageArtifact failed: %v", err)
	}
	if run.RunName != "run2" || run.ModelKind != models.ModelKindLinear {
		t.Errorf("unexpected run %+v", run)
	}
	if filepath.Base(p) != "run2" {
		t.Errorf("artifact dir = %s", p)
	}

	if err := r.TransitionStage(ctx, "lin", models.StageProduction, "run2"); err != nil {
		t.Fatalf("TransitionStage failed: %v", err)
	}
	run, _, err = r.LoadStageArtifact(ctx, "lin", models.StageProduction, t.TempDir())
	if err != nil || run.RunName != "run2" {
		t.Errorf("production after transition = %v, %v", run, err)
	}

	if err := r.TransitionStage(ctx, "lin", "archived", "run2"); err == nil {
		t.Errorf("expected an error for an unknown stage")
	}
	if err := r.TransitionStage(ctx, "other", models.StageProduction, "run2"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("foreign run error = %v, want ErrRunNotFound", err)
	}
	if _, _, err := r.LoadStageArtifact(ctx, "nope", models.StageProduction, t.TempDir()); !errors.Is(err, ErrModelNotFound) {
		t.Errorf("unknown model error = %v, want ErrModelNotFound", err)
	}
}

// TestGormStore 需要一个可写的 MySQL 数据库，例如
// CHIMP_TEST_MYSQL_DSN="root:pw@tcp(localhost:3306)/chimp_test?parseTime=True"
func TestGormStore(t *testing.T) {
	dsn := os.Getenv("CHIMP_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("CHIMP_TEST_MYSQL_DSN not set")
	}
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open mysql: %v", err)
	}
	db.Exec("DELETE FROM model_stages")
	db.Exec("DELETE FROM model_runs")
	meta, err := NewGormStore(db)
	if err != nil {
		t.Fatalf("NewGormStore failed: %v", err)
	}
	r, _ := newTestRegistry(t, meta)
	storeLinear(t, r, "gorm-lin", "gorm-run1")
	storeLinear(t, r, "gorm-lin", "gorm-run2")

	st, err := meta.FindStage(context.Background(), "gorm-lin", models.StageProduction)
	if err != nil || st.RunName != "gorm-run1" {
		t.Errorf("production = %v, %v", st, err)
	}
	st, err = meta.FindStage(context.Background(), "gorm-lin", models.StageStaging)
	if err != nil || st.RunName != "gorm-run2" {
		t.Errorf("staging = %v, %v", st, err)
	}
}
