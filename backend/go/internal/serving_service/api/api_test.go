package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"Chimp/backend/go/internal/datastore"
	"Chimp/backend/go/internal/models"
	"Chimp/backend/go/internal/registry"
	"Chimp/backend/go/internal/serving_service/inference"
	"Chimp/backend/go/pkg/logger"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
	logger.SetOutput(io.Discard)
}

func newRouter(t *testing.T) (*gin.Engine, *registry.Registry) {
	t.Helper()
	blobs, err := datastore.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	reg := registry.New(registry.NewMemoryStore(), blobs)
	_, err = reg.StoreModel(context.Background(), registry.StoreModelRequest{
		ExperimentName: "exp",
		RunName:        "run1",
		Model:          []byte(`{"weights":[2],"bias":1}`),
		ModelKind:      models.ModelKindLinear,
		ModelName:      "lin",
	})
	if err != nil {
		t.Fatal(err)
	}

	log := logger.New("test", "", "")
	cache, err := inference.NewCache(reg, 4, time.Minute, t.TempDir(), log)
	if err != nil {
		t.Fatal(err)
	}
	r := gin.New()
	RegisterRoutes(r, NewAPI(cache, "lin", log), "")
	return r, reg
}

func post(r http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestInferSuccess(t *testing.T) {
	r, _ := newRouter(t)
	rec := post(r, "/model/lin/infer", `{"inputs": [[1], [3]]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["status"] != "inference from model lin success" {
		t.Errorf("status = %v", body["status"])
	}
	data, _ := body["data"].([]interface{})
	if len(data) != 2 || data[0] != 3.0 || data[1] != 7.0 {
		t.Errorf("data = %v, want [3 7]", body["data"])
	}
}

func TestInferErrors(t *testing.T) {
	r, _ := newRouter(t)
	tests := []struct {
		name string
		path string
		body string
		code int
	}{
		{"not json", "/model/lin/infer", `inputs=1`, http.StatusBadRequest},
		{"missing inputs", "/model/lin/infer", `{"data": [[1]]}`, http.StatusBadRequest},
		{"empty inputs", "/model/lin/infer", `{"inputs": []}`, http.StatusBadRequest},
		{"bad rows", "/model/lin/infer", `{"inputs": [["x"]]}`, http.StatusBadRequest},
		{"unknown model", "/model/nope/infer", `{"inputs": [[1]]}`, http.StatusNotFound},
		{"unknown stage", "/model/lin/infer?stage=staging", `{"inputs": [[1]]}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(r, tt.path, tt.body)
			if rec.Code != tt.code {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.code, rec.Body.String())
			}
			body := decode(t, rec)
			if body["status-code"] != float64(tt.code) || body["error"] != http.StatusText(tt.code) {
				t.Errorf("error body = %v", body)
			}
		})
	}
}

func TestInvocationsUsesLegacyModel(t *testing.T) {
	r, _ := newRouter(t)
	rec := post(r, "/invocations", `{"inputs": [[0]]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if body := decode(t, rec); body["status"] != "inference from model lin success" {
		t.Errorf("status = %v", body["status"])
	}
}

func TestRefreshFindsNewModels(t *testing.T) {
	r, reg := newRouter(t)
	if rec := post(r, "/model/late/infer", `{"inputs": [[1]]}`); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d before registration", rec.Code)
	}
	_, err := reg.StoreModel(context.Background(), registry.StoreModelRequest{
		ExperimentName: "exp",
		RunName:        "run2",
		Model:          []byte(`{"weights":[1],"bias":0}`),
		ModelKind:      models.ModelKindLinear,
		ModelName:      "late",
	})
	if err != nil {
		t.Fatal(err)
	}

	rec := post(r, "/models/refresh", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status = %d", rec.Code)
	}
	names, _ := decode(t, rec)["models"].([]interface{})
	if len(names) != 2 {
		t.Errorf("models = %v", names)
	}
	if rec := post(r, "/model/late/infer", `{"inputs": [[1]]}`); rec.Code != http.StatusOK {
		t.Errorf("status = %d after refresh, body %s", rec.Code, rec.Body.String())
	}
}

func TestInferWithRefreshQuery(t *testing.T) {
	r, reg := newRouter(t)
	if rec := post(r, "/model/lin/infer", `{"inputs": [[1]]}`); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	_, err := reg.StoreModel(context.Background(), registry.StoreModelRequest{
		ExperimentName: "exp",
		RunName:        "run3",
		Model:          []byte(`{"weights":[3],"bias":0}`),
		ModelKind:      models.ModelKindLinear,
		ModelName:      "fresh",
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec := post(r, "/model/fresh/infer?refresh=true", `{"inputs": [[2]]}`); rec.Code != http.StatusOK {
		t.Fatalf("status = %d with refresh=true, body %s", rec.Code, rec.Body.String())
	}
}

func TestPing(t *testing.T) {
	r, _ := newRouter(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "pong" {
		t.Errorf("ping = %d %q", rec.Code, rec.Body.String())
	}
}
