package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"Chimp/backend/go/internal/datastore"
	"Chimp/backend/go/internal/discovery/etcd"
	"Chimp/backend/go/internal/models"
	"Chimp/backend/go/internal/plugin"
	"Chimp/backend/go/internal/registry"
	"Chimp/backend/go/internal/training_service/service"
	"Chimp/backend/go/internal/training_service/store"
	"Chimp/backend/go/pkg/httpmiddleware"
	"Chimp/backend/go/pkg/logger"

	"github.com/gin-gonic/gin"
)

const maxUploadMemory = 32 << 20

// HealthCheck probes one backing service.
type HealthCheck func(ctx context.Context) error

// WorkerRegistry lists live training workers.
type WorkerRegistry interface {
	Workers(ctx context.Context) ([]etcd.WorkerInfo, error)
}

// API provides handlers for the training service.
type API struct {
	tasks   *service.TaskService
	models  *service.ModelService
	health  map[string]HealthCheck
	workers WorkerRegistry
	logger  *logger.Logger
}

// NewAPI creates a new API handler. workers may be nil.
func NewAPI(tasks *service.TaskService, models *service.ModelService, health map[string]HealthCheck, workers WorkerRegistry, logger *logger.Logger) *API {
	return &API{
		tasks:   tasks,
		models:  models,
		health:  health,
		workers: workers,
		logger:  logger,
	}
}

func (a *API) fail(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, httpmiddleware.NewErrorBody(code, message))
}

// failFromError maps service errors onto HTTP status codes.
func (a *API) failFromError(c *gin.Context, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		a.fail(c, http.StatusBadRequest, verr.Message)
	case errors.Is(err, plugin.ErrWorkUnitNotFound),
		errors.Is(err, store.ErrTaskNotFound),
		errors.Is(err, datastore.ErrNotFound),
		errors.Is(err, registry.ErrRunNotFound),
		errors.Is(err, registry.ErrModelNotFound):
		a.fail(c, http.StatusNotFound, err.Error())
	default:
		a.logger.WithRequest(requestInfo(c)).
			WithError(models.ErrorInfo{Message: err.Error(), Type: "infrastructure_error", StatusCode: http.StatusInternalServerError}).
			Error("Request failed")
		a.fail(c, http.StatusInternalServerError, "")
	}
}

func requestInfo(c *gin.Context) models.RequestInfo {
	return models.RequestInfo{
		Method:     c.Request.Method,
		Path:       c.Request.URL.Path,
		RemoteAddr: c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	}
}

func queryBool(c *gin.Context, key string) bool {
	v, err := strconv.ParseBool(c.Query(key))
	return err == nil && v
}

// PingHandler answers liveness probes.
func (a *API) PingHandler(c *gin.Context) {
	c.String(http.StatusOK, "pong")
}

// HealthHandler reports the state of every backing service and the number of live workers.
func (a *API) HealthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy := true
	checks := make(map[string]string, len(a.health))
	for name, check := range a.health {
		if err := check(ctx); err != nil {
			healthy = false
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}
	body := gin.H{"checks": checks}
	if a.workers != nil {
		workers, err := a.workers.Workers(ctx)
		if err != nil {
			healthy = false
			checks["etcd"] = err.Error()
		} else {
			checks["etcd"] = "ok"
			body["workers"] = len(workers)
		}
	}

	code := http.StatusOK
	body["status"] = "healthy"
	if !healthy {
		code = http.StatusServiceUnavailable
		body["status"] = "unhealthy"
	}
	c.JSON(code, body)
}

// ListPluginsHandler lists the loaded work units.
func (a *API) ListPluginsHandler(c *gin.Context) {
	reload := queryBool(c, "reload_plugins")
	plugins := a.tasks.ListPlugins(queryBool(c, "include_details"), reload)
	c.JSON(http.StatusOK, gin.H{
		"status":           "successfully retrieved plugins",
		"reloaded plugins": reload,
		"plugins":          plugins,
	})
}

// RunTaskHandler validates and dispatches a task for the named work unit.
func (a *API) RunTaskHandler(c *gin.Context) {
	name := strings.ReplaceAll(c.Param("name"), "+", " ")

	if err := c.Request.ParseMultipartForm(maxUploadMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		a.fail(c, http.StatusBadRequest, "Could not parse the request form: "+err.Error())
		return
	}
	query := c.Request.URL.Query()
	datasets := c.Request.PostForm.Get("datasets")
	if datasets == "" {
		datasets = query.Get("datasets")
	}

	taskID, err := a.tasks.StartTask(c.Request.Context(), &service.TaskRequest{
		WorkUnit: name,
		Form:     c.Request.PostForm,
		Query:    query,
		Datasets: datasets,
	})
	if err != nil {
		if errors.Is(err, plugin.ErrWorkUnitNotFound) {
			a.fail(c, http.StatusNotFound, "Plugin "+name+" not found")
			return
		}
		a.failFromError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "task started successfully, use '/tasks/poll/" + taskID + "' to poll for the current status",
		"task_id": taskID,
	})
}

// PollTaskHandler returns the current state of a task.
func (a *API) PollTaskHandler(c *gin.Context) {
	taskID := c.Param("id")
	res, err := a.tasks.GetTaskResult(c.Request.Context(), taskID)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			a.fail(c, http.StatusNotFound, "Task "+taskID+" not found")
			return
		}
		a.failFromError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ListDatasetsHandler lists the datasets on the blob store.
func (a *API) ListDatasetsHandler(c *gin.Context) {
	names, err := a.tasks.ListDatasets(c.Request.Context())
	if err != nil {
		a.failFromError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "successfully retrieved datasets", "datasets": names})
}

// DatasetFilesHandler lists the objects of one dataset.
func (a *API) DatasetFilesHandler(c *gin.Context) {
	name := c.Param("name")
	files, err := a.tasks.DatasetFiles(c.Request.Context(), name)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			a.fail(c, http.StatusNotFound, "Dataset "+name+" not found")
			return
		}
		a.failFromError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "successfully retrieved dataset", "dataset": name, "files": files})
}

// UploadDatasetHandler stores an uploaded zip archive as a new dataset.
func (a *API) UploadDatasetHandler(c *gin.Context) {
	name := c.PostForm("dataset_name")
	header, err := c.FormFile("file")
	if err != nil {
		a.fail(c, http.StatusBadRequest, "Missing required file 'file'")
		return
	}
	f, err := header.Open()
	if err != nil {
		a.failFromError(c, err)
		return
	}
	defer f.Close()

	if err := a.tasks.UploadDataset(c.Request.Context(), name, f, header.Size); err != nil {
		a.failFromError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "successfully uploaded dataset", "dataset": name})
}

// ListModelsHandler lists registered models and their stages.
func (a *API) ListModelsHandler(c *gin.Context) {
	list, err := a.models.ListModels(c.Request.Context())
	if err != nil {
		a.failFromError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "successfully retrieved models", "models": list})
}

// TransitionStageHandler points a model stage at a run.
func (a *API) TransitionStageHandler(c *gin.Context) {
	modelName := strings.ReplaceAll(c.Param("name"), "+", " ")
	stage := c.Param("stage")
	runName := c.PostForm("run_name")
	if runName == "" {
		runName = c.Query("run_name")
	}
	if err := a.models.TransitionStage(c.Request.Context(), modelName, stage, runName); err != nil {
		a.failFromError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "successfully transitioned model stage",
		"model":    modelName,
		"stage":    stage,
		"run_name": runName,
	})
}
