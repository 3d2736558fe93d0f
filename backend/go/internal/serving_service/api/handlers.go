package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"Chimp/backend/go/internal/models"
	"Chimp/backend/go/internal/serving_service/inference"
	"Chimp/backend/go/pkg/httpmiddleware"
	"Chimp/backend/go/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Inferer runs predictions against registered models.
type Inferer interface {
	Infer(ctx context.Context, modelName string, inputs interface{}, stage, modelID string) (interface{}, error)
	Refresh(ctx context.Context) ([]string, error)
	Loaded() []string
}

// InferRequest is the JSON body of an inference call.
type InferRequest struct {
	Inputs interface{} `json:"inputs"`
}

// API provides handlers for the serving service.
type API struct {
	models      Inferer
	legacyModel string
	logger      *logger.Logger
}

// NewAPI creates a new API handler. legacyModel is served on /invocations.
func NewAPI(inferer Inferer, legacyModel string, logger *logger.Logger) *API {
	return &API{models: inferer, legacyModel: legacyModel, logger: logger}
}

func (a *API) fail(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, httpmiddleware.NewErrorBody(code, message))
}

// PingHandler answers liveness probes.
func (a *API) PingHandler(c *gin.Context) {
	c.String(http.StatusOK, "pong")
}

// InferHandler handles POST /model/:name/infer.
func (a *API) InferHandler(c *gin.Context) {
	a.infer(c, c.Param("name"))
}

// InvocationsHandler serves the legacy model. Deprecated in favour of /model/:name/infer.
func (a *API) InvocationsHandler(c *gin.Context) {
	a.logger.Warn("Calling the /invocations endpoint is deprecated, use the /model/<model_name>/infer endpoint instead")
	a.infer(c, a.legacyModel)
}

func (a *API) infer(c *gin.Context, modelName string) {
	var req InferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.fail(c, http.StatusBadRequest, "The request data must be a json object.")
		return
	}
	if empty(req.Inputs) {
		a.fail(c, http.StatusBadRequest, "The json requests must contain an 'inputs' field with an array of input data.")
		return
	}

	if c.Query("refresh") == "true" {
		if _, err := a.models.Refresh(c.Request.Context()); err != nil {
			a.logger.WithError(models.ErrorInfo{Message: err.Error(), Type: "infrastructure_error"}).Warn("Forced model refresh failed")
		}
	}
	stage := c.DefaultQuery("stage", models.StageProduction)
	prediction, err := a.models.Infer(c.Request.Context(), modelName, req.Inputs, stage, c.Query("id"))
	if err != nil {
		a.failFromError(c, modelName, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": fmt.Sprintf("inference from model %s success", modelName),
		"data":   prediction,
	})
}

func empty(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return true
	case []interface{}:
		return len(x) == 0
	case string:
		return x == ""
	case map[string]interface{}:
		return len(x) == 0
	}
	return false
}

func (a *API) failFromError(c *gin.Context, modelName string, err error) {
	var invalid *inference.InvalidDataFormatError
	switch {
	case errors.As(err, &invalid):
		a.fail(c, http.StatusBadRequest, invalid.Error())
	case errors.Is(err, inference.ErrModelNotFound):
		a.fail(c, http.StatusNotFound, fmt.Sprintf("Model %s not found", modelName))
	case errors.Is(err, inference.ErrInvalidModelIDOrStage):
		a.fail(c, http.StatusNotFound, err.Error())
	default:
		a.logger.WithError(models.ErrorInfo{Message: err.Error(), Type: "inference_error", StatusCode: http.StatusInternalServerError}).
			Error(fmt.Sprintf("Inference from model '%s' failed", modelName))
		a.fail(c, http.StatusInternalServerError, "")
	}
}

// RefreshHandler handles POST /models/refresh.
func (a *API) RefreshHandler(c *gin.Context) {
	names, err := a.models.Refresh(c.Request.Context())
	if err != nil {
		a.logger.WithError(models.ErrorInfo{Message: err.Error(), Type: "registry_error"}).Error("Model refresh failed")
		a.fail(c, http.StatusServiceUnavailable, "could not read the model registry")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "successfully refreshed models",
		"models": names,
		"loaded": a.models.Loaded(),
	})
}
