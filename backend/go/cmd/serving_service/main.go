package main

import (
	"context"
	"log"
	"os"

	"Chimp/backend/go/internal/bootstrap"
	"Chimp/backend/go/internal/models"
	"Chimp/backend/go/internal/serving_service/api"
	"Chimp/backend/go/internal/serving_service/inference"
	chimphttp "Chimp/backend/go/pkg/http"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg, err := bootstrap.LoadConfig("serving_service", os.Args[1:])
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	serviceLogger, shutdownTracing, err := bootstrap.InitObservability(cfg, "ServingService")
	if err != nil {
		log.Fatalf("Failed to initialize observability: %v", err)
	}
	fatal := func(msg string, err error) {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal(msg)
	}

	_, artifacts, _, err := bootstrap.BlobStores(cfg)
	if err != nil {
		fatal("Failed to connect to the blob store", err)
	}
	modelRegistry, _, err := bootstrap.ModelRegistry(cfg, artifacts, serviceLogger)
	if err != nil {
		fatal("Failed to open the model registry", err)
	}
	if err := os.MkdirAll(cfg.Serving.ScratchDirectory, 0o755); err != nil {
		fatal("Failed to create the scratch directory", err)
	}
	cache, err := inference.NewCache(modelRegistry, cfg.Serving.CacheCapacity, cfg.Serving.UpdateInterval(), cfg.Serving.ScratchDirectory, serviceLogger)
	if err != nil {
		fatal("Failed to create the inference cache", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	api.RegisterRoutes(router, api.NewAPI(cache, cfg.Serving.LegacyModelName, serviceLogger), cfg.Auth.JwtSecret)

	srv, err := chimphttp.NewServer(cfg, router, chimphttp.WithAddress(cfg.Serving.ServerAddress))
	if err != nil {
		fatal("Failed to create HTTP server", err)
	}
	serviceLogger.Info("Starting HTTP server on " + srv.Addr())
	if err := srv.Run(context.Background()); err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Error("HTTP server stopped with an error")
	}
	bootstrap.CloseDatabases(context.Background(), serviceLogger)
	if err := shutdownTracing(context.Background()); err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Error flushing traces")
	}
	serviceLogger.Info("Server gracefully stopped")
}
