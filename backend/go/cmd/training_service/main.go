package main

import (
	"context"
	"log"
	"os"

	"Chimp/backend/go/internal/bootstrap"
	"Chimp/backend/go/internal/discovery/etcd"
	"Chimp/backend/go/internal/models"
	"Chimp/backend/go/internal/queue"
	"Chimp/backend/go/internal/training_service/api"
	"Chimp/backend/go/internal/training_service/service"
	chimphttp "Chimp/backend/go/pkg/http"

	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg, err := bootstrap.LoadConfig("training_service", os.Args[1:])
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	serviceLogger, shutdownTracing, err := bootstrap.InitObservability(cfg, "TrainingService")
	if err != nil {
		log.Fatalf("Failed to initialize observability: %v", err)
	}
	fatal := func(msg string, err error) {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal(msg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage backends
	datasets, artifacts, blobCheck, err := bootstrap.BlobStores(cfg)
	if err != nil {
		fatal("Failed to connect to the blob store", err)
	}
	modelRegistry, registryCheck, err := bootstrap.ModelRegistry(cfg, artifacts, serviceLogger)
	if err != nil {
		fatal("Failed to open the model registry", err)
	}
	taskStore, storeCheck, err := bootstrap.TaskStore(ctx, cfg)
	if err != nil {
		fatal("Failed to open the task status store", err)
	}
	plugins, err := bootstrap.PluginRegistry(cfg, serviceLogger)
	if err != nil {
		fatal("Failed to load work units", err)
	}

	health := map[string]api.HealthCheck{"blobs": api.HealthCheck(blobCheck)}
	if registryCheck != nil {
		health["mysql"] = api.HealthCheck(registryCheck)
	}
	if storeCheck != nil {
		health[cfg.Training.ResultBackend] = api.HealthCheck(storeCheck)
	}

	// Task queue. The memory queue runs the worker pool in this process.
	var publisher queue.Publisher
	var poolDone <-chan struct{}
	switch cfg.Training.Queue {
	case "kafka":
		kafkaClient, err := bootstrap.Kafka(cfg)
		if err != nil {
			fatal("Failed to connect to Kafka", err)
		}
		defer kafkaClient.Close()
		if controller, err := kafkaClient.GetControllerInfo(); err == nil {
			serviceLogger.Info("Connected to Kafka controller " + controller)
		}
		publisher = queue.NewTaskPublisher(kafkaClient, serviceLogger)
		health["kafka"] = kafkaClient.HealthCheck
	default:
		memQueue := queue.NewMemoryQueue(0)
		publisher = memQueue
		pool, err := bootstrap.WorkerPool(cfg, bootstrap.WorkerDeps{
			Plugins:   plugins,
			Datasets:  datasets,
			Models:    modelRegistry,
			Tasks:     taskStore,
			Consumers: memQueue.ConsumerFactory(),
		}, serviceLogger)
		if err != nil {
			fatal("Failed to create the embedded worker pool", err)
		}
		bootstrap.RunJanitor(ctx, cfg, pool, serviceLogger)
		poolDone = bootstrap.StartPool(ctx, pool, serviceLogger)
		serviceLogger.Info("Running with an in-process task queue")
	}

	var workers api.WorkerRegistry
	if len(cfg.Databases.Etcd.Endpoints) > 0 {
		sd, err := etcd.NewServiceDiscovery(&cfg.Databases.Etcd)
		if err != nil {
			fatal("Failed to connect to etcd", err)
		}
		defer sd.Close()
		workers = sd
	}

	// Setup HTTP server
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	taskService := service.NewTaskService(plugins, datasets, taskStore, publisher, serviceLogger)
	modelService := service.NewModelService(modelRegistry, serviceLogger)
	api.RegisterRoutes(router, api.NewAPI(taskService, modelService, health, workers, serviceLogger), cfg.Auth.JwtSecret)

	srv, err := chimphttp.NewServer(cfg, router, chimphttp.WithAddress(cfg.Training.ServerAddress))
	if err != nil {
		fatal("Failed to create HTTP server", err)
	}
	serviceLogger.Info("Starting HTTP server on " + srv.Addr())
	if err := srv.Run(ctx); err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Error("HTTP server stopped with an error")
	}

	cancel()
	if poolDone != nil {
		<-poolDone
	}
	if err := publisher.Close(); err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Error closing the task publisher")
	}
	bootstrap.CloseDatabases(context.Background(), serviceLogger)
	if err := shutdownTracing(context.Background()); err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Error flushing traces")
	}
	serviceLogger.Info("Server gracefully stopped")
}
