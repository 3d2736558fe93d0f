package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"Chimp/backend/go/internal/bootstrap"
	kafkadb "Chimp/backend/go/internal/database/kafka"
	"Chimp/backend/go/internal/models"
	"Chimp/backend/go/internal/queue"
)

func main() {
	cfg, err := bootstrap.LoadConfig("training_worker", os.Args[1:])
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Training.Queue != "kafka" {
		log.Fatalf("training_worker needs training.queue=kafka, got %q; the memory queue runs inside training_service", cfg.Training.Queue)
	}

	workerLogger, shutdownTracing, err := bootstrap.InitObservability(cfg, "TrainingWorker")
	if err != nil {
		log.Fatalf("Failed to initialize observability: %v", err)
	}
	fatal := func(msg string, err error) {
		workerLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal(msg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	datasets, artifacts, _, err := bootstrap.BlobStores(cfg)
	if err != nil {
		fatal("Failed to connect to the blob store", err)
	}
	modelRegistry, _, err := bootstrap.ModelRegistry(cfg, artifacts, workerLogger)
	if err != nil {
		fatal("Failed to open the model registry", err)
	}
	taskStore, _, err := bootstrap.TaskStore(ctx, cfg)
	if err != nil {
		fatal("Failed to open the task status store", err)
	}
	plugins, err := bootstrap.PluginRegistry(cfg, workerLogger)
	if err != nil {
		fatal("Failed to load work units", err)
	}
	kafkaClient, err := bootstrap.Kafka(cfg)
	if err != nil {
		fatal("Failed to connect to Kafka", err)
	}
	events := kafkadb.NewEventPublisher(kafkaClient)

	pool, err := bootstrap.WorkerPool(cfg, bootstrap.WorkerDeps{
		Plugins:   plugins,
		Datasets:  datasets,
		Models:    modelRegistry,
		Tasks:     taskStore,
		Consumers: queue.KafkaConsumerFactory(kafkaClient, workerLogger),
		Events:    events,
	}, workerLogger)
	if err != nil {
		fatal("Failed to create the worker pool", err)
	}

	unregister, err := bootstrap.RegisterWorker(ctx, cfg, cfg.Training.Worker.Concurrency, plugins.Names(), workerLogger)
	if err != nil {
		fatal("Failed to register the worker in etcd", err)
	}

	bootstrap.RunJanitor(ctx, cfg, pool, workerLogger)
	if err := pool.Run(ctx); err != nil {
		workerLogger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Worker pool stopped with an error")
	}

	unregister()
	if err := events.Close(); err != nil {
		workerLogger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Error closing the event publisher")
	}
	if err := kafkaClient.Close(); err != nil {
		workerLogger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Error closing the Kafka client")
	}
	bootstrap.CloseDatabases(context.Background(), workerLogger)
	if err := shutdownTracing(context.Background()); err != nil {
		workerLogger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Error flushing traces")
	}
	workerLogger.Info("Worker stopped")
}
