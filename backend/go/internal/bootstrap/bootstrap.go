// Package bootstrap 根据配置装配各个服务共用的组件：配置、日志、追踪、
// 数据集与制品存储、模型注册表、任务状态存储、工作单元注册表和 worker 池。
package bootstrap

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"Chimp/backend/go/internal/config"
	kafkadb "Chimp/backend/go/internal/database/kafka"
	miniodb "Chimp/backend/go/internal/database/minio"
	mongodb "Chimp/backend/go/internal/database/mongo"
	mysqldb "Chimp/backend/go/internal/database/mysql"
	redisdb "Chimp/backend/go/internal/database/redis"
	"Chimp/backend/go/internal/datastore"
	"Chimp/backend/go/internal/discovery/etcd"
	"Chimp/backend/go/internal/models"
	"Chimp/backend/go/internal/plugin"
	"Chimp/backend/go/internal/plugins"
	"Chimp/backend/go/internal/queue"
	"Chimp/backend/go/internal/registry"
	"Chimp/backend/go/internal/training_service/store"
	"Chimp/backend/go/internal/worker"
	"Chimp/backend/go/pkg/logger"
	"Chimp/backend/go/pkg/tracing"
)

// DefaultConfigPath 是未指定 -config 且未设置 CHIMP_CONFIG 时使用的配置文件。
const DefaultConfigPath = "backend/go/internal/config/config.yaml"

// runsDirName 是 tempRoot 下存放所有 worker 运行目录的子目录。
const runsDirName = "chimp-runs"

// Check 探测一个外部依赖是否可用。
type Check func(ctx context.Context) error

// LoadConfig 从 -config 参数或 CHIMP_CONFIG 环境变量指定的文件加载配置。
func LoadConfig(name string, args []string) (*config.AppConfig, error) {
	def := os.Getenv("CHIMP_CONFIG")
	if def == "" {
		def = DefaultConfigPath
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	path := fs.String("config", def, "path to the YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return config.LoadConfig(*path)
}

// InitObservability 初始化全局日志和链路追踪，返回服务日志器和追踪关闭函数。
func InitObservability(cfg *config.AppConfig, service string) (*logger.Logger, func(context.Context) error, error) {
	logger.Init(cfg.Logger.Level)
	shutdown, err := tracing.Init(cfg.Tracing, service)
	if err != nil {
		return nil, nil, fmt.Errorf("init tracing: %w", err)
	}
	return logger.New(service, "", ""), shutdown, nil
}

// BlobStores 返回数据集存储、模型制品存储及其健康检查。
func BlobStores(cfg *config.AppConfig) (datasets, artifacts datastore.BlobStore, check Check, err error) {
	switch cfg.Training.BlobBackend {
	case "minio":
		client, err := miniodb.GetClient(&cfg.Databases.MinIO)
		if err != nil {
			return nil, nil, nil, err
		}
		datasets = datastore.NewMinioStore(client, cfg.Databases.MinIO.Bucket)
		artifacts = datastore.NewMinioStore(client, cfg.Databases.MinIO.ArtifactBucket)
		return datasets, artifacts, miniodb.HealthCheck, nil
	default:
		ds, err := datastore.NewLocalStore(cfg.Training.DataDirectory)
		if err != nil {
			return nil, nil, nil, err
		}
		as, err := datastore.NewLocalStore(cfg.Training.ModelDirectory)
		if err != nil {
			return nil, nil, nil, err
		}
		return ds, as, ds.HealthCheck, nil
	}
}

// ModelRegistry 在配置了 MySQL 时使用 GORM 元数据存储，否则使用进程内存储。
func ModelRegistry(cfg *config.AppConfig, artifacts datastore.BlobStore, log *logger.Logger) (*registry.Registry, Check, error) {
	if cfg.Databases.MySQL.Address == "" {
		log.Warn("No MySQL address configured, model metadata is kept in memory")
		return registry.New(registry.NewMemoryStore(), artifacts), nil, nil
	}
	db, err := mysqldb.GetDB(&cfg.Databases.MySQL)
	if err != nil {
		return nil, nil, err
	}
	meta, err := registry.NewGormStore(db)
	if err != nil {
		return nil, nil, err
	}
	return registry.New(meta, artifacts), mysqldb.HealthCheck, nil
}

// TaskStore 按 training.resultBackend 创建任务状态存储。
func TaskStore(ctx context.Context, cfg *config.AppConfig) (store.TaskStatusStore, Check, error) {
	switch cfg.Training.ResultBackend {
	case "mongo":
		coll, err := mongodb.Collection(&cfg.Databases.MongoDB)
		if err != nil {
			return nil, nil, err
		}
		s := store.NewMongoTaskStore(coll)
		if err := s.EnsureIndexes(ctx); err != nil {
			return nil, nil, fmt.Errorf("create task indexes: %w", err)
		}
		return s, mongodb.HealthCheck, nil
	case "redis":
		client, err := redisdb.GetClient(&cfg.Databases.Redis)
		if err != nil {
			return nil, nil, err
		}
		return store.NewRedisTaskStore(client, cfg.Databases.Redis.KeyPrefix), redisdb.HealthCheck, nil
	default:
		return store.NewMemoryTaskStore(), nil, nil
	}
}

// PluginRegistry 创建并加载工作单元注册表。
func PluginRegistry(cfg *config.AppConfig, log *logger.Logger) (*plugin.Registry, error) {
	r, err := plugin.NewRegistry(plugins.Factories(), cfg.Training.Plugins.Enabled, log)
	if err != nil {
		return nil, err
	}
	r.LoadAll()
	return r, nil
}

// Kafka 返回共享的 Kafka 客户端。
func Kafka(cfg *config.AppConfig) (*kafkadb.KafkaClient, error) {
	return kafkadb.GetClient(&cfg.Databases.Kafka)
}

// WorkerID 返回配置的 worker 标识，未配置时使用主机名和进程号。
func WorkerID(cfg *config.AppConfig) string {
	if cfg.Training.Worker.ID != "" {
		return cfg.Training.Worker.ID
	}
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// WorkerDeps 是 worker 池需要的依赖。
type WorkerDeps struct {
	Plugins   *plugin.Registry
	Datasets  datastore.BlobStore
	Models    registry.ModelRegistry
	Tasks     store.TaskStatusStore
	Consumers queue.ConsumerFactory
	Events    worker.EventPublisher // 可以为 nil
}

// WorkerPool 创建 worker 池。运行目录位于 <tempRoot>/chimp-runs/<workerID>，每个进程独占一个。
func WorkerPool(cfg *config.AppConfig, deps WorkerDeps, log *logger.Logger) (*worker.Pool, error) {
	wc := cfg.Training.Worker
	id := WorkerID(cfg)
	scope := worker.ScopeDir(filepath.Join(wc.TempRoot, runsDirName), id)
	if err := os.MkdirAll(scope, 0o755); err != nil {
		return nil, fmt.Errorf("create temp root: %w", err)
	}
	if err := worker.TouchHeartbeat(scope, time.Now()); err != nil {
		return nil, fmt.Errorf("create worker heartbeat: %w", err)
	}
	executor := worker.NewExecutor(deps.Plugins, deps.Datasets, deps.Models, scope, wc.RetryDuration(), log)
	var opts []worker.PoolOption
	if deps.Events != nil {
		opts = append(opts, worker.WithEvents(deps.Events))
	}
	return worker.NewPool(id, wc.Concurrency, deps.Consumers, executor, deps.Tasks, log, opts...), nil
}

// RunJanitor 在后台定期清理 pool 的过期运行目录和已失联 worker 的目录。
func RunJanitor(ctx context.Context, cfg *config.AppConfig, pool *worker.Pool, log *logger.Logger) {
	wc := cfg.Training.Worker
	interval := wc.StaleDuration() / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	go pool.Executor().RunJanitor(ctx, wc.StaleDuration(), interval, log)
}

// Runner 是可以在后台运行直到 ctx 结束的组件，例如 worker 池。
type Runner interface {
	Run(ctx context.Context) error
}

// StartPool 在后台运行 r，返回的通道在 Run 返回后关闭。
// 关闭 r 依赖的发布器和数据库之前应先等待该通道。
func StartPool(ctx context.Context, r Runner, log *logger.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := r.Run(ctx); err != nil {
			log.WithError(models.ErrorInfo{Message: err.Error()}).Error("Embedded worker pool stopped")
		}
	}()
	return done
}

// RegisterWorker 在 etcd 中登记 worker，未配置 etcd 时返回空操作。
func RegisterWorker(ctx context.Context, cfg *config.AppConfig, concurrency int, workUnits []string, log *logger.Logger) (func(), error) {
	if len(cfg.Databases.Etcd.Endpoints) == 0 {
		return func() {}, nil
	}
	sd, err := etcd.NewServiceDiscovery(&cfg.Databases.Etcd)
	if err != nil {
		return nil, err
	}
	stop, err := sd.Register(ctx, etcd.WorkerInfo{
		ID:          WorkerID(cfg),
		Concurrency: concurrency,
		WorkUnits:   workUnits,
		StartedAt:   time.Now().UTC(),
	}, cfg.Databases.Etcd.TTL)
	if err != nil {
		sd.Close()
		return nil, err
	}
	log.Info("Registered worker in etcd")
	return func() {
		stop()
		sd.Close()
	}, nil
}

// CloseDatabases 断开 MySQL、MongoDB 和 Redis 单例连接。未初始化的连接会被忽略。
func CloseDatabases(ctx context.Context, log *logger.Logger) {
	closers := map[string]func() error{
		"mysql": mysqldb.Close,
		"mongo": func() error { return mongodb.Close(ctx) },
		"redis": redisdb.Close,
	}
	for name, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.WithPayload(map[string]interface{}{"database": name}).
				WithError(models.ErrorInfo{Message: err.Error()}).
				Warn("Error closing database connection")
		}
	}
}
