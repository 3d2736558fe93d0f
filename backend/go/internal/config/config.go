package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RedisConfig 定义了 Redis 数据库的连接配置。
type RedisConfig struct {
	Address   string `yaml:"address"`   // Redis 服务器地址 (例如: "localhost:6379")
	Password  string `yaml:"password"`  // Redis 密码
	DB        int    `yaml:"db"`        // Redis 数据库编号
	KeyPrefix string `yaml:"keyPrefix"` // 任务状态键前缀
}

// MySQLConfig 定义了 MySQL 数据库的连接配置（模型注册表元数据）。
type MySQLConfig struct {
	Address         string `yaml:"address"`         // MySQL 服务器地址
	Username        string `yaml:"username"`        // 用户名
	Password        string `yaml:"password"`        // 密码
	Database        string `yaml:"database"`        // 数据库名称
	MaxOpenConns    int    `yaml:"maxOpenConns"`    // 最大打开连接数
	MaxIdleConns    int    `yaml:"maxIdleConns"`    // 最大空闲连接数
	ConnMaxLifetime int    `yaml:"connMaxLifetime"` // 连接最大生命周期 (秒)
}

// MinIOConfig 定义了 MinIO 对象存储的连接配置。
type MinIOConfig struct {
	Endpoint       string `yaml:"endpoint"`       // MinIO 服务端点
	AccessKey      string `yaml:"accessKey"`      // 访问密钥
	SecretKey      string `yaml:"secretKey"`      // Secret 密钥
	Bucket         string `yaml:"bucket"`         // 数据集存储桶名称
	ArtifactBucket string `yaml:"artifactBucket"` // 模型制品存储桶名称
	Secure         bool   `yaml:"secure"`         // 是否使用HTTPS
}

// MongoConfig 定义了 MongoDB 数据库的连接配置。
type MongoConfig struct {
	Address    string `yaml:"address"`    // MongoDB 服务器地址
	Username   string `yaml:"username"`   // 用户名
	Password   string `yaml:"password"`   // 密码
	Database   string `yaml:"database"`   // 数据库名称
	Collection string `yaml:"collection"` // 任务状态集合名称
}

// EtcdConfig 定义了 Etcd 服务发现的连接配置。
type EtcdConfig struct {
	Endpoints []string `yaml:"endpoints"` // Etcd 节点地址列表
	Username  string   `yaml:"username"`  // 用户名
	Password  string   `yaml:"password"`  // 密码
	TTL       int64    `yaml:"ttl"`       // worker 租约时长（秒）
}

// KafkaConfig 定义了 Kafka 消息队列的连接配置。
type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"`     // Kafka Broker 地址列表
	TasksTopic  string   `yaml:"tasksTopic"`  // 执行请求主题
	EventsTopic string   `yaml:"eventsTopic"` // 任务生命周期事件主题
	GroupID     string   `yaml:"groupID"`     // worker 消费组
	Partitions  int      `yaml:"partitions"`  // 自动创建主题时的分区数
}

// DatabaseConfigs 包含所有外部存储与消息中间件的配置。
type DatabaseConfigs struct {
	Redis   RedisConfig `yaml:"redis"`   // Redis 配置
	MySQL   MySQLConfig `yaml:"mysql"`   // MySQL 配置
	MinIO   MinIOConfig `yaml:"minio"`   // MinIO 对象存储配置
	MongoDB MongoConfig `yaml:"mongodb"` // MongoDB 配置
	Etcd    EtcdConfig  `yaml:"etcd"`    // Etcd 服务发现配置
	Kafka   KafkaConfig `yaml:"kafka"`   // Kafka 消息队列配置
}

// AppInfo 对应 'app' 部分，包含应用程序的基本信息。
type AppInfo struct {
	Name        string `yaml:"name"`        // 应用程序名称
	Version     string `yaml:"version"`     // 应用程序版本
	Environment string `yaml:"environment"` // 运行环境 (例如: "development", "production")
}

// LoggerConfig 定义了日志记录器的配置。
type LoggerConfig struct {
	Level string `yaml:"level"` // 日志级别 (例如: "info", "debug", "warn", "error")
}

// AuthConfig 配置 API 的 Bearer 认证。JwtSecret 为空时不启用认证。
type AuthConfig struct {
	JwtSecret string `yaml:"jwtSecret"`
}

// TracingConfig 配置 OpenTelemetry 链路追踪。
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`     // 是否启用 stdout 导出器
	SampleRatio float64 `yaml:"sampleRatio"` // 采样比例 (0, 1]
}

// PluginsConfig 控制启动时加载哪些工作单元。
type PluginsConfig struct {
	Enabled []string `yaml:"enabled"` // glob 模式列表，默认 ["*"]
}

// WorkerConfig 定义了训练 worker 的执行参数。
type WorkerConfig struct {
	ID               string `yaml:"id"`               // worker 标识，为空时使用主机名
	Concurrency      int    `yaml:"concurrency"`      // 并发执行槽位数
	TempRoot         string `yaml:"tempRoot"`         // 临时工作目录根路径
	StaleAfter       string `yaml:"staleAfter"`       // 超过该时长的残留运行目录会被清理 (例如: "24h")
	MaterializeRetry string `yaml:"materializeRetry"` // 数据集下载的最长重试时间 (例如: "30s")
}

// TrainingConfig 定义了训练服务（调度 + worker）的配置。
type TrainingConfig struct {
	ServerAddress  string        `yaml:"serverAddress"`  // HTTP 监听地址
	Queue          string        `yaml:"queue"`          // 队列后端: "kafka" 或 "memory"
	ResultBackend  string        `yaml:"resultBackend"`  // 状态存储后端: "mongo", "redis" 或 "memory"
	BlobBackend    string        `yaml:"blobBackend"`    // 数据集存储后端: "minio" 或 "local"
	DataDirectory  string        `yaml:"dataDirectory"`  // blobBackend 为 local 时的数据集目录
	ModelDirectory string        `yaml:"modelDirectory"` // blobBackend 为 local 时的模型制品目录
	Plugins        PluginsConfig `yaml:"plugins"`
	Worker         WorkerConfig  `yaml:"worker"`
}

// ServingConfig 定义了推理服务的配置。
type ServingConfig struct {
	ServerAddress       string `yaml:"serverAddress"`       // HTTP 监听地址
	LegacyModelName     string `yaml:"legacyModelName"`     // /invocations 使用的模型
	ModelUpdateInterval string `yaml:"modelUpdateInterval"` // 模型刷新间隔 (例如: "300s")
	CacheCapacity       int    `yaml:"cacheCapacity"`       // 同时加载的模型数量上限
	ScratchDirectory    string `yaml:"scratchDirectory"`    // 下载模型制品的临时目录
}

// AppConfig 是整个 YAML 文件的根结构，包含了应用程序的所有配置。
type AppConfig struct {
	App        AppInfo          `yaml:"app"`        // 应用程序信息
	Auth       AuthConfig       `yaml:"auth"`       // 认证配置
	Logger     LoggerConfig     `yaml:"logger"`     // 日志记录器配置
	Databases  DatabaseConfigs  `yaml:"databases"`  // 数据库配置
	Training   TrainingConfig   `yaml:"training"`   // 训练服务配置
	Serving    ServingConfig    `yaml:"serving"`    // 推理服务配置
	Middleware MiddlewareConfig `yaml:"middleware"` // 中间件配置
	Tracing    TracingConfig    `yaml:"tracing"`    // 链路追踪配置
}

// MiddlewareConfig 包含所有中间件的配置。
type MiddlewareConfig struct {
	RateLimiter    RateLimiterConfig    `yaml:"rateLimiter"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker"`
}

// RateLimiterConfig 定义了限流器的配置。
type RateLimiterConfig struct {
	Enabled     bool              `yaml:"enabled"`
	Algorithm   string            `yaml:"algorithm"` // 支持: "tokenBucket", "fixedWindow"
	PerClient   bool              `yaml:"perClient"` // 按客户端地址分别限流
	FixedWindow FixedWindowConfig `yaml:"fixedWindow"`
	TokenBucket TokenBucketConfig `yaml:"tokenBucket"`
}

// FixedWindowConfig 定义了固定窗口计数器算法的配置。
type FixedWindowConfig struct {
	Limit  int    `yaml:"limit"`
	Window string `yaml:"window"` // 例如: "1m", "30s"
}

// TokenBucketConfig 定义了令牌桶算法的配置。
type TokenBucketConfig struct {
	Rate     float64 `yaml:"rate"` // 每秒速率
	Capacity int     `yaml:"capacity"`
}

// CircuitBreakerConfig 定义了熔断器的配置。
type CircuitBreakerConfig struct {
	Enabled          bool   `yaml:"enabled"`
	FailureThreshold uint32 `yaml:"failureThreshold"`
	SuccessThreshold uint32 `yaml:"successThreshold"`
	Timeout          string `yaml:"timeout"` // 例如: "30s"
}

// LoadConfig 函数从指定路径加载并解析 YAML 配置文件，并填充默认值。
//
// 参数:
//
//	path: YAML 配置文件的路径。
//
// 返回值:
//
//	*AppConfig: 解析后的应用程序配置结构体。
//	error: 如果文件读取、解析或校验失败，则返回错误。
func LoadConfig(path string) (*AppConfig, error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("无法读取 YAML 文件 '%s': %w", path, err)
	}
	return Parse(yamlFile)
}

// Parse 解析 YAML 内容，填充默认值并校验时长字段。
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析 YAML 文件失败: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults 为未配置的字段设置默认值。
func (c *AppConfig) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "chimp"
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Databases.Redis.KeyPrefix == "" {
		c.Databases.Redis.KeyPrefix = "chimp:task:"
	}
	if c.Databases.MinIO.Bucket == "" {
		c.Databases.MinIO.Bucket = "datasets"
	}
	if c.Databases.MinIO.ArtifactBucket == "" {
		c.Databases.MinIO.ArtifactBucket = "models"
	}
	if c.Databases.MongoDB.Collection == "" {
		c.Databases.MongoDB.Collection = "tasks"
	}
	if c.Databases.Etcd.TTL <= 0 {
		c.Databases.Etcd.TTL = 15
	}
	if c.Databases.Kafka.TasksTopic == "" {
		c.Databases.Kafka.TasksTopic = "chimp_tasks"
	}
	if c.Databases.Kafka.EventsTopic == "" {
		c.Databases.Kafka.EventsTopic = "chimp_task_events"
	}
	if c.Databases.Kafka.Partitions <= 0 {
		c.Databases.Kafka.Partitions = 4
	}
	if c.Databases.Kafka.GroupID == "" {
		c.Databases.Kafka.GroupID = "chimp-training-workers"
	}

	t := &c.Training
	if t.ServerAddress == "" {
		t.ServerAddress = ":5253"
	}
	if t.Queue == "" {
		t.Queue = "kafka"
	}
	if t.ResultBackend == "" {
		t.ResultBackend = "mongo"
	}
	if t.BlobBackend == "" {
		t.BlobBackend = "minio"
	}
	if t.DataDirectory == "" {
		t.DataDirectory = "datasets"
	}
	if t.ModelDirectory == "" {
		t.ModelDirectory = "models"
	}
	if len(t.Plugins.Enabled) == 0 {
		t.Plugins.Enabled = []string{"*"}
	}
	if t.Worker.Concurrency <= 0 {
		t.Worker.Concurrency = 2
	}
	if t.Worker.TempRoot == "" {
		t.Worker.TempRoot = os.TempDir()
	}
	if t.Worker.StaleAfter == "" {
		t.Worker.StaleAfter = "24h"
	}
	if t.Worker.MaterializeRetry == "" {
		t.Worker.MaterializeRetry = "30s"
	}

	s := &c.Serving
	if s.ServerAddress == "" {
		s.ServerAddress = ":5254"
	}
	if s.LegacyModelName == "" {
		s.LegacyModelName = "onnx emotion model"
	}
	if s.ModelUpdateInterval == "" {
		s.ModelUpdateInterval = "300s"
	}
	if s.CacheCapacity <= 0 {
		s.CacheCapacity = 8
	}
	if s.ScratchDirectory == "" {
		s.ScratchDirectory = os.TempDir()
	}

	if c.Tracing.SampleRatio <= 0 || c.Tracing.SampleRatio > 1 {
		c.Tracing.SampleRatio = 1
	}
}

// Validate 检查枚举字段和时长字段是否合法。
func (c *AppConfig) Validate() error {
	switch c.Training.Queue {
	case "kafka", "memory":
	default:
		return fmt.Errorf("未知的队列后端: %q", c.Training.Queue)
	}
	switch c.Training.ResultBackend {
	case "mongo", "redis", "memory":
	default:
		return fmt.Errorf("未知的状态存储后端: %q", c.Training.ResultBackend)
	}
	switch c.Training.BlobBackend {
	case "minio", "local":
	default:
		return fmt.Errorf("未知的数据集存储后端: %q", c.Training.BlobBackend)
	}
	for name, value := range map[string]string{
		"training.worker.staleAfter":       c.Training.Worker.StaleAfter,
		"training.worker.materializeRetry": c.Training.Worker.MaterializeRetry,
		"serving.modelUpdateInterval":      c.Serving.ModelUpdateInterval,
	} {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("无效的时长配置 %s=%q: %w", name, value, err)
		}
		if d <= 0 {
			return fmt.Errorf("时长配置 %s=%q 必须大于 0", name, value)
		}
	}
	// 运行目录至少要活过一次完整的数据集下载重试。
	if w := c.Training.Worker; w.StaleDuration() < 2*w.RetryDuration() {
		return fmt.Errorf("training.worker.staleAfter=%q 必须至少是 materializeRetry=%q 的两倍", w.StaleAfter, w.MaterializeRetry)
	}
	return nil
}

// UpdateInterval 返回解析后的模型刷新间隔。
func (s ServingConfig) UpdateInterval() time.Duration {
	d, _ := time.ParseDuration(s.ModelUpdateInterval)
	return d
}

// StaleDuration 返回残留运行目录的清理阈值。
func (w WorkerConfig) StaleDuration() time.Duration {
	d, _ := time.ParseDuration(w.StaleAfter)
	return d
}

// RetryDuration 返回数据集下载的最长重试时间。
func (w WorkerConfig) RetryDuration() time.Duration {
	d, _ := time.ParseDuration(w.MaterializeRetry)
	return d
}
