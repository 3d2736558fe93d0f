// Package plugin 定义了工作单元（训练插件）的接口、执行上下文以及进程内注册表。
package plugin

import (
	"context"
	"errors"

	"Chimp/backend/go/internal/datastore"
	"Chimp/backend/go/internal/registry"
	"Chimp/backend/go/pkg/logger"
)

// ErrWorkUnitNotFound 表示注册表中没有该名称的工作单元。
var ErrWorkUnitNotFound = errors.New("work unit not found")

// WorkUnit 定义了所有可调度的工作单元必须实现的接口。
// 同一实例会被多个任务复用，Execute 必须可以并发调用，
// 否则实现 Serialized 接口让注册表串行执行。
type WorkUnit interface {
	// Describe 返回工作单元的能力描述。
	Describe() Descriptor
	// Execute 在已准备好的执行上下文中运行任务，返回值会作为任务结果保存。
	Execute(ctx context.Context, ec *ExecutionContext, args map[string]string) (interface{}, error)
}

// Serialized 是一个标记接口。SerializeExecutions 返回 true 的工作单元同一时刻只会执行一个任务。
type Serialized interface {
	SerializeExecutions() bool
}

// Factory 创建一个工作单元实例。工厂返回错误或发生 panic 时该单元会被跳过。
type Factory func() (WorkUnit, error)

// ExecutionContext 是每次执行独有的上下文，执行结束后失效。
type ExecutionContext struct {
	// RunName 在所有任务中唯一。
	RunName string
	// WorkDir 是本次执行独占的临时目录，执行结束后会被删除。
	WorkDir string
	// Datasets 将逻辑数据集键映射到 WorkDir 下已下载的本地路径。
	Datasets map[string]string
	Models   registry.ModelRegistry
	Blobs    datastore.BlobStore
	Logger   *logger.Logger
}

// DatasetPath 返回某个数据集键的本地路径。可选数据集未提供时返回 false。
func (ec *ExecutionContext) DatasetPath(key string) (string, bool) {
	p, ok := ec.Datasets[key]
	return p, ok
}
