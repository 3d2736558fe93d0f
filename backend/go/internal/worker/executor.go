// Package worker 实现训练任务的异步执行：每个任务获得唯一的运行名和独占的临时目录，
// 目录在任务结束时无条件删除。
package worker

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"Chimp/backend/go/internal/datastore"
	"Chimp/backend/go/internal/models"
	"Chimp/backend/go/internal/plugin"
	"Chimp/backend/go/internal/registry"
	"Chimp/backend/go/pkg/logger"
	"Chimp/backend/go/pkg/tracing"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const (
	runTimeLayout = "20060102T150405.000000"
	datasetsDir   = "datasets"

	defaultMaterializeRetry = 30 * time.Second
)

// ErrRunCollision 表示运行目录已存在。
var ErrRunCollision = errors.New("run directory already exists")

// StartFunc is called once the run name is known and the datasets are in place.
// Returning an error aborts the execution before the work unit is invoked.
type StartFunc func(runName string) error

// Executor runs one execution request at a time per call. Calls are
// independent and may run concurrently.
type Executor struct {
	plugins  *plugin.Registry
	blobs    datastore.BlobStore
	models   registry.ModelRegistry
	tempRoot string
	retry    time.Duration
	logger   *logger.Logger
	now      func() time.Time

	activeMu sync.Mutex
	active   map[string]struct{}
}

// NewExecutor creates an Executor. retry bounds the total time spent
// retrying a dataset download.
func NewExecutor(plugins *plugin.Registry, blobs datastore.BlobStore, models registry.ModelRegistry, tempRoot string, retry time.Duration, log *logger.Logger) *Executor {
	if retry <= 0 {
		retry = defaultMaterializeRetry
	}
	return &Executor{
		plugins:  plugins,
		blobs:    blobs,
		models:   models,
		tempRoot: tempRoot,
		retry:    retry,
		logger:   log,
		now:      time.Now,
		active:   make(map[string]struct{}),
	}
}

// NewRunName 生成 <UTC时间>_<工作单元名>_<8位随机十六进制>。
func NewRunName(workUnit string, t time.Time) string {
	return fmt.Sprintf("%s_%s_%s", t.UTC().Format(runTimeLayout), sanitize(workUnit), randomToken())
}

// randomToken 取随机 UUID 的前 4 字节。
func randomToken() string {
	id := uuid.New()
	return hex.EncodeToString(id[:4])
}

func sanitize(name string) string {
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			sb.WriteRune(r)
		default:
			sb.WriteRune('-')
		}
	}
	if sb.Len() == 0 {
		return "unit"
	}
	return sb.String()
}

// Execute resolves the work unit, prepares its run directory and datasets,
// calls started and invokes the unit. It returns the run name (empty if none
// was generated), the unit's result and the failure, if any. The run
// directory is removed before Execute returns.
func (e *Executor) Execute(ctx context.Context, req *models.ExecutionRequest, started StartFunc) (runName string, value interface{}, err error) {
	ctx, span := tracing.StartSpan(ctx, "execute",
		attribute.String("task_id", req.TaskID),
		attribute.String("work_unit", req.WorkUnit))
	defer func() {
		tracing.RecordError(span, err)
		span.End()
	}()

	entry, err := e.resolve(req.WorkUnit)
	if err != nil {
		return "", nil, err
	}

	runName = NewRunName(entry.Descriptor.Name, e.now())
	span.SetAttributes(attribute.String("run_name", runName))
	log := e.logger.WithTask(req.TaskID, runName)

	workDir := filepath.Join(e.tempRoot, runName)
	if err := os.Mkdir(workDir, 0o700); err != nil {
		if errors.Is(err, os.ErrExist) {
			err = ErrRunCollision
		}
		return runName, nil, &InfrastructureError{WorkUnit: req.WorkUnit, RunName: runName, Op: "create run directory", Err: err}
	}
	e.track(runName)
	defer func() {
		if rmErr := os.RemoveAll(workDir); rmErr != nil {
			log.WithError(models.ErrorInfo{Message: rmErr.Error(), Type: "cleanup_error"}).Error("Failed to remove run directory")
		}
		e.untrack(runName)
	}()

	datasets, err := e.materialize(ctx, req, runName, workDir)
	if err != nil {
		return runName, nil, err
	}

	if started != nil {
		if err := started(runName); err != nil {
			return runName, nil, err
		}
	}

	ec := &plugin.ExecutionContext{
		RunName:  runName,
		WorkDir:  workDir,
		Datasets: datasets,
		Models:   e.models,
		Blobs:    e.blobs,
		Logger:   log,
	}
	log.Info(fmt.Sprintf("Executing work unit '%s'", entry.Descriptor.Name))
	value, err = invoke(ctx, entry, ec, req.Arguments)
	if err != nil {
		return runName, nil, err
	}
	return runName, value, nil
}

func (e *Executor) track(runName string) {
	e.activeMu.Lock()
	e.active[runName] = struct{}{}
	e.activeMu.Unlock()
}

func (e *Executor) untrack(runName string) {
	e.activeMu.Lock()
	delete(e.active, runName)
	e.activeMu.Unlock()
}

// Running reports whether runName is executing in this Executor.
func (e *Executor) Running(runName string) bool {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	_, ok := e.active[runName]
	return ok
}

// TempRoot returns the directory run directories are created in.
func (e *Executor) TempRoot() string {
	return e.tempRoot
}

// resolve 查找工作单元，未命中时重新加载一次注册表。
func (e *Executor) resolve(name string) (*plugin.Entry, error) {
	if entry, ok := e.plugins.Get(name); ok {
		return entry, nil
	}
	e.plugins.LoadAll()
	if entry, ok := e.plugins.Get(name); ok {
		return entry, nil
	}
	return nil, fmt.Errorf("%w: %s", plugin.ErrWorkUnitNotFound, name)
}

// materialize 将每个数据集下载到 <workDir>/datasets/<key>。
func (e *Executor) materialize(ctx context.Context, req *models.ExecutionRequest, runName, workDir string) (map[string]string, error) {
	keys := make([]string, 0, len(req.Datasets))
	for key := range req.Datasets {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	paths := make(map[string]string, len(keys))
	for _, key := range keys {
		name := req.Datasets[key]
		if !plugin.ValidDatasetKey(key) {
			return nil, &InfrastructureError{
				WorkUnit: req.WorkUnit,
				RunName:  runName,
				Op:       "materialize datasets",
				Err:      fmt.Errorf("dataset key %q is not a valid directory name", key),
			}
		}
		dst := filepath.Join(workDir, datasetsDir, key)

		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = 200 * time.Millisecond
		bo.MaxElapsedTime = e.retry
		var local string
		err := backoff.Retry(func() error {
			var err error
			local, err = e.blobs.LoadFolderToFilesystem(ctx, name, dst)
			if err == nil {
				return nil
			}
			if errors.Is(err, datastore.ErrNotFound) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}, backoff.WithContext(bo, ctx))
		if err != nil {
			return nil, &InfrastructureError{
				WorkUnit: req.WorkUnit,
				RunName:  runName,
				Op:       fmt.Sprintf("materialize dataset '%s' (%s)", key, name),
				Err:      err,
			}
		}
		paths[key] = local
	}
	return paths, nil
}

// invoke 调用工作单元，把返回的错误和 panic 都转换为 ExecutionError。
func invoke(ctx context.Context, entry *plugin.Entry, ec *plugin.ExecutionContext, args map[string]string) (value interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			value = nil
			err = &ExecutionError{
				WorkUnit: entry.Descriptor.Name,
				RunName:  ec.RunName,
				Err:      fmt.Errorf("panic: %v", rec),
				Stack:    string(debug.Stack()),
			}
		}
	}()
	if args == nil {
		args = map[string]string{}
	}
	value, err = entry.Execute(ctx, ec, args)
	if err != nil {
		return nil, &ExecutionError{WorkUnit: entry.Descriptor.Name, RunName: ec.RunName, Err: err}
	}
	return value, nil
}
