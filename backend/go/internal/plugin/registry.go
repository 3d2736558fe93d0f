package plugin

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"Chimp/backend/go/internal/models"
	"Chimp/backend/go/pkg/logger"

	"github.com/gobwas/glob"
)

// Entry 是注册表中的一个已加载工作单元。
type Entry struct {
	Unit       WorkUnit
	Descriptor Descriptor
	mu         *sync.Mutex // 仅在工作单元要求串行执行时非 nil
}

// Serialized 报告该工作单元是否被串行执行。
func (e *Entry) Serialized() bool {
	return e.mu != nil
}

// Execute 调用工作单元，必要时持有该单元的互斥锁。
func (e *Entry) Execute(ctx context.Context, ec *ExecutionContext, args map[string]string) (interface{}, error) {
	if e.mu != nil {
		e.mu.Lock()
		defer e.mu.Unlock()
	}
	return e.Unit.Execute(ctx, ec, args)
}

type index struct {
	order   []string
	entries map[string]*Entry
}

// Registry 在进程内维护已加载的工作单元。索引在 LoadAll 中完整构建后原子替换，
// 并发的 Get/List 要么看到旧索引，要么看到新索引。
type Registry struct {
	factories []Factory
	filters   []glob.Glob
	current   atomic.Pointer[index]
	loadMu    sync.Mutex
	log       *logger.Logger
}

// NewRegistry 创建注册表。enabled 为 glob 模式列表，只有名称匹配其中之一的工作单元才会被加载；
// 为空时加载全部。注册表在调用 LoadAll 之前为空。
func NewRegistry(factories []Factory, enabled []string, log *logger.Logger) (*Registry, error) {
	filters := make([]glob.Glob, 0, len(enabled))
	for _, pattern := range enabled {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid plugin filter %q: %w", pattern, err)
		}
		filters = append(filters, g)
	}
	if log == nil {
		log = logger.New("plugin-registry", "", "")
	}
	r := &Registry{factories: factories, filters: filters, log: log}
	r.current.Store(&index{entries: map[string]*Entry{}})
	return r, nil
}

func (r *Registry) enabled(name string) bool {
	if len(r.filters) == 0 {
		return true
	}
	for _, g := range r.filters {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// LoadAll 为每个工厂实例化一个工作单元并重建索引，返回加载的数量。
// 失败的工厂和无效的描述只会被记录并跳过。同名单元后注册者覆盖先注册者。
func (r *Registry) LoadAll() int {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()

	next := &index{entries: make(map[string]*Entry, len(r.factories))}
	for i, factory := range r.factories {
		unit, desc, err := instantiate(factory)
		if err != nil {
			r.log.WithError(models.ErrorInfo{Message: err.Error(), Type: "plugin_load_error"}).
				WithPayload(map[string]interface{}{"factory_index": i}).
				Warn("Skipping work unit that failed to load")
			continue
		}
		if !r.enabled(desc.Name) {
			r.log.Debug(fmt.Sprintf("Work unit '%s' is not enabled, skipping", desc.Name))
			continue
		}

		entry := &Entry{Unit: unit, Descriptor: desc}
		if s, ok := unit.(Serialized); ok && s.SerializeExecutions() {
			entry.mu = &sync.Mutex{}
		}

		if _, exists := next.entries[desc.Name]; exists {
			r.log.Warn(fmt.Sprintf("Work unit name '%s' registered more than once, the last registration wins", desc.Name))
		} else {
			next.order = append(next.order, desc.Name)
		}
		next.entries[desc.Name] = entry
	}

	r.current.Store(next)
	r.log.WithPayload(map[string]interface{}{"work_units": next.order}).
		Info(fmt.Sprintf("Loaded %d work units", len(next.order)))
	return len(next.order)
}

// instantiate 调用工厂并校验描述，把 panic 转换为错误。
func instantiate(factory Factory) (unit WorkUnit, desc Descriptor, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("work unit factory panicked: %v", rec)
		}
	}()
	unit, err = factory()
	if err != nil {
		return nil, Descriptor{}, fmt.Errorf("work unit factory failed: %w", err)
	}
	if unit == nil {
		return nil, Descriptor{}, fmt.Errorf("work unit factory returned nil")
	}
	desc = unit.Describe()
	if err := desc.Validate(); err != nil {
		return nil, Descriptor{}, err
	}
	return unit, desc, nil
}

// Get 按名称查找工作单元。
func (r *Registry) Get(name string) (*Entry, bool) {
	e, ok := r.current.Load().entries[name]
	return e, ok
}

// Names 按加载顺序返回所有工作单元名称。
func (r *Registry) Names() []string {
	idx := r.current.Load()
	return append([]string(nil), idx.order...)
}

// List 返回已加载的工作单元。includeDetails 为 true 时返回完整描述，否则只返回名称。
func (r *Registry) List(includeDetails bool) []interface{} {
	idx := r.current.Load()
	out := make([]interface{}, 0, len(idx.order))
	for _, name := range idx.order {
		if includeDetails {
			out = append(out, idx.entries[name].Descriptor)
		} else {
			out = append(out, name)
		}
	}
	return out
}
