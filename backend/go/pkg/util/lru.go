package util

import (
	"container/list"
	"fmt"
	"sync"
)

// LRUConfig 配置 LRU 缓存。
type LRUConfig[K comparable, V any] struct {
	// Capacity 是缓存的最大元素数量，必须大于 0。
	Capacity int
	// OnEvict 在元素因容量不足被淘汰时调用，调用时不持有锁。
	OnEvict func(key K, value V)
}

type lruEntry[K comparable, V any] struct {
	key   K
	value V
}

// LRU 是一个并发安全的泛型 LRU 缓存。
type LRU[K comparable, V any] struct {
	config LRUConfig[K, V]
	ll     *list.List
	items  map[K]*list.Element
	lock   sync.Mutex
}

// NewLRU 创建 LRU 缓存。
func NewLRU[K comparable, V any](config LRUConfig[K, V]) (*LRU[K, V], error) {
	if config.Capacity <= 0 {
		return nil, fmt.Errorf("LRU capacity must be positive, got %d", config.Capacity)
	}
	return &LRU[K, V]{
		config: config,
		ll:     list.New(),
		items:  make(map[K]*list.Element),
	}, nil
}

// Get 返回 key 对应的值并将其标记为最近使用。
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	el, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*lruEntry[K, V]).value, true
}

// Peek 返回 key 对应的值，不改变使用顺序。
func (c *LRU[K, V]) Peek(key K) (V, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	el, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	return el.Value.(*lruEntry[K, V]).value, true
}

// Put 添加或替换一个元素，超出容量时淘汰最久未使用的元素。
func (c *LRU[K, V]) Put(key K, value V) {
	var evicted []*lruEntry[K, V]
	c.lock.Lock()
	if el, ok := c.items[key]; ok {
		el.Value.(*lruEntry[K, V]).value = value
		c.ll.MoveToFront(el)
	} else {
		c.items[key] = c.ll.PushFront(&lruEntry[K, V]{key: key, value: value})
	}
	for c.ll.Len() > c.config.Capacity {
		back := c.ll.Back()
		e := back.Value.(*lruEntry[K, V])
		c.ll.Remove(back)
		delete(c.items, e.key)
		evicted = append(evicted, e)
	}
	c.lock.Unlock()

	if c.config.OnEvict != nil {
		for _, e := range evicted {
			c.config.OnEvict(e.key, e.value)
		}
	}
}

// Remove 删除 key，返回其是否存在。
func (c *LRU[K, V]) Remove(key K) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	el, ok := c.items[key]
	if ok {
		c.ll.Remove(el)
		delete(c.items, key)
	}
	return ok
}

// Keys 按从最近到最久的使用顺序返回所有键。
func (c *LRU[K, V]) Keys() []K {
	c.lock.Lock()
	defer c.lock.Unlock()
	keys := make([]K, 0, c.ll.Len())
	for el := c.ll.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*lruEntry[K, V]).key)
	}
	return keys
}

// Len 返回当前元素数量。
func (c *LRU[K, V]) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.ll.Len()
}
