package ratelimiter

import (
	"sync"
	"time"
)

type keyedEntry struct {
	limiter  RateLimiter
	lastSeen time.Time
}

// Keyed 为每个键（通常是客户端地址）维护独立的限流器。
// 超过 idle 未出现的键在下一次清理时被移除。
type Keyed struct {
	factory   func() RateLimiter
	idle      time.Duration
	now       Clock
	mu        sync.Mutex
	entries   map[string]*keyedEntry
	lastSweep time.Time
}

// NewKeyed 创建按键限流器，factory 为每个新键创建限流器。
func NewKeyed(factory func() RateLimiter, idle time.Duration) *Keyed {
	return newKeyed(factory, idle, time.Now)
}

func newKeyed(factory func() RateLimiter, idle time.Duration, now Clock) *Keyed {
	return &Keyed{
		factory:   factory,
		idle:      idle,
		now:       now,
		entries:   make(map[string]*keyedEntry),
		lastSweep: now(),
	}
}

// AllowKey 报告键 key 的请求是否被允许。
func (k *Keyed) AllowKey(key string) bool {
	k.mu.Lock()
	now := k.now()
	if now.Sub(k.lastSweep) > k.idle {
		for id, e := range k.entries {
			if now.Sub(e.lastSeen) > k.idle {
				delete(k.entries, id)
			}
		}
		k.lastSweep = now
	}
	e, ok := k.entries[key]
	if !ok {
		e = &keyedEntry{limiter: k.factory()}
		k.entries[key] = e
	}
	e.lastSeen = now
	k.mu.Unlock()
	return e.limiter.Allow()
}

// Len 返回当前跟踪的键数量。
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
