// Package ratelimiter 提供 HTTP 入口使用的限流算法。
package ratelimiter

import "time"

// RateLimiter reports whether one more request may pass now.
type RateLimiter interface {
	Allow() bool
}

// Clock 返回当前时间，测试中可替换。
type Clock func() time.Time
