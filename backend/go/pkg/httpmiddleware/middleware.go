// Package httpmiddleware 提供 HTTP 服务共用的中间件和统一的错误响应格式。
package httpmiddleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"Chimp/backend/go/pkg/circuitbreaker"
	"Chimp/backend/go/pkg/ratelimiter"
)

// ErrorBody 是所有接口返回错误时使用的 JSON 结构。
type ErrorBody struct {
	StatusCode int    `json:"status-code"`
	Error      string `json:"error"`
	Message    string `json:"message,omitempty"`
}

// NewErrorBody 根据状态码构造错误响应体。
func NewErrorBody(code int, message string) ErrorBody {
	return ErrorBody{StatusCode: code, Error: http.StatusText(code), Message: message}
}

// WriteError 以 JSON 写出错误响应。
func WriteError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(NewErrorBody(code, message))
}

// RateLimit rejects requests with 429 when the limiter denies them.
func RateLimit(limiter ratelimiter.RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitPerClient applies a separate limiter to each client address.
func RateLimitPerClient(limiter *ratelimiter.Keyed) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.AllowKey(clientAddr(r)) {
				WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// responseWriter captures the status code written by the handler.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// CircuitBreak counts responses with status >= 500 as failures and answers
// 503 while the circuit is open.
func CircuitBreak(breaker circuitbreaker.CircuitBreaker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			err := breaker.Execute(func() error {
				next.ServeHTTP(rw, r)
				if rw.statusCode >= http.StatusInternalServerError {
					return fmt.Errorf("server error: status code %d", rw.statusCode)
				}
				return nil
			})
			if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
				WriteError(w, http.StatusServiceUnavailable, "Circuit Breaker is open")
			}
		})
	}
}
