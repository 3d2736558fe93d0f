package models

// RequestInfo 存储了关于 HTTP 请求的上下文信息，作为日志字段 request_info 输出。
type RequestInfo struct {
	Method     string `json:"method"`
	Path       string `json:"path"`
	RemoteAddr string `json:"remote_addr"`
	UserAgent  string `json:"user_agent"`
}

// ErrorInfo 存储了关于错误的结构化信息，作为日志字段 error 输出。
type ErrorInfo struct {
	Message    string `json:"message"`
	Stack      string `json:"stack,omitempty"`       // 错误的堆栈信息
	Type       string `json:"type,omitempty"`        // 错误的类型，例如 "infrastructure_error", "execution_error"
	StatusCode int    `json:"status_code,omitempty"` // 相关的HTTP状态码
}
