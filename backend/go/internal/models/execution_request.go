package models

import "time"

// ExecutionRequest 是调度器写入任务队列、由 worker 消费的消息。
// 参数和数据集都已通过校验，worker 不再重复校验。
type ExecutionRequest struct {
	TaskID      string            `json:"taskID"`
	WorkUnit    string            `json:"workUnit"`
	Arguments   map[string]string `json:"arguments,omitempty"`
	Datasets    map[string]string `json:"datasets,omitempty"` // 逻辑键 -> 数据集名称
	SubmittedAt time.Time         `json:"submittedAt"`
}
