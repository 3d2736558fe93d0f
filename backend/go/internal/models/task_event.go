package models

import "time"

// TaskEvent 描述一次任务状态变化，由 worker 发布到事件主题。
type TaskEvent struct {
	TaskID    string     `json:"task_id"`
	WorkUnit  string     `json:"work_unit"`
	RunName   string     `json:"run_name,omitempty"`
	WorkerID  string     `json:"worker_id,omitempty"`
	Status    TaskStatus `json:"status"`
	Message   string     `json:"message,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}
