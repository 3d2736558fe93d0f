package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaskStatus 定义了任务的几种可能状态
type TaskStatus string

const (
	TaskStatusPending TaskStatus = "pending"
	TaskStatusRunning TaskStatus = "running"
	TaskStatusSuccess TaskStatus = "success"
	TaskStatusFailed  TaskStatus = "failed"
)

// TaskRecord 代表一个持久化的任务状态记录。
// Ready 在任务进入终态时由 false 变为 true，且只变化一次。
type TaskRecord struct {
	ID          string     `bson:"_id" json:"task_id"`                             // 任务唯一ID (UUID)
	WorkUnit    string     `bson:"work_unit" json:"work_unit"`                     // 工作单元名称
	Status      TaskStatus `bson:"status" json:"status"`                           // 任务当前状态
	Ready       bool       `bson:"ready" json:"ready"`                             // 是否已进入终态
	Successful  *bool      `bson:"successful" json:"successful"`                   // 未完成时为 nil
	Value       string     `bson:"value" json:"value"`                             // JSON 编码的结果或错误描述
	RunName     string     `bson:"run_name,omitempty" json:"run_name,omitempty"`   // 执行时生成的运行名
	SubmittedAt time.Time  `bson:"submitted_at" json:"submitted_at"`               // 任务提交时间
	StartedAt   time.Time  `bson:"started_at,omitempty" json:"started_at"`         // 开始执行时间
	CompletedAt time.Time  `bson:"completed_at,omitempty" json:"completed_at"`     // 进入终态的时间
}

// TaskResult 是轮询接口返回的任务视图。
type TaskResult struct {
	Ready      bool            `json:"ready"`
	Successful *bool           `json:"successful"`
	Value      json.RawMessage `json:"value"`
}

// NewPendingTask 创建一个尚未完成的任务记录。
func NewPendingTask(id, workUnit string, submittedAt time.Time) *TaskRecord {
	return &TaskRecord{
		ID:          id,
		WorkUnit:    workUnit,
		Status:      TaskStatusPending,
		SubmittedAt: submittedAt,
	}
}

// Result 将记录转换为轮询视图。未完成的任务 successful 和 value 都为 null。
func (r *TaskRecord) Result() TaskResult {
	if !r.Ready {
		return TaskResult{}
	}
	res := TaskResult{Ready: true, Successful: r.Successful}
	if r.Value != "" {
		res.Value = json.RawMessage(r.Value)
	}
	return res
}

// EncodeValue 将任务结果编码为 JSON 文本。无法编码的值会退化为其字符串形式。
func EncodeValue(v interface{}) string {
	if err, ok := v.(error); ok {
		v = err.Error()
	}
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(fmt.Sprintf("%v", v))
	}
	return string(data)
}
