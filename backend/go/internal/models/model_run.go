package models

import (
	"time"

	"gorm.io/datatypes"
)

// 模型阶段。新注册的模型版本进入 staging；模型还没有 production 版本时同时进入 production。
const (
	StageProduction = "production"
	StageStaging    = "staging"
)

// ModelRun 记录一次训练运行及其产出的模型。
type ModelRun struct {
	ID              uint                        `gorm:"primaryKey" json:"-"`
	RunName         string                      `gorm:"uniqueIndex;size:191;not null" json:"run_name"`
	ExperimentName  string                      `gorm:"index;size:191;not null" json:"experiment_name"`
	ModelName       string                      `gorm:"index;size:191" json:"model_name,omitempty"` // 未注册模型时为空
	ModelKind       ModelKind                   `gorm:"type:varchar(32)" json:"model_kind"`
	Hyperparameters datatypes.JSONMap           `json:"hyperparameters,omitempty"`
	Metrics         datatypes.JSONMap           `json:"metrics,omitempty"`
	Tags            datatypes.JSONMap           `json:"tags,omitempty"`
	Artifacts       datatypes.JSONSlice[string] `json:"artifacts,omitempty"`
	CreatedAt       time.Time                   `json:"created_at"`
}

// ModelStage 将某个模型的一个阶段指向一次运行。
type ModelStage struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	ModelName string    `gorm:"uniqueIndex:idx_model_stage;size:191;not null" json:"model_name"`
	Stage     string    `gorm:"uniqueIndex:idx_model_stage;size:32;not null" json:"stage"`
	RunName   string    `gorm:"size:191;not null" json:"run_name"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RegisteredModel 是一个模型名称及其各阶段对应的运行。
type RegisteredModel struct {
	Name   string            `json:"name"`
	Stages map[string]string `json:"stages"` // stage -> run name
}

// --- 自定义表名 ---

func (ModelRun) TableName() string {
	return "model_runs"
}

func (ModelStage) TableName() string {
	return "model_stages"
}

// ValidStage 判断是否为支持的阶段名称。
func ValidStage(stage string) bool {
	return stage == StageProduction || stage == StageStaging
}
