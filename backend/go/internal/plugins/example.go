package plugins

import (
	"context"

	"Chimp/backend/go/internal/models"
	"Chimp/backend/go/internal/plugin"
)

// Example 是最简单的工作单元：没有参数和数据集，返回固定的结果。
type Example struct{}

// NewExample 创建 Example 工作单元。
func NewExample() (plugin.WorkUnit, error) {
	return &Example{}, nil
}

func (e *Example) Describe() plugin.Descriptor {
	return plugin.Descriptor{
		Name:                 "Example Plugin",
		Version:              "1.0",
		Description:          "This example plugin takes no arguments and returns a fixed message.",
		ProducesArtifactKind: models.ModelKindTensorflow,
	}
}

func (e *Example) Execute(ctx context.Context, ec *plugin.ExecutionContext, args map[string]string) (interface{}, error) {
	ec.Logger.Info("Running Example Plugin")
	return "Example Plugin finished", nil
}
