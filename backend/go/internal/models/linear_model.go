package models

import (
	"encoding/json"
	"fmt"
)

// LinearModel 是 "linear" 类型模型制品的 JSON 格式：y = weights·x + bias。
type LinearModel struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

// ParseLinearModel 解析并校验线性模型制品。
func ParseLinearModel(data []byte) (*LinearModel, error) {
	var m LinearModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode linear model: %w", err)
	}
	if len(m.Weights) == 0 {
		return nil, fmt.Errorf("linear model has no weights")
	}
	return &m, nil
}

// Predict 计算一行特征的预测值。特征数量必须与权重数量一致。
func (m *LinearModel) Predict(row []float64) (float64, error) {
	if len(row) != len(m.Weights) {
		return 0, fmt.Errorf("expected %d features, got %d", len(m.Weights), len(row))
	}
	y := m.Bias
	for i, w := range m.Weights {
		y += w * row[i]
	}
	return y, nil
}
