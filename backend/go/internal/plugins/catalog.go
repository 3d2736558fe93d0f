// Package plugins 列出编译进程序的全部工作单元。新增工作单元时在 Factories 中追加其工厂。
package plugins

import "Chimp/backend/go/internal/plugin"

// Factories 返回所有内置工作单元的工厂，顺序即 /plugins 的展示顺序。
func Factories() []plugin.Factory {
	return []plugin.Factory{
		NewExample,
		NewExample2,
		NewLinearRegression,
	}
}
