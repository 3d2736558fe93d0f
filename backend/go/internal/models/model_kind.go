package models

// ModelKind 标识工作单元产出的模型制品类型，仅作说明用途。
type ModelKind string

const (
	ModelKindSklearn    ModelKind = "sklearn"
	ModelKindONNX       ModelKind = "onnx"
	ModelKindTensorflow ModelKind = "tensorflow"
	ModelKindPytorch    ModelKind = "pytorch"
	ModelKindOther      ModelKind = "other"
	ModelKindNone       ModelKind = "none"
	// ModelKindLinear 是推理服务可以直接加载的线性模型 JSON 格式。
	ModelKindLinear ModelKind = "linear"
)

// Valid 判断是否为已知的模型类型。
func (k ModelKind) Valid() bool {
	switch k {
	case ModelKindSklearn, ModelKindONNX, ModelKindTensorflow, ModelKindPytorch,
		ModelKindOther, ModelKindNone, ModelKindLinear:
		return true
	}
	return false
}
