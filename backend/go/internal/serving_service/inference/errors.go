package inference

import "errors"

var (
	// ErrModelNotFound is returned when a model is neither loaded nor registered.
	ErrModelNotFound = errors.New("model not found")
	// ErrInvalidModelIDOrStage is returned when a loaded model has no version for the requested tag.
	ErrInvalidModelIDOrStage = errors.New("invalid model id or stage")
)

// InvalidDataFormatError reports inputs a predictor cannot use.
type InvalidDataFormatError struct {
	Message string
}

func (e *InvalidDataFormatError) Error() string {
	if e.Message == "" {
		return "invalid data format"
	}
	return e.Message
}
