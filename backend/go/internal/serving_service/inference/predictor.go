package inference

import (
	"fmt"
	"os"
	"path/filepath"

	"Chimp/backend/go/internal/models"
	"Chimp/backend/go/internal/registry"
)

// Predictor runs a prediction for one model version.
type Predictor interface {
	Predict(inputs interface{}) (interface{}, error)
}

// LoadPredictor builds a predictor from a downloaded model artifact directory.
func LoadPredictor(kind models.ModelKind, dir string) (Predictor, error) {
	switch kind {
	case models.ModelKindLinear:
		data, err := os.ReadFile(filepath.Join(dir, registry.ModelFileName(kind)))
		if err != nil {
			return nil, err
		}
		m, err := models.ParseLinearModel(data)
		if err != nil {
			return nil, err
		}
		return &linearPredictor{model: m}, nil
	default:
		return nil, fmt.Errorf("model kind %q cannot be served", kind)
	}
}

type linearPredictor struct {
	model *models.LinearModel
}

// Predict expects a list of numeric rows and returns one value per row.
func (p *linearPredictor) Predict(inputs interface{}) (interface{}, error) {
	rows, ok := inputs.([]interface{})
	if !ok {
		return nil, &InvalidDataFormatError{Message: "Expected a list as data input"}
	}
	out := make([]float64, 0, len(rows))
	for i, r := range rows {
		row, err := toFloats(r)
		if err != nil {
			return nil, &InvalidDataFormatError{Message: fmt.Sprintf("row %d: %v", i, err)}
		}
		y, err := p.model.Predict(row)
		if err != nil {
			return nil, &InvalidDataFormatError{Message: fmt.Sprintf("row %d: %v", i, err)}
		}
		out = append(out, y)
	}
	return out, nil
}

func toFloats(v interface{}) ([]float64, error) {
	cells, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected a list of numbers")
	}
	row := make([]float64, len(cells))
	for i, c := range cells {
		f, ok := c.(float64)
		if !ok {
			return nil, fmt.Errorf("value %v is not a number", c)
		}
		row[i] = f
	}
	return row, nil
}
