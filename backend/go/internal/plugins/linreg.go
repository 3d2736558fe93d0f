package plugins

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"Chimp/backend/go/internal/models"
	"Chimp/backend/go/internal/plugin"
	"Chimp/backend/go/internal/registry"
)

const (
	defaultLinearExperiment = "LinearRegression"
	defaultLinearModel      = "linear regression"
)

// LinearRegression 用最小二乘法拟合数据集中所有 CSV 文件（每行 x1,...,xn,y），
// 并把结果保存为推理服务可以直接加载的 linear 模型。
type LinearRegression struct{}

// NewLinearRegression 创建 LinearRegression 工作单元。
func NewLinearRegression() (plugin.WorkUnit, error) {
	return &LinearRegression{}, nil
}

func (l *LinearRegression) Describe() plugin.Descriptor {
	return plugin.Descriptor{
		Name:        "Linear Regression",
		Version:     "1.0",
		Description: "Fits an ordinary least squares model on CSV rows of the form x1,...,xn,y.",
		Arguments: []plugin.Argument{
			{Key: "model_name", Name: "Model name", Type: "str", Description: "Registered model name", Optional: true},
			{Key: "experiment_name", Name: "Experiment name", Type: "str", Description: "Experiment to store the run in", Optional: true},
		},
		Datasets: []plugin.Dataset{
			{Key: "dataset", Name: "Training data", Description: "Folder with CSV files"},
		},
		ProducesArtifactKind: models.ModelKindLinear,
	}
}

func (l *LinearRegression) Execute(ctx context.Context, ec *plugin.ExecutionContext, args map[string]string) (interface{}, error) {
	dir, ok := ec.DatasetPath("dataset")
	if !ok {
		return nil, errors.New("dataset was not materialized")
	}
	xs, ys, err := readRows(dir)
	if err != nil {
		return nil, err
	}
	model, err := fitLeastSquares(xs, ys)
	if err != nil {
		return nil, err
	}

	var sse, mean float64
	for _, y := range ys {
		mean += y
	}
	mean /= float64(len(ys))
	var sst float64
	for i, row := range xs {
		pred, _ := model.Predict(row)
		sse += (ys[i] - pred) * (ys[i] - pred)
		sst += (ys[i] - mean) * (ys[i] - mean)
	}
	metrics := map[string]float64{
		"mse":       sse / float64(len(ys)),
		"n_samples": float64(len(ys)),
	}
	if sst > 0 {
		metrics["r2"] = 1 - sse/sst
	}

	data, err := json.Marshal(model)
	if err != nil {
		return nil, err
	}
	experiment := firstNonEmpty(args["experiment_name"], defaultLinearExperiment)
	runName, err := ec.Models.StoreModel(ctx, registry.StoreModelRequest{
		ExperimentName:  experiment,
		RunName:         ec.RunName,
		Model:           data,
		ModelKind:       models.ModelKindLinear,
		ModelName:       firstNonEmpty(args["model_name"], defaultLinearModel),
		Hyperparameters: map[string]interface{}{"features": len(model.Weights)},
		Metrics:         metrics,
	})
	if err != nil {
		return nil, err
	}
	ec.Logger.WithPayload(map[string]interface{}{"metrics": metrics}).Info("Linear Regression stored its model")
	return runName, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// readRows 读取目录下所有 .csv 文件。无法解析为数字的首行视为表头并跳过。
func readRows(dir string) ([][]float64, []float64, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(p), ".csv") {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, nil, errors.New("dataset contains no .csv files")
	}

	var xs [][]float64
	var ys []float64
	width := -1
	for _, file := range files {
		f, err := os.Open(file)
		if err != nil {
			return nil, nil, err
		}
		r := csv.NewReader(f)
		r.FieldsPerRecord = -1
		line := 0
		for {
			record, err := r.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				f.Close()
				return nil, nil, fmt.Errorf("%s: %w", filepath.Base(file), err)
			}
			line++
			values, err := parseRow(record)
			if err != nil {
				if line == 1 {
					continue
				}
				f.Close()
				return nil, nil, fmt.Errorf("%s line %d: %w", filepath.Base(file), line, err)
			}
			if len(values) < 2 {
				f.Close()
				return nil, nil, fmt.Errorf("%s line %d: need at least one feature and a target", filepath.Base(file), line)
			}
			if width == -1 {
				width = len(values)
			} else if len(values) != width {
				f.Close()
				return nil, nil, fmt.Errorf("%s line %d: expected %d columns, got %d", filepath.Base(file), line, width, len(values))
			}
			xs = append(xs, values[:len(values)-1])
			ys = append(ys, values[len(values)-1])
		}
		f.Close()
	}
	if len(ys) == 0 {
		return nil, nil, errors.New("dataset contains no numeric rows")
	}
	return xs, ys, nil
}

func parseRow(record []string) ([]float64, error) {
	values := make([]float64, len(record))
	for i, field := range record {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

// fitLeastSquares 解正规方程 (XᵀX)β = Xᵀy，X 的最后一列为截距项。
func fitLeastSquares(xs [][]float64, ys []float64) (*models.LinearModel, error) {
	n := len(xs[0]) + 1
	if len(ys) < n {
		return nil, fmt.Errorf("need at least %d rows to fit %d parameters, got %d", n, n, len(ys))
	}

	a := make([][]float64, n)
	for i := range a {
		a[i] = make([]float64, n+1)
	}
	for r, row := range xs {
		x := append(append([]float64(nil), row...), 1)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				a[i][j] += x[i] * x[j]
			}
			a[i][n] += x[i] * ys[r]
		}
	}

	// 带部分主元的高斯消元。
	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return nil, errors.New("features are linearly dependent")
		}
		a[col], a[pivot] = a[pivot], a[col]
		for r := 0; r < n; r++ {
			if r == col {
				continue
			}
			f := a[r][col] / a[col][col]
			for c := col; c <= n; c++ {
				a[r][c] -= f * a[col][c]
			}
		}
	}

	beta := make([]float64, n)
	for i := 0; i < n; i++ {
		beta[i] = a[i][n] / a[i][i]
	}
	return &models.LinearModel{Weights: beta[:n-1], Bias: beta[n-1]}, nil
}
