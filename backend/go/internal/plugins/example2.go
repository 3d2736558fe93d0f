package plugins

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"

	"Chimp/backend/go/internal/models"
	"Chimp/backend/go/internal/plugin"
	"Chimp/backend/go/internal/registry"
)

// Example2 统计数据集中的文件数量，并把结果作为一次运行的指标保存。
type Example2 struct{}

// NewExample2 创建 Example2 工作单元。
func NewExample2() (plugin.WorkUnit, error) {
	return &Example2{}, nil
}

func (e *Example2) Describe() plugin.Descriptor {
	return plugin.Descriptor{
		Name:        "Example 2 Plugin",
		Version:     "1.0",
		Description: "Counts the files of a dataset and stores the count as a run metric.",
		Arguments: []plugin.Argument{
			{Key: "start_value", Name: "Start value", Type: "int", Description: "Value added to the file count"},
		},
		Datasets: []plugin.Dataset{
			{Key: "dataset", Name: "Dataset", Description: "Dataset whose files are counted"},
			{Key: "optional_ds", Name: "Optional dataset", Description: "Counted as well when provided", Optional: true},
		},
		ProducesArtifactKind: models.ModelKindOther,
	}
}

func (e *Example2) Execute(ctx context.Context, ec *plugin.ExecutionContext, args map[string]string) (interface{}, error) {
	start, err := strconv.Atoi(args["start_value"])
	if err != nil {
		return nil, fmt.Errorf("start_value must be an integer: %w", err)
	}

	metrics := map[string]float64{"start_value": float64(start)}
	total := start
	for _, key := range []string{"dataset", "optional_ds"} {
		dir, ok := ec.DatasetPath(key)
		if !ok {
			continue
		}
		n, err := countFiles(dir)
		if err != nil {
			return nil, fmt.Errorf("count files of %s: %w", key, err)
		}
		metrics[key+"_files"] = float64(n)
		total += n
	}
	metrics["total"] = float64(total)

	runName, err := ec.Models.StoreModel(ctx, registry.StoreModelRequest{
		ExperimentName:  "Example2",
		RunName:         ec.RunName,
		ModelKind:       models.ModelKindOther,
		Hyperparameters: map[string]interface{}{"start_value": start},
		Metrics:         metrics,
	})
	if err != nil {
		return nil, err
	}
	ec.Logger.WithPayload(map[string]interface{}{"total": total}).Info("Example 2 Plugin stored its run")
	return runName, nil
}

func countFiles(dir string) (int, error) {
	n := 0
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			n++
		}
		return nil
	})
	return n, err
}
