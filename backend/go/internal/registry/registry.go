// Package registry 实现模型注册表：运行元数据保存在元数据存储中，
// 模型和其他制品保存在 BlobStore 的 <experiment>/<runName>/<artifact>/ 下。
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"Chimp/backend/go/internal/datastore"
	"Chimp/backend/go/internal/models"

	"github.com/google/uuid"
)

var (
	// ErrRunNotFound 表示指定的运行不存在。
	ErrRunNotFound = errors.New("run not found")
	// ErrModelNotFound 表示指定的模型没有所需阶段的版本。
	ErrModelNotFound = errors.New("model not found")
	// ErrRunExists 表示运行名已被使用。
	ErrRunExists = errors.New("run already exists")
)

// ModelArtifact 是保存模型文件的制品名称。
const ModelArtifact = "model"

// StoreModelRequest 描述一次需要保存的运行。Model 和 ModelPath 二选一。
type StoreModelRequest struct {
	ExperimentName  string
	RunName         string // 为空时自动生成
	Model           []byte // 序列化后的模型
	ModelPath       string // 本地模型文件或目录
	ModelKind       models.ModelKind
	ModelName       string // 为空时使用 ExperimentName
	Hyperparameters map[string]interface{}
	Metrics         map[string]float64
	Tags            map[string]string
	Artifacts       map[string]string // 制品名 -> 本地路径
	Datasets        map[string]string // 数据集名 -> 本地路径
}

// ModelRegistry 是工作单元和推理服务使用的模型注册表接口。
type ModelRegistry interface {
	StoreModel(ctx context.Context, req StoreModelRequest) (string, error)
	GetArtifact(ctx context.Context, saveTo, modelName, experimentName, runName, artifactPath string) (string, error)
	ListModels(ctx context.Context) ([]models.RegisteredModel, error)
	LoadStageArtifact(ctx context.Context, modelName, stage, saveTo string) (*models.ModelRun, string, error)
	LoadRunArtifact(ctx context.Context, runName, saveTo string) (*models.ModelRun, string, error)
	TransitionStage(ctx context.Context, modelName, stage, runName string) error
}

// MetaStore 保存运行与阶段元数据。
type MetaStore interface {
	// CreateRun 创建运行记录；register 为 true 时在同一事务中更新阶段。
	CreateRun(ctx context.Context, run *models.ModelRun, register bool) error
	FindRun(ctx context.Context, runName string) (*models.ModelRun, error)
	FindStage(ctx context.Context, modelName, stage string) (*models.ModelStage, error)
	SetStage(ctx context.Context, modelName, stage, runName string) error
	ListStages(ctx context.Context) ([]models.ModelStage, error)
}

// Registry 组合元数据存储和制品存储。
type Registry struct {
	meta  MetaStore
	blobs datastore.BlobStore
}

// New 创建一个模型注册表。
func New(meta MetaStore, blobs datastore.BlobStore) *Registry {
	return &Registry{meta: meta, blobs: blobs}
}

// ArtifactPrefix 返回某次运行的制品前缀。
func ArtifactPrefix(experimentName, runName, artifact string) string {
	return datastore.FolderPrefix(experimentName + "/" + runName + "/" + artifact)
}

// ModelFileName 返回内存模型保存时使用的文件名。
func ModelFileName(kind models.ModelKind) string {
	switch kind {
	case models.ModelKindLinear:
		return "model.json"
	case models.ModelKindONNX:
		return "model.onnx"
	case models.ModelKindSklearn:
		return "model.pkl"
	case models.ModelKindTensorflow:
		return "model.keras"
	case models.ModelKindPytorch:
		return "model.pt"
	default:
		return "model.bin"
	}
}

func storesModel(kind models.ModelKind) bool {
	return kind != "" && kind != models.ModelKindOther && kind != models.ModelKindNone
}

// StoreModel 上传模型和制品并记录运行，返回运行名。
func (r *Registry) StoreModel(ctx context.Context, req StoreModelRequest) (string, error) {
	if req.ExperimentName == "" {
		return "", fmt.Errorf("experiment name is required")
	}
	if req.ModelKind != "" && !req.ModelKind.Valid() {
		return "", fmt.Errorf("unknown model kind %q", req.ModelKind)
	}
	runName := req.RunName
	if runName == "" {
		runName = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	modelName := req.ModelName
	if modelName == "" {
		modelName = req.ExperimentName
	}

	tags := make(map[string]interface{}, len(req.Tags)+1)
	for k, v := range req.Tags {
		tags[k] = v
	}
	tags["model_type"] = string(req.ModelKind)

	var artifacts []string
	for name, src := range req.Artifacts {
		if err := r.storeLocal(ctx, ArtifactPrefix(req.ExperimentName, runName, name), src); err != nil {
			return "", fmt.Errorf("store artifact %q: %w", name, err)
		}
		artifacts = append(artifacts, name)
	}
	for name, src := range req.Datasets {
		artifact := "dataset_" + name
		if err := r.storeLocal(ctx, ArtifactPrefix(req.ExperimentName, runName, artifact), src); err != nil {
			return "", fmt.Errorf("store dataset %q: %w", name, err)
		}
		artifacts = append(artifacts, artifact)
	}

	register := storesModel(req.ModelKind) && (len(req.Model) > 0 || req.ModelPath != "")
	if register {
		prefix := ArtifactPrefix(req.ExperimentName, runName, ModelArtifact)
		var err error
		if len(req.Model) > 0 {
			fileName := ModelFileName(req.ModelKind)
			err = r.blobs.StoreObject(ctx, prefix+fileName, req.Model, fileName, "")
		} else {
			err = r.storeLocal(ctx, prefix, req.ModelPath)
		}
		if err != nil {
			return "", fmt.Errorf("store model: %w", err)
		}
		artifacts = append(artifacts, ModelArtifact)
	}

	metrics := make(map[string]interface{}, len(req.Metrics))
	for k, v := range req.Metrics {
		metrics[k] = v
	}
	run := &models.ModelRun{
		RunName:         runName,
		ExperimentName:  req.ExperimentName,
		ModelKind:       req.ModelKind,
		Hyperparameters: req.Hyperparameters,
		Metrics:         metrics,
		Tags:            tags,
		Artifacts:       artifacts,
	}
	if register {
		run.ModelName = modelName
	}
	if err := r.meta.CreateRun(ctx, run, register); err != nil {
		return "", err
	}
	return runName, nil
}

// storeLocal 上传本地文件或目录到 prefix 下。单个文件保留其文件名。
func (r *Registry) storeLocal(ctx context.Context, prefix, src string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return r.blobs.StoreFileOrFolder(ctx, prefix, src)
	}
	return r.blobs.StoreFileOrFolder(ctx, prefix+filepath.Base(src), src)
}

// GetArtifact 下载某个模型的制品。模型必须已有 production 版本；runName 为空时使用该版本的运行。
func (r *Registry) GetArtifact(ctx context.Context, saveTo, modelName, experimentName, runName, artifactPath string) (string, error) {
	production, err := r.meta.FindStage(ctx, modelName, models.StageProduction)
	if err != nil {
		return "", err
	}
	if artifactPath == "" {
		artifactPath = ModelArtifact
	}

	var run *models.ModelRun
	if runName != "" {
		run, err = r.meta.FindRun(ctx, runName)
		if err != nil {
			return "", err
		}
		if experimentName != "" && run.ExperimentName != experimentName {
			return "", ErrRunNotFound
		}
	} else {
		run, err = r.meta.FindRun(ctx, production.RunName)
		if err != nil {
			return "", err
		}
	}
	return r.download(ctx, run, artifactPath, filepath.Join(saveTo, artifactPath))
}

func (r *Registry) download(ctx context.Context, run *models.ModelRun, artifact, saveTo string) (string, error) {
	p, err := r.blobs.LoadFolderToFilesystem(ctx, ArtifactPrefix(run.ExperimentName, run.RunName, artifact), saveTo)
	if errors.Is(err, datastore.ErrNotFound) {
		return "", fmt.Errorf("artifact %q of run %s: %w", artifact, run.RunName, ErrRunNotFound)
	}
	return p, err
}

// ListModels 返回所有已注册的模型及其阶段。
func (r *Registry) ListModels(ctx context.Context) ([]models.RegisteredModel, error) {
	stages, err := r.meta.ListStages(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*models.RegisteredModel)
	var order []string
	for _, s := range stages {
		m, ok := byName[s.ModelName]
		if !ok {
			m = &models.RegisteredModel{Name: s.ModelName, Stages: map[string]string{}}
			byName[s.ModelName] = m
			order = append(order, s.ModelName)
		}
		m.Stages[s.Stage] = s.RunName
	}
	out := make([]models.RegisteredModel, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	return out, nil
}

// LoadStageArtifact 下载模型某个阶段的模型文件到 saveTo 下，返回运行信息和本地目录。
func (r *Registry) LoadStageArtifact(ctx context.Context, modelName, stage, saveTo string) (*models.ModelRun, string, error) {
	st, err := r.meta.FindStage(ctx, modelName, stage)
	if err != nil {
		return nil, "", err
	}
	return r.LoadRunArtifact(ctx, st.RunName, saveTo)
}

// LoadRunArtifact 下载某次运行的模型文件到 saveTo/<runName>。
func (r *Registry) LoadRunArtifact(ctx context.Context, runName, saveTo string) (*models.ModelRun, string, error) {
	run, err := r.meta.FindRun(ctx, runName)
	if err != nil {
		return nil, "", err
	}
	p, err := r.download(ctx, run, ModelArtifact, filepath.Join(saveTo, run.RunName))
	if err != nil {
		return nil, "", err
	}
	return run, p, nil
}

// TransitionStage 将模型的某个阶段指向 runName。运行必须属于该模型。
func (r *Registry) TransitionStage(ctx context.Context, modelName, stage, runName string) error {
	if !models.ValidStage(stage) {
		return fmt.Errorf("unknown stage %q", stage)
	}
	run, err := r.meta.FindRun(ctx, runName)
	if err != nil {
		return err
	}
	if run.ModelName != modelName {
		return fmt.Errorf("run %s does not belong to model %s: %w", runName, modelName, ErrRunNotFound)
	}
	return r.meta.SetStage(ctx, modelName, stage, runName)
}
