package registry

import (
	"context"
	"errors"
	"fmt"

	"Chimp/backend/go/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore 是基于 GORM (MySQL) 的元数据存储。
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 创建 GormStore 并自动迁移 model_runs 与 model_stages 表。
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&models.ModelRun{}, &models.ModelStage{}); err != nil {
		return nil, fmt.Errorf("migrate model registry tables: %w", err)
	}
	return &GormStore{db: db}, nil
}

// CreateRun 在事务中创建运行记录。register 为 true 时该运行成为 staging，
// 并在模型还没有 production 版本时成为 production。
func (s *GormStore) CreateRun(ctx context.Context, run *models.ModelRun, register bool) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.ModelRun{}).Where("run_name = ?", run.RunName).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrRunExists
		}
		if err := tx.Create(run).Error; err != nil {
			return err
		}
		if !register {
			return nil
		}

		if err := upsertStage(tx, run.ModelName, models.StageStaging, run.RunName); err != nil {
			return err
		}
		// 锁定 production 行，避免两个并发注册都认为没有 production。
		var production models.ModelStage
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("model_name = ? AND stage = ?", run.ModelName, models.StageProduction).
			First(&production).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return upsertStage(tx, run.ModelName, models.StageProduction, run.RunName)
		}
		return err
	})
}

func upsertStage(tx *gorm.DB, modelName, stage, runName string) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "model_name"}, {Name: "stage"}},
		DoUpdates: clause.AssignmentColumns([]string{"run_name", "updated_at"}),
	}).Create(&models.ModelStage{ModelName: modelName, Stage: stage, RunName: runName}).Error
}

// FindRun 按运行名查找运行。
func (s *GormStore) FindRun(ctx context.Context, runName string) (*models.ModelRun, error) {
	var run models.ModelRun
	err := s.db.WithContext(ctx).Where("run_name = ?", runName).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// FindStage 查找模型某个阶段指向的运行。
func (s *GormStore) FindStage(ctx context.Context, modelName, stage string) (*models.ModelStage, error) {
	var st models.ModelStage
	err := s.db.WithContext(ctx).Where("model_name = ? AND stage = ?", modelName, stage).First(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrModelNotFound
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// SetStage 将模型的阶段指向 runName。
func (s *GormStore) SetStage(ctx context.Context, modelName, stage, runName string) error {
	return upsertStage(s.db.WithContext(ctx), modelName, stage, runName)
}

// ListStages 返回全部阶段记录。
func (s *GormStore) ListStages(ctx context.Context) ([]models.ModelStage, error) {
	var stages []models.ModelStage
	if err := s.db.WithContext(ctx).Order("model_name, stage").Find(&stages).Error; err != nil {
		return nil, err
	}
	return stages, nil
}
