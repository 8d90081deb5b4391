package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/iac-studio/dbstack/internal/models"
	appErr "github.com/iac-studio/dbstack/pkg/errors"
)

type DeploymentRepository interface {
	BaseRepository[models.Deployment]
	ListByStack(ctx context.Context, stackName string, filter DeploymentFilter) ([]models.Deployment, error)
	GetLatestByStack(ctx context.Context, stackName string, dest *models.Deployment) error
	UpdateStatus(ctx context.Context, deploymentID uuid.UUID, status string) error
	UpdateFields(ctx context.Context, deploymentID uuid.UUID, fields map[string]any) error
}

// DeploymentFilter narrows ListByStack. Zero values mean no filter; Limit
// defaults to 50.
type DeploymentFilter struct {
	Status string
	Limit  int
	Offset int
}

type deploymentRepository struct {
	BaseRepository[models.Deployment]
	db *gorm.DB
}

func NewDeploymentRepository(db *gorm.DB) DeploymentRepository {
	return &deploymentRepository{BaseRepository: NewBaseRepository[models.Deployment](db), db: db}
}

func (r *deploymentRepository) ListByStack(ctx context.Context, stackName string, filter DeploymentFilter) ([]models.Deployment, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	q := r.db.WithContext(ctx).Where("stack_name = ?", stackName)
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	var out []models.Deployment
	if err := q.Order("created_at DESC").Limit(limit).Offset(filter.Offset).Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list deployments failed")
	}
	return out, nil
}

func (r *deploymentRepository) GetLatestByStack(ctx context.Context, stackName string, dest *models.Deployment) error {
	if err := r.db.WithContext(ctx).Where("stack_name = ?", stackName).Order("created_at DESC").First(dest).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return appErr.New(appErr.CodeNotFound, "no deployments found")
		}
		return appErr.Wrap(err, appErr.CodeInternal, "get latest deployment failed")
	}
	return nil
}

func (r *deploymentRepository) UpdateStatus(ctx context.Context, deploymentID uuid.UUID, status string) error {
	return r.UpdateFields(ctx, deploymentID, map[string]any{"status": status})
}

func (r *deploymentRepository) UpdateFields(ctx context.Context, deploymentID uuid.UUID, fields map[string]any) error {
	res := r.db.WithContext(ctx).Model(&models.Deployment{}).Where("id = ?", deploymentID).Updates(fields)
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "update deployment failed")
	}
	if res.RowsAffected == 0 {
		return appErr.New(appErr.CodeNotFound, "deployment not found")
	}
	return nil
}
