package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/iac-studio/dbstack/internal/models"
	"github.com/iac-studio/dbstack/internal/provisioner"
	"github.com/iac-studio/dbstack/internal/queue"
	"github.com/iac-studio/dbstack/internal/repository"
	"github.com/iac-studio/dbstack/internal/synth"
	"github.com/iac-studio/dbstack/pkg/config"
	appErr "github.com/iac-studio/dbstack/pkg/errors"
	"github.com/iac-studio/dbstack/pkg/logger"
)

// Deployment service interface and DTOs
type DeploymentService interface {
	// Deployment lifecycle
	CreateDeployment(ctx context.Context, input *CreateDeploymentInput) (*models.Deployment, error)
	DestroyStack(ctx context.Context, input *DestroyStackInput) (*models.Deployment, error)
	GetDeployment(ctx context.Context, deploymentID uuid.UUID) (*models.Deployment, error)
	ListDeployments(ctx context.Context, stackName string, filters *DeploymentFilters) ([]models.Deployment, error)
	GetDeploymentLogs(ctx context.Context, deploymentID uuid.UUID) ([]DeploymentLog, error)

	// Status updates (called by worker)
	UpdateDeploymentStatus(ctx context.Context, deploymentID uuid.UUID, status string) error
	SaveOutputs(ctx context.Context, deploymentID uuid.UUID, outputs map[string]string) error
	FinishDeployment(ctx context.Context, deploymentID uuid.UUID, status string, res *provisioner.Result) error
	FailDeployment(ctx context.Context, deploymentID uuid.UUID, cause error) error
	AppendLog(ctx context.Context, deploymentID uuid.UUID, log DeploymentLog) error
}

// TaskEnqueuer is the part of *asynq.Client the service needs.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type CreateDeploymentInput struct {
	// StackName defaults to the configured stack.
	StackName string
}

type DestroyStackInput struct {
	StackName string
}

type DeploymentFilters struct {
	Status   string
	Page     int
	PageSize int
}

type DeploymentLog struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// taskTimeoutMargin leaves the provisioner room to record a timed out run
// before asynq cancels the handler.
const taskTimeoutMargin = 2 * time.Minute

type deploymentService struct {
	stackCfg    *config.StackConfig
	deployRepo  repository.DeploymentRepository
	asynqClient TaskEnqueuer
}

func NewDeploymentService(stackCfg *config.StackConfig, deployRepo repository.DeploymentRepository, client TaskEnqueuer) DeploymentService {
	return &deploymentService{stackCfg: stackCfg, deployRepo: deployRepo, asynqClient: client}
}

var _ DeploymentService = (*deploymentService)(nil)

func (s *deploymentService) stackName(name string) string {
	if name == "" {
		return s.stackCfg.StackName
	}
	return name
}

func (s *deploymentService) CreateDeployment(ctx context.Context, input *CreateDeploymentInput) (*models.Deployment, error) {
	if input == nil {
		input = &CreateDeploymentInput{}
	}
	name := s.stackName(input.StackName)
	logger.L().Info("create deployment", zap.String("stack", name))

	props := s.stackCfg.StackProps()
	props.Tags["stack"] = name
	tpl, err := synth.BuildDevDatabase(name, props)
	if err != nil {
		return nil, err
	}
	body, err := tpl.JSON()
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "render template failed")
	}
	digest, err := tpl.Digest()
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "digest template failed")
	}

	if err := s.ensureIdle(ctx, name); err != nil {
		return nil, err
	}

	d := &models.Deployment{
		StackName:      name,
		Region:         s.stackCfg.AWSRegion,
		Action:         models.ActionDeploy,
		Status:         models.StatusPending,
		TemplateDigest: digest,
		Template:       datatypes.JSON(body),
	}
	if err := s.deployRepo.Create(ctx, d); err != nil {
		return nil, err
	}
	if err := s.enqueue(ctx, queue.TypeStackDeploy, d); err != nil {
		return nil, err
	}

	logger.L().Info("deployment created and enqueued",
		zap.String("deployment_id", d.ID.String()),
		zap.String("stack", name),
		zap.String("template_digest", digest),
	)
	return d, nil
}

func (s *deploymentService) DestroyStack(ctx context.Context, input *DestroyStackInput) (*models.Deployment, error) {
	if input == nil {
		input = &DestroyStackInput{}
	}
	name := s.stackName(input.StackName)
	logger.L().Info("destroy stack requested", zap.String("stack", name))

	if err := s.ensureIdle(ctx, name); err != nil {
		return nil, err
	}

	d := &models.Deployment{
		StackName: name,
		Region:    s.stackCfg.AWSRegion,
		Action:    models.ActionDestroy,
		Status:    models.StatusPending,
	}
	if err := s.deployRepo.Create(ctx, d); err != nil {
		return nil, err
	}
	if err := s.enqueue(ctx, queue.TypeStackDestroy, d); err != nil {
		return nil, err
	}
	return d, nil
}

// ensureIdle rejects a new run while another one still owns the stack. The
// unique index on active runs catches the races this check misses.
func (s *deploymentService) ensureIdle(ctx context.Context, stackName string) error {
	var latest models.Deployment
	err := s.deployRepo.GetLatestByStack(ctx, stackName, &latest)
	switch {
	case appErr.IsCode(err, appErr.CodeNotFound):
		return nil
	case err != nil:
		return err
	case latest.Active():
		return appErr.Newf(appErr.CodeConflict, "deployment %s is still %s", latest.ID, latest.Status).
			WithMeta("deployment_id", latest.ID.String())
	}
	return nil
}

func (s *deploymentService) enqueue(ctx context.Context, typ string, d *models.Deployment) error {
	if s.asynqClient == nil {
		logger.L().Warn("asynq client not configured, skipping enqueue", zap.String("deployment_id", d.ID.String()))
		return nil
	}
	timeout := s.stackCfg.DeployTimeout
	if timeout > 0 {
		timeout += taskTimeoutMargin
	}
	task, err := queue.NewDeploymentTask(typ, d.ID, timeout)
	if err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "build task failed")
	}
	if _, err := s.asynqClient.EnqueueContext(ctx, task); err != nil {
		logger.L().Error("enqueue task failed", zap.Error(err), zap.String("type", typ), zap.String("deployment_id", d.ID.String()))
		_ = s.FailDeployment(ctx, d.ID, err)
		return appErr.Wrap(err, appErr.CodeUnavailable, "enqueue task failed")
	}
	return nil
}

func (s *deploymentService) GetDeployment(ctx context.Context, deploymentID uuid.UUID) (*models.Deployment, error) {
	var d models.Deployment
	if err := s.deployRepo.GetByID(ctx, deploymentID, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *deploymentService) ListDeployments(ctx context.Context, stackName string, filters *DeploymentFilters) ([]models.Deployment, error) {
	f := repository.DeploymentFilter{}
	if filters != nil {
		f.Status = filters.Status
		if filters.PageSize > 0 {
			f.Limit = filters.PageSize
			if filters.Page > 1 {
				f.Offset = (filters.Page - 1) * filters.PageSize
			}
		}
	}
	return s.deployRepo.ListByStack(ctx, s.stackName(stackName), f)
}

func (s *deploymentService) GetDeploymentLogs(ctx context.Context, deploymentID uuid.UUID) ([]DeploymentLog, error) {
	d, err := s.GetDeployment(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	out := []DeploymentLog{}
	if len(d.Logs) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(d.Logs, &out); err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "unmarshal logs failed")
	}
	return out, nil
}

func (s *deploymentService) UpdateDeploymentStatus(ctx context.Context, deploymentID uuid.UUID, status string) error {
	logger.L().Info("update deployment status", zap.String("deployment_id", deploymentID.String()), zap.String("status", status))
	return s.deployRepo.UpdateStatus(ctx, deploymentID, status)
}

func (s *deploymentService) SaveOutputs(ctx context.Context, deploymentID uuid.UUID, outputs map[string]string) error {
	b, err := json.Marshal(outputs)
	if err != nil {
		return appErr.Wrap(err, appErr.CodeInvalid, "marshal outputs failed")
	}
	return s.deployRepo.UpdateFields(ctx, deploymentID, map[string]any{"outputs": datatypes.JSON(b)})
}

// FinishDeployment moves the record to a terminal status and copies what the
// provider reported.
func (s *deploymentService) FinishDeployment(ctx context.Context, deploymentID uuid.UUID, status string, res *provisioner.Result) error {
	logger.L().Info("finish deployment", zap.String("deployment_id", deploymentID.String()), zap.String("status", status))
	fields := map[string]any{"status": status, "error": ""}
	if res != nil {
		if res.StackID != "" {
			fields["stack_id"] = res.StackID
		}
		if res.StackStatus != "" {
			fields["stack_status"] = res.StackStatus
		}
		if res.Outputs != nil {
			b, err := json.Marshal(res.Outputs)
			if err != nil {
				return appErr.Wrap(err, appErr.CodeInternal, "marshal outputs failed")
			}
			fields["outputs"] = datatypes.JSON(b)
		}
	}
	return s.deployRepo.UpdateFields(ctx, deploymentID, fields)
}

func (s *deploymentService) FailDeployment(ctx context.Context, deploymentID uuid.UUID, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	logger.L().Warn("deployment failed", zap.String("deployment_id", deploymentID.String()), zap.String("error", msg))
	fields := map[string]any{"status": models.StatusFailed, "error": msg}
	var ae *appErr.AppError
	if errors.As(cause, &ae) {
		if status, ok := ae.Meta["stack_status"].(string); ok {
			fields["stack_status"] = status
		}
	}
	return s.deployRepo.UpdateFields(ctx, deploymentID, fields)
}

// AppendLog adds an entry to the record's log array in one statement.
func (s *deploymentService) AppendLog(ctx context.Context, deploymentID uuid.UUID, entry DeploymentLog) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	b, err := json.Marshal([]DeploymentLog{entry})
	if err != nil {
		return appErr.Wrap(err, appErr.CodeInvalid, "marshal log failed")
	}
	return s.deployRepo.UpdateFields(ctx, deploymentID, map[string]any{
		"logs": gorm.Expr("COALESCE(logs, '[]'::jsonb) || ?::jsonb", string(b)),
	})
}
