package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/iac-studio/dbstack/internal/models"
	"github.com/iac-studio/dbstack/internal/provisioner"
	"github.com/iac-studio/dbstack/internal/queue"
	"github.com/iac-studio/dbstack/internal/services"
	"github.com/iac-studio/dbstack/internal/synth"
	appErr "github.com/iac-studio/dbstack/pkg/errors"
	"github.com/iac-studio/dbstack/pkg/logger"
)

// ProvisionTaskHandler handles deploy and destroy tasks.
type ProvisionTaskHandler struct {
	provisioner provisioner.Provisioner
	deploySvc   services.DeploymentService
}

func NewProvisionTaskHandler(prov provisioner.Provisioner, deploySvc services.DeploymentService) *ProvisionTaskHandler {
	return &ProvisionTaskHandler{provisioner: prov, deploySvc: deploySvc}
}

// Register binds the handlers to their task types.
func (h *ProvisionTaskHandler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(queue.TypeStackDeploy, h.HandleDeploy)
	mux.HandleFunc(queue.TypeStackDestroy, h.HandleDestroy)
}

func (h *ProvisionTaskHandler) HandleDeploy(ctx context.Context, t *asynq.Task) error {
	id, err := queue.ParseDeploymentPayload(t.Payload())
	if err != nil {
		logger.L().Error("invalid deploy task payload", zap.Error(err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	log := logger.L().With(zap.String("deployment_id", id.String()))
	log.Info("handling deploy task")

	d, err := h.deploySvc.GetDeployment(ctx, id)
	if err != nil {
		log.Error("get deployment failed", zap.Error(err))
		return err
	}
	if !d.Active() {
		log.Info("deployment already finished", zap.String("status", d.Status))
		return nil
	}

	if err := h.deploySvc.UpdateDeploymentStatus(ctx, id, models.StatusPlanning); err != nil {
		log.Warn("update status planning failed", zap.Error(err))
	}
	tpl, err := synth.ParseTemplate(d.Template)
	if err == nil {
		err = synth.Validate(tpl)
	}
	if err != nil {
		log.Error("stored template is unusable", zap.Error(err))
		return h.fail(ctx, id, "deploy", err)
	}

	if err := h.deploySvc.UpdateDeploymentStatus(ctx, id, models.StatusApplying); err != nil {
		log.Warn("update status applying failed", zap.Error(err))
	}
	res, err := h.provisioner.Apply(ctx, &provisioner.Deployment{
		ID:        id,
		StackName: d.StackName,
		Template:  tpl,
		Tags:      map[string]string{"stack": d.StackName},
	})
	if err != nil {
		log.Error("apply failed", zap.Error(err))
		return h.fail(ctx, id, "apply", err)
	}

	msg := "apply completed"
	if res.NoChanges {
		msg = "stack already up to date"
	}
	h.appendLog(ctx, id, "info", msg, map[string]any{"stack_status": res.StackStatus, "outputs": res.Outputs})
	if err := h.deploySvc.FinishDeployment(ctx, id, models.StatusCompleted, res); err != nil {
		log.Error("record completed deployment failed", zap.Error(err))
		return err
	}
	return nil
}

func (h *ProvisionTaskHandler) HandleDestroy(ctx context.Context, t *asynq.Task) error {
	id, err := queue.ParseDeploymentPayload(t.Payload())
	if err != nil {
		logger.L().Error("invalid destroy task payload", zap.Error(err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	log := logger.L().With(zap.String("deployment_id", id.String()))
	log.Info("handling destroy task")

	d, err := h.deploySvc.GetDeployment(ctx, id)
	if err != nil {
		log.Error("get deployment failed", zap.Error(err))
		return err
	}
	if !d.Active() {
		log.Info("deployment already finished", zap.String("status", d.Status))
		return nil
	}

	if err := h.deploySvc.UpdateDeploymentStatus(ctx, id, models.StatusDestroying); err != nil {
		log.Warn("update status destroying failed", zap.Error(err))
	}
	res, err := h.provisioner.Destroy(ctx, d.StackName)
	if err != nil {
		log.Error("destroy failed", zap.Error(err))
		return h.fail(ctx, id, "destroy", err)
	}

	h.appendLog(ctx, id, "info", "destroy completed", map[string]any{"stack_status": res.StackStatus})
	if err := h.deploySvc.FinishDeployment(ctx, id, models.StatusDestroyed, res); err != nil {
		log.Error("record destroyed stack failed", zap.Error(err))
		return err
	}
	return nil
}

// fail records err on the deployment. Transient provider errors are retried
// while redeliveries remain; the record goes back to pending meanwhile.
func (h *ProvisionTaskHandler) fail(ctx context.Context, id uuid.UUID, step string, err error) error {
	h.appendLog(ctx, id, "error", fmt.Sprintf("%s error: %v", step, err), nil)

	if retryable(err) && retriesLeft(ctx) {
		if uerr := h.deploySvc.UpdateDeploymentStatus(ctx, id, models.StatusPending); uerr != nil {
			logger.L().Warn("update status pending failed", zap.Error(uerr))
		}
		return err
	}
	if ferr := h.deploySvc.FailDeployment(ctx, id, err); ferr != nil {
		logger.L().Error("record failed deployment failed", zap.Error(ferr))
	}
	return fmt.Errorf("%w: %w", asynq.SkipRetry, err)
}

func (h *ProvisionTaskHandler) appendLog(ctx context.Context, id uuid.UUID, level, msg string, data map[string]any) {
	entry := services.DeploymentLog{Timestamp: time.Now().UTC(), Level: level, Message: msg, Data: data}
	if err := h.deploySvc.AppendLog(ctx, id, entry); err != nil {
		logger.L().Warn("append deployment log failed", zap.Error(err), zap.String("deployment_id", id.String()))
	}
}

func retryable(err error) bool {
	switch appErr.CodeOf(err) {
	case appErr.CodeUnavailable, appErr.CodeDeadline, appErr.CodeConflict:
		return true
	}
	return false
}

func retriesLeft(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return false
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	return ok && retried < maxRetry
}
