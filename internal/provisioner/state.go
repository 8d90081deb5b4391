package provisioner

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/iac-studio/dbstack/internal/models"
	"github.com/iac-studio/dbstack/internal/repository"
	appErr "github.com/iac-studio/dbstack/pkg/errors"
)

// State is what the provisioner records about a finished deployment.
type State struct {
	StackID        string
	StackStatus    string
	TemplateDigest string
	Outputs        map[string]string
}

// StateStore handles deployment state persistence
type StateStore interface {
	SaveState(ctx context.Context, deploymentID uuid.UUID, state *State) error
	GetState(ctx context.Context, deploymentID uuid.UUID) (*State, error)
}

type DatabaseStateStore struct {
	deploymentRepo repository.DeploymentRepository
}

func NewDatabaseStateStore(deploymentRepo repository.DeploymentRepository) *DatabaseStateStore {
	return &DatabaseStateStore{
		deploymentRepo: deploymentRepo,
	}
}

// SaveState writes only the provider columns of the deployment, so status and
// timestamps recorded by the service are left alone.
func (s *DatabaseStateStore) SaveState(ctx context.Context, deploymentID uuid.UUID, state *State) error {
	if state == nil {
		state = &State{}
	}
	fields := map[string]any{
		"stack_id":     state.StackID,
		"stack_status": state.StackStatus,
	}
	if state.TemplateDigest != "" {
		fields["template_digest"] = state.TemplateDigest
	}
	if state.Outputs != nil {
		b, err := json.Marshal(state.Outputs)
		if err != nil {
			return appErr.Wrap(err, appErr.CodeInternal, "marshal outputs failed")
		}
		fields["outputs"] = datatypes.JSON(b)
	}
	return s.deploymentRepo.UpdateFields(ctx, deploymentID, fields)
}

// GetState returns nil when the deployment has not reached the provider yet.
func (s *DatabaseStateStore) GetState(ctx context.Context, deploymentID uuid.UUID) (*State, error) {
	var d models.Deployment
	if err := s.deploymentRepo.GetByID(ctx, deploymentID, &d); err != nil {
		return nil, err
	}
	if d.StackStatus == "" {
		return nil, nil
	}
	st := &State{
		StackID:        d.StackID,
		StackStatus:    d.StackStatus,
		TemplateDigest: d.TemplateDigest,
	}
	if len(d.Outputs) > 0 {
		if err := json.Unmarshal(d.Outputs, &st.Outputs); err != nil {
			return nil, appErr.Wrap(err, appErr.CodeInternal, "unmarshal outputs failed")
		}
	}
	return st, nil
}
