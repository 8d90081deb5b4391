package provisioner

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/iac-studio/dbstack/internal/models"
	"github.com/iac-studio/dbstack/internal/repository"
	appErr "github.com/iac-studio/dbstack/pkg/errors"
)

type mockDeploymentRepository struct {
	mock.Mock
}

func (m *mockDeploymentRepository) Create(ctx context.Context, obj *models.Deployment) error {
	return m.Called(ctx, obj).Error(0)
}

func (m *mockDeploymentRepository) GetByID(ctx context.Context, id any, dest *models.Deployment) error {
	args := m.Called(ctx, id, dest)
	if args.Error(0) == nil && args.Get(1) != nil {
		*dest = *args.Get(1).(*models.Deployment)
	}
	return args.Error(0)
}

func (m *mockDeploymentRepository) Update(ctx context.Context, obj *models.Deployment) error {
	return m.Called(ctx, obj).Error(0)
}

func (m *mockDeploymentRepository) Delete(ctx context.Context, id any) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockDeploymentRepository) ListByStack(ctx context.Context, stackName string, filter repository.DeploymentFilter) ([]models.Deployment, error) {
	args := m.Called(ctx, stackName, filter)
	out, _ := args.Get(0).([]models.Deployment)
	return out, args.Error(1)
}

func (m *mockDeploymentRepository) GetLatestByStack(ctx context.Context, stackName string, dest *models.Deployment) error {
	return m.Called(ctx, stackName, dest).Error(0)
}

func (m *mockDeploymentRepository) UpdateStatus(ctx context.Context, deploymentID uuid.UUID, status string) error {
	return m.Called(ctx, deploymentID, status).Error(0)
}

func (m *mockDeploymentRepository) UpdateFields(ctx context.Context, deploymentID uuid.UUID, fields map[string]any) error {
	return m.Called(ctx, deploymentID, fields).Error(0)
}

func TestSaveStateWritesProviderColumnsOnly(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		name  string
		state *State
		want  map[string]any
	}{
		{
			name: "full state",
			state: &State{
				StackID:        "arn:aws:cloudformation:eu-west-1:123456789012:stack/dev-db/abc",
				StackStatus:    "CREATE_COMPLETE",
				TemplateDigest: "abc123",
				Outputs:        map[string]string{"DBEndpoint": "db.internal"},
			},
			want: map[string]any{
				"stack_id":        "arn:aws:cloudformation:eu-west-1:123456789012:stack/dev-db/abc",
				"stack_status":    "CREATE_COMPLETE",
				"template_digest": "abc123",
				"outputs":         datatypes.JSON(`{"DBEndpoint":"db.internal"}`),
			},
		},
		{
			name:  "digest and outputs left untouched",
			state: &State{StackStatus: "DELETE_COMPLETE"},
			want:  map[string]any{"stack_id": "", "stack_status": "DELETE_COMPLETE"},
		},
		{
			name:  "nil state clears stack columns",
			state: nil,
			want:  map[string]any{"stack_id": "", "stack_status": ""},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockDeploymentRepository{}
			repo.On("UpdateFields", mock.Anything, id, tt.want).Return(nil).Once()

			require.NoError(t, NewDatabaseStateStore(repo).SaveState(context.Background(), id, tt.state))
			repo.AssertExpectations(t)
			repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
			repo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestSaveStateMissingDeployment(t *testing.T) {
	id := uuid.New()
	repo := &mockDeploymentRepository{}
	repo.On("UpdateFields", mock.Anything, id, mock.Anything).Return(appErr.New(appErr.CodeNotFound, "deployment not found")).Once()

	err := NewDatabaseStateStore(repo).SaveState(context.Background(), id, &State{StackStatus: "CREATE_COMPLETE"})
	require.Error(t, err)
	assert.True(t, appErr.IsCode(err, appErr.CodeNotFound))
}

func TestGetState(t *testing.T) {
	id := uuid.New()

	t.Run("not provisioned yet", func(t *testing.T) {
		repo := &mockDeploymentRepository{}
		repo.On("GetByID", mock.Anything, id, mock.Anything).Return(nil, &models.Deployment{ID: id}).Once()

		st, err := NewDatabaseStateStore(repo).GetState(context.Background(), id)
		require.NoError(t, err)
		assert.Nil(t, st)
	})

	t.Run("recorded", func(t *testing.T) {
		repo := &mockDeploymentRepository{}
		repo.On("GetByID", mock.Anything, id, mock.Anything).Return(nil, &models.Deployment{
			ID:             id,
			StackStatus:    "UPDATE_COMPLETE",
			TemplateDigest: "abc123",
			Outputs:        datatypes.JSON(`{"DBPort":"3306"}`),
		}).Once()

		st, err := NewDatabaseStateStore(repo).GetState(context.Background(), id)
		require.NoError(t, err)
		require.NotNil(t, st)
		assert.Equal(t, "UPDATE_COMPLETE", st.StackStatus)
		assert.Equal(t, "3306", st.Outputs["DBPort"])
	})
}
