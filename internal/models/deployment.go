package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Deployment actions.
const (
	ActionDeploy  = "deploy"
	ActionDestroy = "destroy"
)

// Deployment statuses.
const (
	StatusPending    = "pending"
	StatusPlanning   = "planning"
	StatusApplying   = "applying"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusDestroying = "destroying"
	StatusDestroyed  = "destroyed"
)

// Deployment records one deploy or destroy run of a stack.
type Deployment struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	StackName      string         `gorm:"type:varchar(128);index;not null" json:"stack_name" validate:"required,max=128"`
	Region         string         `gorm:"type:varchar(32)" json:"region"`
	Action         string         `gorm:"type:varchar(16);not null" json:"action" validate:"required,oneof=deploy destroy"`
	Status         string         `gorm:"type:varchar(32);index;not null" json:"status" validate:"required,oneof=pending planning applying completed failed destroying destroyed"`
	StackID        string         `gorm:"type:varchar(256)" json:"stack_id,omitempty"`
	StackStatus    string         `gorm:"type:varchar(64)" json:"stack_status,omitempty"`
	TemplateDigest string         `gorm:"type:char(64);index" json:"template_digest,omitempty"`
	Template       datatypes.JSON `gorm:"type:jsonb" json:"template,omitempty"`
	Outputs        datatypes.JSON `gorm:"type:jsonb" json:"outputs,omitempty"`
	Logs           datatypes.JSON `gorm:"type:jsonb" json:"logs,omitempty"`
	Error          string         `gorm:"type:text" json:"error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

// Active reports whether a worker still owns the deployment.
func (d *Deployment) Active() bool {
	switch d.Status {
	case StatusPending, StatusPlanning, StatusApplying, StatusDestroying:
		return true
	}
	return false
}
