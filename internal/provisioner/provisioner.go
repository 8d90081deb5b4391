package provisioner

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/iac-studio/dbstack/internal/synth"
)

// ErrInvalidInput is returned for deployments without a stack name or template.
var ErrInvalidInput = errors.New("invalid input")

// Provisioner submits synthesized templates to the cloud provider.
type Provisioner interface {
	// Plan previews the changes a deployment would make without applying them.
	Plan(ctx context.Context, d *Deployment) (*Plan, error)

	// Apply creates or updates the stack and waits for it to settle.
	Apply(ctx context.Context, d *Deployment) (*Result, error)

	// Destroy deletes the stack and waits for the deletion to finish.
	Destroy(ctx context.Context, stackName string) (*Result, error)

	// Outputs reads the outputs of a deployed stack.
	Outputs(ctx context.Context, stackName string) (map[string]string, error)

	// DeployedTemplate returns the template the stack was last deployed with.
	DeployedTemplate(ctx context.Context, stackName string) (*synth.Template, error)
}

// Deployment is one request to bring a stack to a template.
type Deployment struct {
	ID        uuid.UUID
	StackName string
	Template  *synth.Template
	Tags      map[string]string
}

func (d *Deployment) validate() error {
	if d == nil || d.StackName == "" || d.Template == nil {
		return ErrInvalidInput
	}
	return nil
}

type Plan struct {
	StackName    string   `json:"stack_name"`
	Create       bool     `json:"create"`
	Replaces     bool     `json:"replaces,omitempty"`
	Changes      int      `json:"changes"`
	ResourceAdds int      `json:"resource_adds"`
	ResourceMods int      `json:"resource_mods"`
	ResourceDels int      `json:"resource_dels"`
	Details      []Change `json:"details,omitempty"`
}

// Change is one resource action reported by the provider.
type Change struct {
	LogicalID   string `json:"logical_id"`
	Type        string `json:"type"`
	Action      string `json:"action"`
	Replacement string `json:"replacement,omitempty"`
}

type Result struct {
	Success        bool              `json:"success"`
	StackID        string            `json:"stack_id,omitempty"`
	StackStatus    string            `json:"stack_status,omitempty"`
	TemplateDigest string            `json:"template_digest,omitempty"`
	Outputs        map[string]string `json:"outputs,omitempty"`
	NoChanges      bool              `json:"no_changes,omitempty"`
	ErrorMessage   string            `json:"error_message,omitempty"`
}
