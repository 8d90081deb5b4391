package types

type DeploymentCreateRequest struct {
	StackName string `json:"stack_name" validate:"omitempty,max=128"`
}

// DestroyRequest must set Confirm, mirroring the CLI's --yes.
type DestroyRequest struct {
	StackName string `json:"stack_name" validate:"omitempty,max=128"`
	Confirm   bool   `json:"confirm" validate:"required"`
}
