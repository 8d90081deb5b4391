// Package queue defines the background task types shared by the API and the worker.
package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Task types.
const (
	TypeStackDeploy  = "stack:deploy"
	TypeStackDestroy = "stack:destroy"
)

// Queues served by the worker, with their asynq priorities.
const (
	QueueDeployments = "deployments"
	QueueDefault     = "default"
)

// DefaultMaxRetry bounds redeliveries of a failed provisioning task.
const DefaultMaxRetry = 3

// Queues maps queue names to priorities for asynq.Config.
func Queues() map[string]int {
	return map[string]int{
		QueueDeployments: 6,
		QueueDefault:     1,
	}
}

// DeploymentPayload is the payload of deploy and destroy tasks.
type DeploymentPayload struct {
	DeploymentID string `json:"deployment_id"`
}

// NewDeploymentTask builds a task for the deployment record id. The task id
// is the record id, so enqueueing the same record twice is rejected by asynq.
func NewDeploymentTask(typ string, id uuid.UUID, timeout time.Duration) (*asynq.Task, error) {
	b, err := json.Marshal(DeploymentPayload{DeploymentID: id.String()})
	if err != nil {
		return nil, err
	}
	opts := []asynq.Option{
		asynq.Queue(QueueDeployments),
		asynq.MaxRetry(DefaultMaxRetry),
		asynq.TaskID(id.String()),
	}
	if timeout > 0 {
		opts = append(opts, asynq.Timeout(timeout))
	}
	return asynq.NewTask(typ, b, opts...), nil
}

// ParseDeploymentPayload decodes a task payload into the record id.
func ParseDeploymentPayload(b []byte) (uuid.UUID, error) {
	var p DeploymentPayload
	if err := json.Unmarshal(b, &p); err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(p.DeploymentID)
}
