package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPermissionAudit runs the permission drift audit.
	TaskPermissionAudit = "rbac:permission_audit"
)

// PermissionAuditPayload describes who asked for an audit run.
type PermissionAuditPayload struct {
	RequestedBy string `json:"requestedBy,omitempty"`
}

// NewPermissionAuditTask constructs an Asynq task.
func NewPermissionAuditTask(payload PermissionAuditPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPermissionAudit, data, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}
