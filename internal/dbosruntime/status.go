package dbosruntime

import (
	"context"
	"database/sql"
	"time"

	"gitlab.com/tozd/go/errors"
)

// ErrWorkflowNotFound is returned when the status table has no such workflow
var ErrWorkflowNotFound = errors.New("dbos workflow not found")

// WorkflowStatusInfo is one row of dbos.workflow_status
type WorkflowStatusInfo struct {
	WorkflowUUID string
	Status       string
	Name         string
	QueueName    string
	Error        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

const statusQuery = `
	SELECT workflow_uuid, status, name, COALESCE(queue_name, ''), COALESCE(error, ''),
	       created_at, updated_at
	FROM dbos.workflow_status
	WHERE workflow_uuid = $1`

// GetWorkflowStatus reads the recorded state of a run. Timestamps are stored
// as epoch milliseconds.
func (r *Runtime) GetWorkflowStatus(ctx context.Context, workflowUUID string) (*WorkflowStatusInfo, error) {
	var (
		info             WorkflowStatusInfo
		created, updated int64
	)
	err := r.status.QueryRowContext(ctx, statusQuery, workflowUUID).Scan(
		&info.WorkflowUUID, &info.Status, &info.Name, &info.QueueName, &info.Error,
		&created, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Errorf("%w: %s", ErrWorkflowNotFound, workflowUUID)
	}
	if err != nil {
		return nil, errors.Errorf("failed to query workflow status: %w", err)
	}

	info.CreatedAt = time.UnixMilli(created).UTC()
	info.UpdatedAt = time.UnixMilli(updated).UTC()
	return &info, nil
}
