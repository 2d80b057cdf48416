package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"genflow/internal/domain"
	"genflow/internal/infra"
	"genflow/internal/sqlinline"
)

// TaskRepositoryPG implements domain.TaskRepository.
type TaskRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewTaskRepository creates a new task repository backed by PostgreSQL.
func NewTaskRepository(sql infra.SQLExecutor) *TaskRepositoryPG {
	return &TaskRepositoryPG{sql: sql}
}

// Create inserts a new task record.
func (r *TaskRepositoryPG) Create(ctx context.Context, task *domain.Task) error {
	_, err := r.sql.Exec(ctx, sqlinline.QInsertTask,
		task.ID,
		task.UserID,
		string(task.Provider),
		task.ExternalTaskID,
		string(task.MediaType),
		task.Model,
		string(task.Status),
		nullableJSON(task.Params),
		nullableJSON(task.TaskInfo),
		nullableJSON(task.TaskResult),
		task.CreditID,
		task.CreditAmount,
		task.CreatedAt,
	)
	if err != nil {
		if infra.IsUniqueViolation(err, sqlinline.ConstraintTaskExternalID) {
			return domain.ErrDuplicateTask
		}
		return domain.Persistence("insert task", err)
	}
	return nil
}

// GetByID fetches a task by its identifier.
func (r *TaskRepositoryPG) GetByID(ctx context.Context, taskID string) (*domain.Task, error) {
	return scanTask(r.sql.QueryRow(ctx, sqlinline.QSelectTaskByID, taskID))
}

// GetByExternalID fetches a task by the vendor-assigned identifier.
func (r *TaskRepositoryPG) GetByExternalID(ctx context.Context, provider domain.ProviderName, externalTaskID string) (*domain.Task, error) {
	return scanTask(r.sql.QueryRow(ctx, sqlinline.QSelectTaskByExternalID, string(provider), externalTaskID))
}

// UpdateIfActive writes the reconciled state while the stored status is
// still non-terminal.
func (r *TaskRepositoryPG) UpdateIfActive(ctx context.Context, task *domain.Task) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QUpdateTaskIfActive,
		task.ID,
		string(task.Status),
		nullableJSON(task.TaskInfo),
		nullableJSON(task.TaskResult),
		task.UpdatedAt,
	)
	if err != nil {
		return false, domain.Persistence("update task", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListActive returns non-terminal tasks, oldest first.
func (r *TaskRepositoryPG) ListActive(ctx context.Context, limit int) ([]*domain.Task, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QSelectActiveTasks, limit)
	if err != nil {
		return nil, domain.Persistence("list active tasks", err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Persistence("list active tasks", err)
	}
	return tasks, nil
}

func scanTask(row pgx.Row) (*domain.Task, error) {
	var (
		task                        domain.Task
		provider, mediaType, status string
		params, info, result        []byte
		createdAt, updatedAt        time.Time
	)
	if err := row.Scan(
		&task.ID,
		&task.UserID,
		&provider,
		&task.ExternalTaskID,
		&mediaType,
		&task.Model,
		&status,
		&params,
		&info,
		&result,
		&task.CreditID,
		&task.CreditAmount,
		&createdAt,
		&updatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.Persistence("scan task", err)
	}
	task.Provider = domain.ProviderName(provider)
	task.MediaType = domain.MediaType(mediaType)
	task.Status = domain.TaskStatus(status)
	task.Params = rawOrNil(params)
	task.TaskInfo = rawOrNil(info)
	task.TaskResult = rawOrNil(result)
	task.CreatedAt = createdAt
	task.UpdatedAt = updatedAt
	return &task, nil
}

func nullableJSON(b json.RawMessage) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

func rawOrNil(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	return append(json.RawMessage(nil), b...)
}

var _ domain.TaskRepository = (*TaskRepositoryPG)(nil)
