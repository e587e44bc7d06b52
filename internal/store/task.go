package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/taskhive/apiserver/types"
)

// TaskRepository handles persistence for tasks. Every query that
// returns or mutates more than a single known id is parameterized by
// the owning user; there is no unscoped list.
type TaskRepository struct {
	db *sql.DB
}

func NewTaskRepository(db *sql.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

const taskColumns = `id, user_id, title, description, completed, attachment_name, attachment_type, created_at, completed_at`

func scanTask(row interface{ Scan(...any) error }) (types.Task, error) {
	var task types.Task
	var attachmentName, attachmentType sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(
		&task.ID,
		&task.OwnerID,
		&task.Title,
		&task.Description,
		&task.Completed,
		&attachmentName,
		&attachmentType,
		&task.CreatedAt,
		&completedAt,
	)
	if err != nil {
		return types.Task{}, err
	}
	task.AttachmentName = attachmentName.String
	task.AttachmentType = attachmentType.String
	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}
	return task, nil
}

// ListByOwner returns the owner's tasks, newest first.
func (r *TaskRepository) ListByOwner(ctx context.Context, ownerID string, offset, limit int) ([]types.Task, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 100
	}

	const query = `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE user_id = $1
		ORDER BY created_at DESC
		OFFSET $2 LIMIT $3`
	rows, err := r.db.QueryContext(ctx, query, ownerID, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := make([]types.Task, 0, limit)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

// CountByOwner returns total and completed counts for the owner.
func (r *TaskRepository) CountByOwner(ctx context.Context, ownerID string) (types.TaskStats, error) {
	const query = `
		SELECT COUNT(1), COUNT(1) FILTER (WHERE completed)
		FROM tasks
		WHERE user_id = $1`
	var stats types.TaskStats
	if err := r.db.QueryRowContext(ctx, query, ownerID).Scan(&stats.Total, &stats.Completed); err != nil {
		return types.TaskStats{}, err
	}
	stats.Pending = stats.Total - stats.Completed
	return stats, nil
}

func (r *TaskRepository) Get(ctx context.Context, id string) (types.Task, error) {
	const query = `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE id = $1`
	task, err := scanTask(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Task{}, ErrNotFound
		}
		return types.Task{}, err
	}
	return task, nil
}

func (r *TaskRepository) Create(ctx context.Context, task types.Task) (types.Task, error) {
	task.ID = uuid.NewString()
	task.CreatedAt = time.Now()

	const query = `
		INSERT INTO tasks (id, user_id, title, description, completed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := r.db.ExecContext(
		ctx,
		query,
		task.ID,
		task.OwnerID,
		task.Title,
		task.Description,
		task.Completed,
		task.CreatedAt,
	); err != nil {
		return types.Task{}, err
	}
	return task, nil
}

// Update persists title, description, completion state and the
// completion timestamp. The statement is scoped to the owner as well
// as the id; owner_id itself is never written.
func (r *TaskRepository) Update(ctx context.Context, task types.Task) (types.Task, error) {
	const query = `
		UPDATE tasks
		SET title = $1,
			description = $2,
			completed = $3,
			completed_at = $4
		WHERE id = $5 AND user_id = $6`
	result, err := r.db.ExecContext(
		ctx,
		query,
		task.Title,
		task.Description,
		task.Completed,
		task.CompletedAt,
		task.ID,
		task.OwnerID,
	)
	if err != nil {
		return types.Task{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Task{}, err
	}
	if affected == 0 {
		return types.Task{}, ErrNotFound
	}
	return task, nil
}

// SetAttachment records attachment metadata on the task row.
func (r *TaskRepository) SetAttachment(ctx context.Context, id, ownerID, name, contentType string) error {
	const query = `
		UPDATE tasks
		SET attachment_name = $1,
			attachment_type = $2
		WHERE id = $3 AND user_id = $4`
	result, err := r.db.ExecContext(ctx, query, name, contentType, id, ownerID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *TaskRepository) Delete(ctx context.Context, id, ownerID string) error {
	const query = `DELETE FROM tasks WHERE id = $1 AND user_id = $2`
	result, err := r.db.ExecContext(ctx, query, id, ownerID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
