package types

import "time"

// Task represents a todo item belonging to a single user.
type Task struct {
	// ID is the unique identifier of the task.
	ID string `json:"id" db:"id"`

	// OwnerID references the user who created the task. It is set
	// once at creation and never reassigned.
	OwnerID string `json:"owner_id" db:"user_id"`

	// Title is the task title (1-200 characters, required).
	Title string `json:"title" db:"title"`

	// Description is an optional free-form description
	// (max 1000 characters).
	Description string `json:"description" db:"description"`

	// Completed reports whether the task has been marked done.
	Completed bool `json:"completed" db:"completed"`

	// AttachmentName is the filename of the uploaded attachment,
	// empty when the task has none.
	AttachmentName string `json:"attachment_name,omitempty" db:"attachment_name"`

	// AttachmentType is the MIME type of the uploaded attachment.
	AttachmentType string `json:"-" db:"attachment_type"`

	// CreatedAt is the timestamp when the task was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// CompletedAt is the timestamp when the task was marked done.
	// Nil while the task is pending.
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// TaskStats summarizes a user's task list.
type TaskStats struct {
	// Total is the number of tasks the user owns.
	Total int `json:"total"`

	// Completed is the number of tasks marked done.
	Completed int `json:"completed"`

	// Pending is Total minus Completed.
	Pending int `json:"pending"`
}

// TaskEvent is published to the message broker on task lifecycle
// changes.
type TaskEvent struct {
	// Type is one of "task.created", "task.updated", "task.toggled",
	// "task.deleted".
	Type string `json:"type"`

	// TaskID is the identifier of the affected task.
	TaskID string `json:"task_id"`

	// OwnerID is the identifier of the task's owner.
	OwnerID string `json:"owner_id"`

	// OccurredAt is when the change happened.
	OccurredAt time.Time `json:"occurred_at"`
}
