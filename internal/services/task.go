package services

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/taskhive/apiserver/internal/mq"
	"github.com/taskhive/apiserver/internal/store"
	"github.com/taskhive/apiserver/internal/storage"
	"github.com/taskhive/apiserver/types"
)

// ErrForbidden is returned when the caller is authenticated but does
// not own the task it is trying to touch.
var ErrForbidden = errors.New("forbidden")

const (
	EventTaskCreated = "task.created"
	EventTaskUpdated = "task.updated"
	EventTaskToggled = "task.toggled"
	EventTaskDeleted = "task.deleted"

	publishTimeout = 5 * time.Second
)

// TaskRepository defines persistence operations for tasks. Listing
// and counting are parameterized by owner; there is no way to ask the
// repository for another user's task set.
type TaskRepository interface {
	ListByOwner(ctx context.Context, ownerID string, offset, limit int) ([]types.Task, error)
	CountByOwner(ctx context.Context, ownerID string) (types.TaskStats, error)
	Get(ctx context.Context, id string) (types.Task, error)
	Create(ctx context.Context, task types.Task) (types.Task, error)
	Update(ctx context.Context, task types.Task) (types.Task, error)
	SetAttachment(ctx context.Context, id, ownerID, name, contentType string) error
	Delete(ctx context.Context, id, ownerID string) error
}

// TaskUpdate carries the mutable task fields; nil means unchanged.
type TaskUpdate struct {
	Title       *string
	Description *string
}

// TaskService encapsulates task use-cases. Every operation on an
// existing task goes through authorizeOwner before touching data.
type TaskService struct {
	repo   TaskRepository
	events *mq.Broker
	files  *storage.AttachmentStore
}

// NewTaskService constructs a TaskService. events and files may be
// nil; lifecycle events and attachments are then disabled.
func NewTaskService(repo TaskRepository, events *mq.Broker, files *storage.AttachmentStore) *TaskService {
	return &TaskService{
		repo:   repo,
		events: events,
		files:  files,
	}
}

// authorizeOwner is the single ownership check. Owner ids are
// immutable after creation, so a passed check cannot be invalidated
// by a concurrent write.
func authorizeOwner(callerID string, task types.Task) error {
	if task.OwnerID != callerID {
		return ErrForbidden
	}
	return nil
}

// List returns the caller's tasks and list statistics, newest first.
func (s *TaskService) List(ctx context.Context, callerID string, offset, limit int) ([]types.Task, types.TaskStats, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 100 {
		limit = 100
	}
	tasks, err := s.repo.ListByOwner(ctx, callerID, offset, limit)
	if err != nil {
		return nil, types.TaskStats{}, err
	}
	stats, err := s.repo.CountByOwner(ctx, callerID)
	if err != nil {
		return nil, types.TaskStats{}, err
	}
	return tasks, stats, nil
}

// Create stores a new task owned by the caller. The owner is stamped
// here unconditionally; nothing the client sends can change it.
func (s *TaskService) Create(ctx context.Context, callerID, title, description string) (types.Task, error) {
	task, err := s.repo.Create(ctx, types.Task{
		OwnerID:     callerID,
		Title:       title,
		Description: description,
	})
	if err != nil {
		return types.Task{}, err
	}
	s.publish(EventTaskCreated, task)
	return task, nil
}

// Get returns a task after confirming the caller owns it.
func (s *TaskService) Get(ctx context.Context, callerID, taskID string) (types.Task, error) {
	task, err := s.repo.Get(ctx, taskID)
	if err != nil {
		return types.Task{}, err
	}
	if err := authorizeOwner(callerID, task); err != nil {
		return types.Task{}, err
	}
	return task, nil
}

// Update applies the provided field changes to a task the caller owns.
func (s *TaskService) Update(ctx context.Context, callerID, taskID string, update TaskUpdate) (types.Task, error) {
	task, err := s.Get(ctx, callerID, taskID)
	if err != nil {
		return types.Task{}, err
	}

	if update.Title != nil {
		task.Title = *update.Title
	}
	if update.Description != nil {
		task.Description = *update.Description
	}

	updated, err := s.repo.Update(ctx, task)
	if err != nil {
		return types.Task{}, err
	}
	s.publish(EventTaskUpdated, updated)
	return updated, nil
}

// Toggle flips the completion state of a task the caller owns,
// stamping or clearing the completion timestamp.
func (s *TaskService) Toggle(ctx context.Context, callerID, taskID string) (types.Task, error) {
	task, err := s.Get(ctx, callerID, taskID)
	if err != nil {
		return types.Task{}, err
	}

	task.Completed = !task.Completed
	if task.Completed {
		now := time.Now()
		task.CompletedAt = &now
	} else {
		task.CompletedAt = nil
	}

	updated, err := s.repo.Update(ctx, task)
	if err != nil {
		return types.Task{}, err
	}
	s.publish(EventTaskToggled, updated)
	return updated, nil
}

// Delete removes a task the caller owns, along with its attachment
// object if one was uploaded.
func (s *TaskService) Delete(ctx context.Context, callerID, taskID string) error {
	task, err := s.Get(ctx, callerID, taskID)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, taskID, callerID); err != nil {
		return err
	}

	if s.files != nil && task.AttachmentName != "" {
		if err := s.files.Remove(ctx, taskID); err != nil {
			log.Warn().Err(err).Str("task_id", taskID).Msg("failed to delete attachment object")
		}
	}

	s.publish(EventTaskDeleted, task)
	return nil
}

// AttachmentsEnabled reports whether an object storage backend is
// configured.
func (s *TaskService) AttachmentsEnabled() bool {
	return s.files != nil
}

// Attach stores an attachment for a task the caller owns and records
// its metadata on the task row.
func (s *TaskService) Attach(ctx context.Context, callerID, taskID, filename, contentType string, r io.Reader, size int64) (types.Task, error) {
	task, err := s.Get(ctx, callerID, taskID)
	if err != nil {
		return types.Task{}, err
	}

	if err := s.files.Save(ctx, taskID, r, size, contentType); err != nil {
		return types.Task{}, err
	}
	if err := s.repo.SetAttachment(ctx, taskID, callerID, filename, contentType); err != nil {
		return types.Task{}, err
	}

	task.AttachmentName = filename
	task.AttachmentType = contentType
	s.publish(EventTaskUpdated, task)
	return task, nil
}

// OpenAttachment streams back the attachment of a task the caller
// owns. ErrNotFound semantics follow the repository: a task without
// an attachment reports store.ErrNotFound via the empty name.
func (s *TaskService) OpenAttachment(ctx context.Context, callerID, taskID string) (io.ReadCloser, types.Task, error) {
	task, err := s.Get(ctx, callerID, taskID)
	if err != nil {
		return nil, types.Task{}, err
	}
	if task.AttachmentName == "" {
		return nil, types.Task{}, store.ErrNotFound
	}

	reader, err := s.files.Open(ctx, taskID)
	if err != nil {
		return nil, types.Task{}, err
	}
	return reader, task, nil
}

// publish emits a lifecycle event without blocking the request.
// Delivery is best effort; failures are logged and dropped.
func (s *TaskService) publish(eventType string, task types.Task) {
	if s.events == nil {
		return
	}

	event := types.TaskEvent{
		Type:       eventType,
		TaskID:     task.ID,
		OwnerID:    task.OwnerID,
		OccurredAt: time.Now(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if _, err := s.events.PublishEvent(ctx, event); err != nil {
			log.Warn().Err(err).Str("type", eventType).Msg("failed to publish task event")
		}
	}()
}
