package services

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskhive/apiserver/internal/store"
	"github.com/taskhive/apiserver/types"
)

// memTaskRepo is an in-memory TaskRepository for unit tests.
type memTaskRepo struct {
	mu    sync.Mutex
	tasks map[string]types.Task
}

func newMemTaskRepo() *memTaskRepo {
	return &memTaskRepo{tasks: make(map[string]types.Task)}
}

func (m *memTaskRepo) ListByOwner(ctx context.Context, ownerID string, offset, limit int) ([]types.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var tasks []types.Task
	for _, task := range m.tasks {
		if task.OwnerID == ownerID {
			tasks = append(tasks, task)
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.After(tasks[j].CreatedAt) })
	if offset > len(tasks) {
		return nil, nil
	}
	tasks = tasks[offset:]
	if limit < len(tasks) {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

func (m *memTaskRepo) CountByOwner(ctx context.Context, ownerID string) (types.TaskStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats types.TaskStats
	for _, task := range m.tasks {
		if task.OwnerID != ownerID {
			continue
		}
		stats.Total++
		if task.Completed {
			stats.Completed++
		}
	}
	stats.Pending = stats.Total - stats.Completed
	return stats, nil
}

func (m *memTaskRepo) Get(ctx context.Context, id string) (types.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return types.Task{}, store.ErrNotFound
	}
	return task, nil
}

func (m *memTaskRepo) Create(ctx context.Context, task types.Task) (types.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task.ID = uuid.NewString()
	task.CreatedAt = time.Now()
	m.tasks[task.ID] = task
	return task, nil
}

func (m *memTaskRepo) Update(ctx context.Context, task types.Task) (types.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.tasks[task.ID]
	if !ok || existing.OwnerID != task.OwnerID {
		return types.Task{}, store.ErrNotFound
	}
	m.tasks[task.ID] = task
	return task, nil
}

func (m *memTaskRepo) SetAttachment(ctx context.Context, id, ownerID, name, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok || task.OwnerID != ownerID {
		return store.ErrNotFound
	}
	task.AttachmentName = name
	task.AttachmentType = contentType
	m.tasks[id] = task
	return nil
}

func (m *memTaskRepo) Delete(ctx context.Context, id, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok || task.OwnerID != ownerID {
		return store.ErrNotFound
	}
	delete(m.tasks, id)
	return nil
}

func newTestTaskService() (*TaskService, *memTaskRepo) {
	repo := newMemTaskRepo()
	return NewTaskService(repo, nil, nil), repo
}

func TestCreateStampsOwner(t *testing.T) {
	svc, _ := newTestTaskService()
	ctx := context.Background()

	task, err := svc.Create(ctx, "alice", "buy milk", "")
	require.NoError(t, err)

	assert.Equal(t, "alice", task.OwnerID)
	assert.NotEmpty(t, task.ID)
	assert.False(t, task.Completed)
}

func TestOwnershipIsolation(t *testing.T) {
	svc, _ := newTestTaskService()
	ctx := context.Background()

	task, err := svc.Create(ctx, "alice", "buy milk", "")
	require.NoError(t, err)

	// Every operation on Alice's task as Bob is forbidden.
	_, err = svc.Get(ctx, "bob", task.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	title := "stolen"
	_, err = svc.Update(ctx, "bob", task.ID, TaskUpdate{Title: &title})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Toggle(ctx, "bob", task.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	err = svc.Delete(ctx, "bob", task.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	// The task is untouched and still owned by Alice.
	fetched, err := svc.Get(ctx, "alice", task.ID)
	require.NoError(t, err)
	assert.Equal(t, "buy milk", fetched.Title)
	assert.Equal(t, "alice", fetched.OwnerID)
}

func TestGetUnknownTask(t *testing.T) {
	svc, _ := newTestTaskService()

	_, err := svc.Get(context.Background(), "alice", uuid.NewString())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateAppliesFields(t *testing.T) {
	svc, _ := newTestTaskService()
	ctx := context.Background()

	task, err := svc.Create(ctx, "alice", "buy milk", "2 liters")
	require.NoError(t, err)

	title := "buy oat milk"
	updated, err := svc.Update(ctx, "alice", task.ID, TaskUpdate{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "buy oat milk", updated.Title)
	assert.Equal(t, "2 liters", updated.Description, "unset fields stay unchanged")

	desc := ""
	updated, err = svc.Update(ctx, "alice", task.ID, TaskUpdate{Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, "buy oat milk", updated.Title)
	assert.Equal(t, "", updated.Description)
}

func TestToggleStampsCompletionTime(t *testing.T) {
	svc, _ := newTestTaskService()
	ctx := context.Background()

	task, err := svc.Create(ctx, "alice", "buy milk", "")
	require.NoError(t, err)

	toggled, err := svc.Toggle(ctx, "alice", task.ID)
	require.NoError(t, err)
	assert.True(t, toggled.Completed)
	require.NotNil(t, toggled.CompletedAt)

	back, err := svc.Toggle(ctx, "alice", task.ID)
	require.NoError(t, err)
	assert.False(t, back.Completed)
	assert.Nil(t, back.CompletedAt)
}

func TestListIsOwnerScoped(t *testing.T) {
	svc, _ := newTestTaskService()
	ctx := context.Background()

	_, err := svc.Create(ctx, "alice", "a1", "")
	require.NoError(t, err)
	_, err = svc.Create(ctx, "alice", "a2", "")
	require.NoError(t, err)
	_, err = svc.Create(ctx, "bob", "b1", "")
	require.NoError(t, err)

	tasks, stats, err := svc.List(ctx, "alice", 0, 0)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
	assert.Equal(t, 2, stats.Total)
	for _, task := range tasks {
		assert.Equal(t, "alice", task.OwnerID)
	}

	task, err := svc.Toggle(ctx, "alice", tasks[0].ID)
	require.NoError(t, err)
	assert.True(t, task.Completed)

	_, stats, err = svc.List(ctx, "alice", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.Pending)
}

func TestDelete(t *testing.T) {
	svc, _ := newTestTaskService()
	ctx := context.Background()

	task, err := svc.Create(ctx, "alice", "buy milk", "")
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "alice", task.ID))

	_, err = svc.Get(ctx, "alice", task.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = svc.Delete(ctx, "alice", task.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
