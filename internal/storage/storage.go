package storage

import (
	"context"
	"io"
)

// ObjectStorage defines common object operations across backends.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Bucket() string
}

// AttachmentStore keeps task attachments in an object storage backend,
// one object per task under a fixed key layout. Replacing a task's
// attachment overwrites the previous object.
type AttachmentStore struct {
	backend ObjectStorage
}

// NewAttachmentStore constructs an AttachmentStore on the given backend.
func NewAttachmentStore(backend ObjectStorage) *AttachmentStore {
	return &AttachmentStore{backend: backend}
}

// EnsureBucket ensures the configured bucket exists.
func (s *AttachmentStore) EnsureBucket(ctx context.Context) error {
	return s.backend.EnsureBucket(ctx)
}

// Save uploads the attachment for a task.
func (s *AttachmentStore) Save(ctx context.Context, taskID string, r io.Reader, size int64, contentType string) error {
	return s.backend.Put(ctx, objectKey(taskID), r, size, contentType)
}

// Open returns a reader for a task's attachment.
func (s *AttachmentStore) Open(ctx context.Context, taskID string) (io.ReadCloser, error) {
	return s.backend.Get(ctx, objectKey(taskID))
}

// Remove deletes a task's attachment object.
func (s *AttachmentStore) Remove(ctx context.Context, taskID string) error {
	return s.backend.Delete(ctx, objectKey(taskID))
}

func objectKey(taskID string) string {
	return "tasks/" + taskID + "/attachment"
}
