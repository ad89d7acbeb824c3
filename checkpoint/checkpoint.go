// Package checkpoint persists workflow state between turns. Checkpoints
// are append-only and ordered by a per-thread sequence number; the
// cross-thread Store holds long-lived profile-like data with
// last-writer-wins field merge at the storage layer.
package checkpoint

import (
	"context"
	"time"
)

// Checkpoint is one persisted snapshot of a thread's merged state.
type Checkpoint struct {
	WorkflowID string         `json:"workflow_id"`
	ThreadID   string         `json:"thread_id"`
	Seq        int64          `json:"seq"`
	State      map[string]any `json:"state"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Saver 检查点存储接口
type Saver interface {
	// Save appends a new checkpoint for the thread and returns it with
	// its assigned sequence number.
	Save(ctx context.Context, workflowID, threadID string, state map[string]any) (*Checkpoint, error)

	// Latest returns the highest-sequence checkpoint for the thread,
	// or nil when the thread has none.
	Latest(ctx context.Context, workflowID, threadID string) (*Checkpoint, error)

	// List returns up to limit checkpoints for the thread, newest first.
	List(ctx context.Context, workflowID, threadID string, limit int) ([]*Checkpoint, error)

	// DeleteThread removes every checkpoint of the thread.
	DeleteThread(ctx context.Context, workflowID, threadID string) error
}

// Store 跨线程共享数据存储接口，按命名空间+键寻址
type Store interface {
	// Get returns the stored fields for the key, empty map when absent.
	Get(ctx context.Context, namespace, key string) (map[string]any, error)

	// Put merges fields into the stored value field-by-field; existing
	// fields not named in fields are kept, named fields are replaced.
	Put(ctx context.Context, namespace, key string, fields map[string]any) error

	// Delete removes the key entirely.
	Delete(ctx context.Context, namespace, key string) error
}
