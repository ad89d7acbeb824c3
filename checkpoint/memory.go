package checkpoint

import (
	"context"
	"sync"
	"time"
)

// MemorySaver is an in-process Saver for tests and single-node runs
// without a Redis deployment.
type MemorySaver struct {
	mu      sync.Mutex
	threads map[string][]*Checkpoint
}

// NewMemorySaver creates an empty in-memory saver.
func NewMemorySaver() *MemorySaver {
	return &MemorySaver{threads: make(map[string][]*Checkpoint)}
}

func threadKey(wf, thread string) string { return wf + "\x00" + thread }

func (m *MemorySaver) Save(_ context.Context, workflowID, threadID string, state map[string]any) (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := threadKey(workflowID, threadID)
	cp := &Checkpoint{
		WorkflowID: workflowID,
		ThreadID:   threadID,
		Seq:        int64(len(m.threads[k]) + 1),
		State:      cloneMap(state),
		CreatedAt:  time.Now().UTC(),
	}
	m.threads[k] = append(m.threads[k], cp)
	return cp, nil
}

func (m *MemorySaver) Latest(_ context.Context, workflowID, threadID string) (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cps := m.threads[threadKey(workflowID, threadID)]
	if len(cps) == 0 {
		return nil, nil
	}
	return cps[len(cps)-1], nil
}

func (m *MemorySaver) List(_ context.Context, workflowID, threadID string, limit int) ([]*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cps := m.threads[threadKey(workflowID, threadID)]
	if limit <= 0 || limit > len(cps) {
		limit = len(cps)
	}
	out := make([]*Checkpoint, 0, limit)
	for i := len(cps) - 1; i >= len(cps)-limit; i-- {
		out = append(out, cps[i])
	}
	return out, nil
}

func (m *MemorySaver) DeleteThread(_ context.Context, workflowID, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.threads, threadKey(workflowID, threadID))
	return nil
}

// MemoryStore is an in-process Store with the same field-merge
// semantics as the Redis hash implementation.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string]any
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string]any)}
}

func (m *MemoryStore) Get(_ context.Context, namespace, key string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneMap(m.data[namespace+"\x00"+key]), nil
}

func (m *MemoryStore) Put(_ context.Context, namespace, key string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := namespace + "\x00" + key
	cur, ok := m.data[k]
	if !ok {
		cur = make(map[string]any, len(fields))
		m.data[k] = cur
	}
	for f, v := range fields {
		cur[f] = v
	}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, namespace+"\x00"+key)
	return nil
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
