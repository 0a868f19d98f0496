package tasks

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu    sync.Mutex
	now   Clock
	tasks map[string]*ManagedResumableTask
}

func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

func NewMemoryStoreWithClock(now Clock) *MemoryStore {
	return &MemoryStore{now: now, tasks: make(map[string]*ManagedResumableTask)}
}

func (s *MemoryStore) Register(_ context.Context, task json.RawMessage, timeoutSeconds int64) (*ManagedResumableTask, error) {
	payload, id, err := Prepare(task)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.tasks[id]; ok {
		cp := *existing
		return &cp, nil
	}
	t := &ManagedResumableTask{
		ID:      id,
		Task:    payload,
		Timeout: s.now().Unix() + timeoutSeconds,
	}
	s.tasks[id] = t
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) Grab(_ context.Context, count int, timeoutSeconds int64) ([]ManagedResumableTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().Unix()
	expired := make([]*ManagedResumableTask, 0)
	for _, t := range s.tasks {
		if t.Timeout <= now {
			expired = append(expired, t)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		if expired[i].Timeout != expired[j].Timeout {
			return expired[i].Timeout < expired[j].Timeout
		}
		return expired[i].ID < expired[j].ID
	})
	if len(expired) > count {
		expired = expired[:count]
	}

	out := make([]ManagedResumableTask, 0, len(expired))
	for _, t := range expired {
		t.Timeout = now + timeoutSeconds
		t.RetryCount++
		out = append(out, *t)
	}
	return out, nil
}

func (s *MemoryStore) Read(_ context.Context, id string) (*ManagedResumableTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) Extend(_ context.Context, id string, timeoutSeconds int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	t.Timeout = s.now().Unix() + timeoutSeconds
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tasks, id)
	return nil
}
