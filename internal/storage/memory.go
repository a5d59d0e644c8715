package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryStore struct {
	mu    sync.Mutex
	jobs  map[string][]byte
	tasks map[string]Task
}

// NewMemory returns a process-local store.
func NewMemory() Store {
	return &memoryStore{jobs: map[string][]byte{}, tasks: map[string]Task{}}
}

func (s *memoryStore) PutJob(_ context.Context, id string, payload []byte) error {
	s.mu.Lock()
	s.jobs[id] = cloneBytes(payload)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) GetJob(_ context.Context, id string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.jobs[id]
	return cloneBytes(b), ok, nil
}

func (s *memoryStore) DeleteJob(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) ListJobs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *memoryStore) PutTask(_ context.Context, t Task) error {
	t.Args = cloneBytes(t.Args)
	s.mu.Lock()
	s.tasks[t.ID] = t
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) ListTasks(_ context.Context) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedTasks(s.tasks, time.Time{}, 0), nil
}

func (s *memoryStore) DueTasks(_ context.Context, now time.Time, limit int) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedTasks(s.tasks, now, limit), nil
}

func (s *memoryStore) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.tasks, id)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Close() error { return nil }

// sortedTasks returns tasks ordered by RunAt then ID. A non-zero due keeps
// only tasks with RunAt <= due; limit <= 0 means no limit.
func sortedTasks(m map[string]Task, due time.Time, limit int) []Task {
	out := make([]Task, 0, len(m))
	for _, t := range m {
		if !due.IsZero() && t.RunAt.After(due) {
			continue
		}
		t.Args = cloneBytes(t.Args)
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RunAt.Equal(out[j].RunAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RunAt.Before(out[j].RunAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

