package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "memory": nothing survives a restart
//   - "file": dependency-free file backend (snapshot + journal)
//   - "sqlite": SQLite database file
//   - "postgres": PostgreSQL via DSN
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Task is a scheduled invocation persisted until it fires.
type Task struct {
	ID    string
	RunAt time.Time
	Args  []byte
}

// Store is the persistence API used by the queue and the scheduler.
//
// Put on an existing id overwrites. Delete of a missing id is a no-op and
// Get of a missing id returns ok=false without error.
type Store interface {
	PutJob(ctx context.Context, id string, payload []byte) error
	GetJob(ctx context.Context, id string) (payload []byte, ok bool, err error)
	DeleteJob(ctx context.Context, id string) error
	ListJobs(ctx context.Context) ([]string, error)

	PutTask(ctx context.Context, t Task) error
	ListTasks(ctx context.Context) ([]Task, error)
	DueTasks(ctx context.Context, now time.Time, limit int) ([]Task, error)
	DeleteTask(ctx context.Context, id string) error

	Close() error
}
