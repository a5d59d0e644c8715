package storage

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	logx "sesmailer/pkg/logx"
)

const compactEvery = 1000

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.snapshot.json (periodic snapshot of jobs and tasks)
//   - <prefix>.journal.jsonl (append-only journal since the snapshot)
//
// The journal is compacted into the snapshot every compactEvery writes and
// on Close.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journal      *os.File

	jobs  map[string][]byte
	tasks map[string]Task

	writes int
}

type fileSnapshot struct {
	Jobs  map[string][]byte   `json:"jobs"`
	Tasks map[string]fileTask `json:"tasks"`
}

type fileTask struct {
	RunAt int64  `json:"run_at"` // unix milli
	Args  []byte `json:"args"`
}

type journalRecord struct {
	Op      string `json:"op"`
	ID      string `json:"id"`
	Payload []byte `json:"payload,omitempty"`
	RunAt   int64  `json:"run_at,omitempty"`
}

const (
	opPutJob     = "put_job"
	opDeleteJob  = "del_job"
	opPutTask    = "put_task"
	opDeleteTask = "del_task"
)

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	s := &fileStore{
		log:          log,
		snapshotPath: snapPath,
		jobs:         map[string][]byte{},
		tasks:        map[string]Task{},
	}
	if err := s.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("storage snapshot unreadable; starting from journal", logx.String("path", snapPath), logx.Err(err))
	}
	n, err := s.replayJournal(journalPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.journal = jf
	s.writes = n

	log.Debug("file storage opened",
		logx.String("prefix", prefix),
		logx.Int("jobs", len(s.jobs)),
		logx.Int("tasks", len(s.tasks)),
		logx.Int("journal_records", n),
	)
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	if err := s.compactLocked(); err != nil {
		s.log.Debug("compact on close failed", logx.Err(err))
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func (s *fileStore) PutJob(_ context.Context, id string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Op: opPutJob, ID: id, Payload: payload}); err != nil {
		return err
	}
	s.jobs[id] = cloneBytes(payload)
	return nil
}

func (s *fileStore) GetJob(_ context.Context, id string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.jobs[id]
	return cloneBytes(b), ok, nil
}

func (s *fileStore) DeleteJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return nil
	}
	if err := s.appendLocked(journalRecord{Op: opDeleteJob, ID: id}); err != nil {
		return err
	}
	delete(s.jobs, id)
	return nil
}

func (s *fileStore) ListJobs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *fileStore) PutTask(_ context.Context, t Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Op: opPutTask, ID: t.ID, Payload: t.Args, RunAt: t.RunAt.UnixMilli()}); err != nil {
		return err
	}
	s.tasks[t.ID] = Task{ID: t.ID, RunAt: time.UnixMilli(t.RunAt.UnixMilli()), Args: cloneBytes(t.Args)}
	return nil
}

func (s *fileStore) ListTasks(_ context.Context) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedTasks(s.tasks, time.Time{}, 0), nil
}

func (s *fileStore) DueTasks(_ context.Context, now time.Time, limit int) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedTasks(s.tasks, now, limit), nil
}

func (s *fileStore) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return nil
	}
	if err := s.appendLocked(journalRecord{Op: opDeleteTask, ID: id}); err != nil {
		return err
	}
	delete(s.tasks, id)
	return nil
}

func (s *fileStore) appendLocked(r journalRecord) error {
	if s.journal == nil {
		return ErrClosed
	}
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if _, err := s.journal.Write(b); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("storage compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	snap := fileSnapshot{Jobs: s.jobs, Tasks: make(map[string]fileTask, len(s.tasks))}
	for id, t := range s.tasks {
		snap.Tasks[id] = fileTask{RunAt: t.RunAt.UnixMilli(), Args: t.Args}
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	s.writes = 0
	return err
}

func (s *fileStore) loadSnapshot() error {
	f, err := os.Open(s.snapshotPath)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap fileSnapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for id, b := range snap.Jobs {
		s.jobs[id] = b
	}
	for id, t := range snap.Tasks {
		s.tasks[id] = Task{ID: id, RunAt: time.UnixMilli(t.RunAt), Args: t.Args}
	}
	return nil
}

func (s *fileStore) replayJournal(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 64<<20)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.ID == "" {
			// torn write at the tail
			continue
		}
		n++
		switch r.Op {
		case opPutJob:
			s.jobs[r.ID] = r.Payload
		case opDeleteJob:
			delete(s.jobs, r.ID)
		case opPutTask:
			s.tasks[r.ID] = Task{ID: r.ID, RunAt: time.UnixMilli(r.RunAt), Args: r.Payload}
		case opDeleteTask:
			delete(s.tasks, r.ID)
		}
	}
	return n, sc.Err()
}
