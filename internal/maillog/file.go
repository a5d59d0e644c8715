package maillog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	logx "sesmailer/pkg/logx"
)

const (
	DefaultMaxBytes = 2 << 20
	keepBytes       = 1 << 20
	timeLayout      = "2006-01-02 15:04:05"
)

// FileSink appends "[YYYY-MM-DD HH:MM:SS] line" (UTC) to a text file.
type FileSink struct {
	path     string
	maxBytes int64
	log      logx.Logger
	now      func() time.Time

	mu sync.Mutex
}

func NewFileSink(path string, maxBytes int64, log logx.Logger) *FileSink {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &FileSink{path: path, maxBytes: maxBytes, log: log.With(logx.String("comp", "maillog")), now: time.Now}
}

func (s *FileSink) Path() string { return s.path }

func (s *FileSink) Log(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLine(line); err != nil {
		s.log.Warn("mail log write failed", logx.String("path", s.path), logx.Err(err))
		return
	}
	if err := s.maybeTrim(); err != nil {
		s.log.Warn("mail log trim failed", logx.String("path", s.path), logx.Err(err))
	}
}

func (s *FileSink) appendLine(line string) error {
	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(f, "[%s] %s\n", s.now().UTC().Format(timeLayout), line)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *FileSink) maybeTrim() error {
	st, err := os.Stat(s.path)
	if err != nil {
		return err
	}
	if st.Size() <= s.maxBytes {
		return nil
	}
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	keep := int64(keepBytes)
	if keep > s.maxBytes {
		keep = s.maxBytes / 2
	}
	if _, err := f.Seek(-keep, io.SeekEnd); err != nil {
		_ = f.Close()
		return err
	}
	tail, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, tail, 0o640); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Read returns the whole log file. A missing file reads as empty.
func (s *FileSink) Read() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return b, err
}

// Clear truncates the log file.
func (s *FileSink) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Truncate(s.path, 0)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
