package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is one audit record, appended once per dispatched task regardless of
// outcome.
type Entry struct {
	RunID        string    `json:"run_id"`
	TaskID       string    `json:"task_id"`
	Command      string    `json:"command"`
	CWD          string    `json:"cwd,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	ExitCode     int       `json:"exit_code"`
	ArtifactRefs []string  `json:"artifact_refs,omitempty"`
}

type Sink interface {
	Append(ctx context.Context, entry Entry) error
	Close() error
}

// FileSink writes entries as JSON lines, rotating when the active file grows
// past maxBytes. Rotation keeps exactly one predecessor file.
type FileSink struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	file     *os.File
	size     int64
}

func NewFileSink(path string, maxBytes int64) (*FileSink, error) {
	if maxBytes <= 0 {
		maxBytes = 16 << 20
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat audit log: %w", err)
	}
	return &FileSink{
		path:     path,
		maxBytes: maxBytes,
		file:     f,
		size:     info.Size(),
	}, nil
}

func (s *FileSink) Append(_ context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return fmt.Errorf("audit sink is closed")
	}
	if s.size+int64(len(data)) > s.maxBytes {
		if err := s.rotateLocked(); err != nil {
			return err
		}
	}
	n, err := s.file.Write(data)
	s.size += int64(n)
	if err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

func (s *FileSink) rotateLocked() error {
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close audit log for rotation: %w", err)
	}
	if err := os.Rename(s.path, s.path+".1"); err != nil {
		return fmt.Errorf("rotate audit log: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("reopen audit log: %w", err)
	}
	s.file = f
	s.size = 0
	return nil
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// NopSink discards entries; used when auditing is not configured.
type NopSink struct{}

func (NopSink) Append(context.Context, Entry) error { return nil }
func (NopSink) Close() error                        { return nil }
