package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "qseq/pkg/logx"
)

// fileStore appends JSON Lines.
//
// Files:
//   - <prefix>.events.jsonl
//   - <prefix>.runs.jsonl
type fileStore struct {
	log logx.Logger

	mu         sync.Mutex
	eventsPath string
	events     *os.File
	runs       *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	eventsPath := prefix + ".events.jsonl"
	ef, err := os.OpenFile(eventsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	rf, err := os.OpenFile(prefix+".runs.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = ef.Close()
		return nil, err
	}
	log.Debug("file storage opened", logx.String("prefix", prefix))
	return &fileStore{log: log, eventsPath: eventsPath, events: ef, runs: rf}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.events != nil {
		errs = append(errs, s.events.Close())
		s.events = nil
	}
	if s.runs != nil {
		errs = append(errs, s.runs.Close())
		s.runs = nil
	}
	return errors.Join(errs...)
}

func (s *fileStore) AppendEvent(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.events).Encode(e)
}

func (s *fileStore) RecordRun(_ context.Context, r Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runs == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.runs).Encode(r)
}

func (s *fileStore) Events(ctx context.Context, runID string) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events == nil {
		return nil, ErrClosed
	}

	f, err := os.Open(s.eventsPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var e Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			s.log.Debug("skipping malformed event line", logx.Err(err))
			continue
		}
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out, sc.Err()
}
