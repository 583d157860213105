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

	"ingestd/internal/ingest/job"
	"ingestd/pkg/logx"
)

// fileStore keeps results in <prefix>.results.jsonl (append-only JSON Lines).
// Once the file holds more than twice Retain records it is compacted to the
// newest Retain.
type fileStore struct {
	log    logx.Logger
	path   string
	retain int

	mu    sync.Mutex
	f     *os.File
	lines int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	resultsPath := filepath.Join(dir, base) + ".results.jsonl"

	lines, err := countLines(resultsPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	f, err := os.OpenFile(resultsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: resultsPath, retain: cfg.retain(), f: f, lines: lines}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) AppendResult(_ context.Context, r job.SyncResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("results file closed")
	}
	if err := json.NewEncoder(s.f).Encode(toRecord(r)); err != nil {
		return err
	}
	s.lines++
	if s.retain > 0 && s.lines > 2*s.retain {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("results compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) RecentResults(_ context.Context, limit int) ([]job.SyncResult, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := readTail(s.path, limit)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]job.SyncResult, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.result())
	}
	return out, nil
}

func (s *fileStore) compactLocked() error {
	keep, err := readTail(s.path, s.retain)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, rec := range keep {
		if err := enc.Encode(rec); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	// The old handle points at the replaced inode; reopen.
	_ = s.f.Close()
	nf, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.f = nil
		return err
	}
	s.f = nf
	s.lines = len(keep)
	return nil
}

// readTail returns the last n decodable records of path, oldest first.
func readTail(path string, n int) ([]record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]record, 0, n)
	start := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var rec record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil || rec.ID == "" {
			continue
		}
		if len(ring) < n {
			ring = append(ring, rec)
			continue
		}
		ring[start] = rec
		start = (start + 1) % n
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return append(ring[start:], ring[:start]...), nil
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		n++
	}
	return n, sc.Err()
}
