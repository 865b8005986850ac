package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"
)

// FileSink appends audit entries as JSON lines to a single file.
type FileSink struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// NewFileSink opens (or creates) the audit file at path.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, err
	}
	return &FileSink{f: f, path: path}, nil
}

// Close closes the underlying file.
func (s *FileSink) Close() error { return s.f.Close() }

// Emit implements Sink. Write failures are swallowed: auditing never
// propagates into the call path.
func (s *FileSink) Emit(event string, data map[string]any) {
	e := Entry{Timestamp: time.Now().UTC(), Event: event, Data: data}
	s.mu.Lock()
	defer s.mu.Unlock()
	line, err := json.Marshal(e)
	if err != nil {
		return
	}
	_, _ = s.f.Write(append(line, '\n'))
}

// QueryOptions filters entries returned by Query.
type QueryOptions struct {
	Event string
	Hours int
}

// Query reads back entries matching the options.
func (s *FileSink) Query(opts QueryOptions) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cutoff := time.Now().Add(-time.Duration(opts.Hours) * time.Hour)
	if opts.Hours == 0 {
		cutoff = time.Time{}
	}

	var results []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		if opts.Event != "" && e.Event != opts.Event {
			continue
		}
		if !cutoff.IsZero() && e.Timestamp.Before(cutoff) {
			continue
		}
		results = append(results, e)
	}
	return results, scanner.Err()
}

// Prune removes entries older than retentionDays. It rewrites the file
// in-place. No-op if retentionDays is 0.
func (s *FileSink) Prune(retentionDays int) error {
	if retentionDays == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	var keep [][]byte
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		line := scanner.Bytes()
		if err := json.Unmarshal(line, &e); err != nil {
			keep = append(keep, append([]byte{}, line...)) // preserve unparseable lines
			continue
		}
		if !e.Timestamp.Before(cutoff) {
			keep = append(keep, append([]byte{}, line...))
		}
	}
	f.Close()
	if err := scanner.Err(); err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	for _, line := range keep {
		out.Write(line)
		out.Write([]byte{'\n'})
	}
	out.Close()

	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}

	// Re-open the append handle to point to the new file.
	s.f.Close()
	s.f, err = os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	return err
}
