package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pandora-cas/goclient/pkg/util"
)

// record is the JSON-lines shape written by FileSink. Each record carries
// its own id so downstream log shippers can deduplicate across rotations.
type record struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Topic     Topic           `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
}

// RotationConfig bounds a FileSink's on-disk footprint.
type RotationConfig struct {
	MaxSize    int64
	MaxBackups int
}

// FileSink durably appends every published payload as a JSON-lines record,
// rotating the file once it crosses MaxSize.
type FileSink struct {
	path     string
	file     *os.File
	encoder  *json.Encoder
	mu       sync.Mutex
	rotation RotationConfig
}

// NewFileSink opens (creating if needed) a JSON-lines log at path.
func NewFileSink(path string, rotation RotationConfig) (*FileSink, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating event sink directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening event sink: %w", err)
	}

	return &FileSink{
		path:     path,
		file:     file,
		encoder:  json.NewEncoder(file),
		rotation: rotation,
	}, nil
}

// Record appends one payload to the log, rotating first if MaxSize is exceeded.
func (s *FileSink) Record(topic Topic, payload interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rotation.MaxSize > 0 {
		if info, err := s.file.Stat(); err == nil && info.Size() >= s.rotation.MaxSize {
			if err := s.rotate(); err != nil {
				return fmt.Errorf("rotating event sink: %w", err)
			}
		}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling event payload: %w", err)
	}
	return s.encoder.Encode(record{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Topic:     topic,
		Payload:   raw,
	})
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

// Tail reads back the last n records (0 means all) from the current log
// file.
func (s *FileSink) Tail(n int) ([]record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var out []record
	scanner := bufio.NewScanner(file)
	line := 0
	for scanner.Scan() {
		line++
		var rec record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			util.Warnf("events: skipping malformed sink entry at line %d: %v", line, err)
			continue
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

func (s *FileSink) rotate() error {
	if err := s.file.Close(); err != nil {
		return err
	}

	timestamp := time.Now().Format("20060102-150405")
	rotatedPath := s.path + "." + timestamp
	if err := os.Rename(s.path, rotatedPath); err != nil {
		return err
	}

	file, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	s.file = file
	s.encoder = json.NewEncoder(file)

	if s.rotation.MaxBackups > 0 {
		s.cleanupOldFiles()
	}
	return nil
}

func (s *FileSink) cleanupOldFiles() {
	dir := filepath.Dir(s.path)
	base := filepath.Base(s.path)
	pattern := base + ".*"

	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return
	}

	type fileInfo struct {
		path    string
		modTime time.Time
	}
	var files []fileInfo
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		files = append(files, fileInfo{path, info.ModTime()})
	}

	if len(files) > s.rotation.MaxBackups {
		sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })
		toRemove := len(files) - s.rotation.MaxBackups
		for i := 0; i < toRemove; i++ {
			os.Remove(files[i].path)
		}
	}
}
