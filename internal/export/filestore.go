package export

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/raaihank/logsort/internal/batch"
)

// ErrNoOutput is returned by Open before anything has been saved
var ErrNoOutput = errors.New("no classified output available")

// FileStore keeps the most recent classified CSV on disk for download
type FileStore struct {
	path string
	mu   sync.RWMutex
}

// NewFileStore creates a file store writing to path
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the output file location
func (s *FileStore) Path() string {
	return s.path
}

// Save renders result as CSV, replaces the output file atomically and
// returns the rendered bytes.
func (s *FileStore) Save(result *batch.Result) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, result); err != nil {
		return nil, err
	}

	if err := s.SaveBytes(buf.Bytes()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SaveBytes replaces the output file with data
func (s *FileStore) SaveBytes(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".output-*.csv")
	if err != nil {
		return fmt.Errorf("failed to create temp output: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close output: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace output: %w", err)
	}
	return nil
}

// Read returns the current output file contents
func (s *FileStore) Read() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoOutput
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read output: %w", err)
	}
	return data, nil
}
