package slot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps the job in a small file. Writes go through a temporary
// file and a rename.
type FileStore struct {
	path string
}

// NewFileStore initializes a FileStore writing <dir>/<key>.
func NewFileStore(dir, key string) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("slot: directory is required")
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("slot: ensure directory: %w", err)
	}
	return &FileStore{path: filepath.Join(dir, cleanKey)}, nil
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(ctx context.Context) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Job{}, ErrEmpty
	}
	if err != nil {
		return Job{}, fmt.Errorf("slot: read: %w", err)
	}
	return decode(string(data))
}

func (s *FileStore) Save(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := encode(job)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".slot-*")
	if err != nil {
		return fmt.Errorf("slot: create temp: %w", err)
	}
	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("slot: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("slot: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("slot: rename: %w", err)
	}
	return nil
}

func (s *FileStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("slot: remove: %w", err)
	}
	return nil
}

// sanitizeKey normalizes a key into a single file name.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("slot: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	cleaned := filepath.Base(filepath.Clean("/" + key))
	if cleaned == "/" || cleaned == "." || cleaned == ".." {
		return "", errors.New("slot: invalid key")
	}
	return cleaned, nil
}
