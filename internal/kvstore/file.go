package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// File keeps every key in a single JSON document, rewritten atomically on
// each mutation.
type File struct {
	path string

	mu   sync.RWMutex
	data map[string]string

	persistMu sync.Mutex
}

type persistedFile struct {
	Version int               `json:"version"`
	Values  map[string]string `json:"values"`
	SavedAt int64             `json:"savedAt"`
}

func OpenFile(path string) (*File, error) {
	f := &File{path: path, data: make(map[string]string)}
	if err := f.load(); err != nil {
		return nil, fmt.Errorf("kvstore: load %s: %w", path, err)
	}
	return f, nil
}

func (f *File) load() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}

	var file persistedFile
	if err := json.Unmarshal(data, &file); err != nil {
		return err
	}
	if file.Version != 1 {
		return errors.New("unsupported state file version")
	}
	for k, v := range file.Values {
		f.data[k] = v
	}
	return nil
}

func (f *File) Get(_ context.Context, key string) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	v, ok := f.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (f *File) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	f.data[key] = value
	snapshot := f.snapshotLocked()
	f.mu.Unlock()
	return f.persist(snapshot)
}

func (f *File) Remove(_ context.Context, key string) error {
	f.mu.Lock()
	if _, ok := f.data[key]; !ok {
		f.mu.Unlock()
		return nil
	}
	delete(f.data, key)
	snapshot := f.snapshotLocked()
	f.mu.Unlock()
	return f.persist(snapshot)
}

func (f *File) snapshotLocked() map[string]string {
	out := make(map[string]string, len(f.data))
	for k, v := range f.data {
		out[k] = v
	}
	return out
}

func (f *File) persist(values map[string]string) error {
	f.persistMu.Lock()
	defer f.persistMu.Unlock()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("kvstore: mkdir %s: %w", dir, err)
	}

	file := persistedFile{Version: 1, Values: values, SavedAt: time.Now().UnixMilli()}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("kvstore: marshal: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("kvstore: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("kvstore: chmod temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("kvstore: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("kvstore: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("kvstore: close temp: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("kvstore: rename: %w", err)
	}
	return nil
}
