// Package persist keeps JSON records in a directory. Writes go through a temp
// file and a rename, so readers see either the old or the new contents.
package persist

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const (
	PublicMode  os.FileMode = 0o644
	PrivateMode os.FileMode = 0o600
)

// Store is a directory of JSON files. Names are slash separated paths relative to the directory.
type Store struct {
	dir   string
	mutex sync.Mutex // serializes LoadAndModify and writes
}

// New opens the store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// Path returns the file path for name.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, filepath.FromSlash(name))
}

// Exists reports whether name is present.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.Path(name))
	return err == nil
}

// LoadReadOnly decodes name into out. A missing file is reported with an error satisfying errors.Is(err, os.ErrNotExist).
func (s *Store) LoadReadOnly(name string, out any) error {
	b, err := os.ReadFile(s.Path(name))
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// LoadAndModify decodes name into out, calls modify, and writes out back.
// A missing file leaves out untouched before modify runs. If modify fails nothing is written.
// Concurrent calls on the same store are applied one at a time.
func (s *Store) LoadAndModify(name string, out any, modify func() error) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	mode := PublicMode
	b, err := os.ReadFile(s.Path(name))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return err
	default:
		if err := json.Unmarshal(b, out); err != nil {
			return err
		}
		if info, err := os.Stat(s.Path(name)); err == nil {
			mode = info.Mode().Perm()
		}
	}
	if err := modify(); err != nil {
		return err
	}
	return s.write(name, out, mode)
}

// Save writes v to name with the given permissions.
func (s *Store) Save(name string, v any, mode os.FileMode) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.write(name, v, mode)
}

// Remove deletes name. Removing a missing file is not an error.
func (s *Store) Remove(name string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	err := os.Remove(s.Path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// List returns the names of the JSON files directly inside dir, sorted. A missing directory is empty.
func (s *Store) List(dir string) ([]string, error) {
	entries, err := os.ReadDir(s.Path(dir))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, dir+"/"+entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) write(name string, v any, mode os.FileMode) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFile(s.Path(name), b, mode)
}

// writeFile writes b to a temp file next to path, then renames it over path.
func writeFile(path string, b []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Chmod(mode); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
