package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"neurovision/internal/config"
	"neurovision/internal/logger"
)

// PublicPrefix is the URL path under which stored files are served.
const PublicPrefix = "/uploads/public/"

// ErrStorageWrite marks a failure to persist an image on the local disk.
var ErrStorageWrite = errors.New("local storage write failed")

// WriteError reports the file that could not be written. It matches ErrStorageWrite.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

func (e *WriteError) Is(target error) bool { return target == ErrStorageWrite }

// FallbackStore keeps annotated images on local disk when the remote host
// cannot take them.
type FallbackStore struct {
	dir     string
	baseURL string
	mu      sync.Mutex
	logger  *logger.Logger
}

// NewFallbackStore creates a store rooted at the configured public directory.
// The directory itself is created on first write.
func NewFallbackStore(config *config.Config, logger *logger.Logger) *FallbackStore {
	return &FallbackStore{
		dir:     config.PublicDir(),
		baseURL: config.PublicBaseURL,
		logger:  logger,
	}
}

// Store writes data under name and returns the URL the file is served at.
func (s *FallbackStore) Store(name string, data []byte) (string, error) {
	filename, err := sanitizeName(name)
	if err != nil {
		return "", &WriteError{Path: name, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", &WriteError{Path: s.dir, Err: err}
	}

	fullpath := filepath.Join(s.dir, filename)
	if err := os.WriteFile(fullpath, data, 0644); err != nil {
		return "", &WriteError{Path: fullpath, Err: err}
	}

	s.logger.Info("Stored %s locally (%d bytes)", filename, len(data))
	return s.URL(filename), nil
}

// Remove deletes a stored file. Missing files are not an error.
func (s *FallbackStore) Remove(name string) error {
	filename, err := sanitizeName(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(filepath.Join(s.dir, filename)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", filename, err)
	}
	return nil
}

// URL returns the public URL of a stored file name.
func (s *FallbackStore) URL(filename string) string {
	return s.baseURL + PublicPrefix + filename
}

// NameFromURL returns the stored file name of a URL produced by this store,
// or false when the URL points elsewhere.
func (s *FallbackStore) NameFromURL(url string) (string, bool) {
	rest, ok := strings.CutPrefix(url, s.baseURL+PublicPrefix)
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}

// List returns the names of all stored files, sorted.
func (s *FallbackStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func sanitizeName(name string) (string, error) {
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" || base == "." || base == "" {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return base, nil
}
