package blob

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileStore persists objects in a flat directory. URLs point at the
// server's own /blobs/ route, which serves the directory read-only.
type FileStore struct {
	basePath string
	baseURL  string
}

// NewFileStore initializes a FileStore rooted at basePath. publicBaseURL is
// the externally reachable address of this server.
func NewFileStore(basePath, publicBaseURL string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("blob: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("blob: ensure base path: %w", err)
	}
	return &FileStore{
		basePath: basePath,
		baseURL:  strings.TrimRight(publicBaseURL, "/") + "/blobs/",
	}, nil
}

func (s *FileStore) Upload(ctx context.Context, name string, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validName(name); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(s.basePath, name), data, 0o644); err != nil {
		return "", fmt.Errorf("blob: write file: %w", err)
	}
	return s.baseURL + name, nil
}

// Remove deletes the named objects. Missing objects are ignored.
func (s *FileStore) Remove(ctx context.Context, names []string) error {
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := validName(name); err != nil {
			return err
		}
		err := os.Remove(filepath.Join(s.basePath, name))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("blob: remove %s: %w", name, err)
		}
	}
	return nil
}

func (s *FileStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("blob: read dir: %w", err)
	}
	names := []string{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Handler serves stored objects. Mount it under /blobs/.
func (s *FileStore) Handler() http.Handler {
	return http.StripPrefix("/blobs/", http.FileServer(http.Dir(s.basePath)))
}
