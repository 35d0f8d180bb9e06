package objectstore

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"SelectionBuilder/internal/config"
	"SelectionBuilder/internal/ports"
)

// Filesystem keeps objects as files below a root directory and serves
// them from a public base URL.
type Filesystem struct {
	root      string
	publicURL string
}

var _ ports.ObjectStore = (*Filesystem)(nil)

// NewFilesystem prepares the root directory.
func NewFilesystem(cfg config.StorageConfig) (*Filesystem, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("storage dir is empty")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Filesystem{root: cfg.Dir, publicURL: strings.TrimSuffix(cfg.PublicURL, "/")}, nil
}

// Root is the directory objects are written under.
func (f *Filesystem) Root() string {
	return f.root
}

// Put writes body under key, replacing any previous object atomically.
func (f *Filesystem) Put(ctx context.Context, key, _ string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".put-*")
	if err != nil {
		return fmt.Errorf("create temp object: %w", err)
	}
	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write object %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close object %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename object %s: %w", key, err)
	}
	return nil
}

// URL is the public location of key.
func (f *Filesystem) URL(key string) string {
	parts := strings.Split(path.Clean("/"+key), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return f.publicURL + strings.Join(parts, "/")
}

func (f *Filesystem) path(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(f.root, filepath.FromSlash(clean)), nil
}
