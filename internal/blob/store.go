// Package blob stores certificate artifacts and hands back a locator the
// client can fetch them from.
package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Store persists artifact bytes.  Put returns a retrievable locator;
// Delete accepts a locator returned by Put.
type Store interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
	Delete(ctx context.Context, locator string) error
}

// ErrForeignLocator is returned by Delete for locators this store did not
// produce.
var ErrForeignLocator = errors.New("blob: locator not owned by this store")

// LocalStore keeps artifacts in a directory that the HTTP server exposes
// under PublicPath.
type LocalStore struct {
	Dir        string
	BaseURL    string // scheme://host the server is reachable at
	PublicPath string // URL path the directory is served from, e.g. /uploads
}

// NewLocalStore creates dir if needed.
func NewLocalStore(dir, baseURL, publicPath string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blob: mkdir %s: %w", dir, err)
	}
	return &LocalStore{
		Dir:        dir,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		PublicPath: "/" + strings.Trim(publicPath, "/"),
	}, nil
}

// Put writes data under name.  Only the base name is used, so callers
// cannot escape the directory.
func (s *LocalStore) Put(ctx context.Context, name string, data []byte) (string, error) {
	name = filepath.Base(filepath.Clean("/" + name))
	if name == "/" || name == "." {
		return "", errors.New("blob: empty name")
	}
	err := run(ctx, func() error {
		tmp, err := os.CreateTemp(s.Dir, ".upload-*")
		if err != nil {
			return err
		}
		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return err
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmp.Name())
			return err
		}
		return os.Rename(tmp.Name(), filepath.Join(s.Dir, name))
	})
	if err != nil {
		return "", fmt.Errorf("blob: put %s: %w", name, err)
	}
	return s.BaseURL + path.Join(s.PublicPath, name), nil
}

// Delete removes the artifact behind locator.  Removing a missing file is
// not an error.
func (s *LocalStore) Delete(ctx context.Context, locator string) error {
	prefix := s.BaseURL + s.PublicPath + "/"
	if !strings.HasPrefix(locator, prefix) {
		return ErrForeignLocator
	}
	name := filepath.Base(strings.TrimPrefix(locator, prefix))
	return run(ctx, func() error {
		err := os.Remove(filepath.Join(s.Dir, name))
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	})
}

// run executes fn and gives up waiting when ctx ends first.  Filesystem
// calls cannot be cancelled, so fn may still complete afterwards.
func run(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
