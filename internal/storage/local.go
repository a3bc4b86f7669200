package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	cerrors "github.com/arkilian/compactor/internal/errors"
)

// LocalStorage serves objects from a directory tree. Object paths are
// slash-separated and relative to the root.
type LocalStorage struct {
	root string
}

// NewLocalStorage creates root if needed.
func NewLocalStorage(root string) (*LocalStorage, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root: %w", err)
	}
	return &LocalStorage{root: abs}, nil
}

// Root returns the absolute storage root.
func (l *LocalStorage) Root() string {
	return l.root
}

// Stat implements ObjectStorage.
func (l *LocalStorage) Stat(ctx context.Context, objectPath string) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}
	p, err := l.resolve(objectPath)
	if err != nil {
		return ObjectInfo{}, err
	}
	fi, err := os.Stat(p)
	switch {
	case os.IsNotExist(err):
		return ObjectInfo{}, notFound(objectPath)
	case err != nil:
		return ObjectInfo{}, downloadFailed(objectPath, err)
	case fi.IsDir():
		return ObjectInfo{}, notFound(objectPath)
	}
	return ObjectInfo{Path: objectPath, Size: fi.Size()}, nil
}

// Download implements ObjectStorage.
func (l *LocalStorage) Download(ctx context.Context, objectPath, localPath string) error {
	if _, err := l.Stat(ctx, objectPath); err != nil {
		return err
	}
	p, _ := l.resolve(objectPath)
	if err := copyFile(p, localPath); err != nil {
		return downloadFailed(objectPath, err)
	}
	return nil
}

// Upload implements ObjectStorage.
func (l *LocalStorage) Upload(ctx context.Context, localPath, objectPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := l.resolve(objectPath)
	if err != nil {
		return err
	}
	if err := copyFile(localPath, p); err != nil {
		return uploadFailed(objectPath, err)
	}
	return nil
}

// resolve maps an object path into the tree, rejecting paths that would
// leave it.
func (l *LocalStorage) resolve(objectPath string) (string, error) {
	p := filepath.Join(l.root, filepath.FromSlash(objectPath))
	if p != l.root && !strings.HasPrefix(p, l.root+string(filepath.Separator)) {
		return "", cerrors.New(cerrors.ErrCategoryConfiguration, cerrors.CodeInvalidJob,
			fmt.Sprintf("object path %q escapes the storage root", objectPath))
	}
	return p, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
