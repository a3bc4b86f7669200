// Package storage provides the object storage abstractions and the file I/O
// layer that scan tasks use to reach data and delete files.
package storage

import (
	"context"
	"fmt"

	cerrors "github.com/arkilian/compactor/internal/errors"
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Path string
	Size int64
}

// ObjectStorage is the read side of an object store plus Upload for staging
// inputs. Failures are storage errors from internal/errors: a missing object
// has code OBJECT_NOT_FOUND. Implementations must be safe for concurrent use.
type ObjectStorage interface {
	// Stat returns the size of the object at objectPath.
	Stat(ctx context.Context, objectPath string) (ObjectInfo, error)

	// Download writes the object at objectPath to localPath.
	Download(ctx context.Context, objectPath, localPath string) error

	// Upload stores the local file at objectPath.
	Upload(ctx context.Context, localPath, objectPath string) error
}

func notFound(objectPath string) error {
	return cerrors.New(cerrors.ErrCategoryStorage, cerrors.CodeObjectNotFound,
		fmt.Sprintf("object not found: %s", objectPath))
}

func downloadFailed(objectPath string, cause error) error {
	return cerrors.NewStorageError(cerrors.CodeDownloadFailed,
		fmt.Sprintf("failed to download %s", objectPath), cause)
}

func uploadFailed(objectPath string, cause error) error {
	return cerrors.NewStorageError(cerrors.CodeUploadFailed,
		fmt.Sprintf("failed to upload %s", objectPath), cause)
}

// IsNotFound reports whether err is a missing-object error.
func IsNotFound(err error) bool {
	return cerrors.GetCode(err) == cerrors.CodeObjectNotFound
}
