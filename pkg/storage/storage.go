package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/pagewise/reader/pkg/logger"
	"github.com/pagewise/reader/pkg/storage/minio"
	"github.com/pagewise/reader/pkg/storage/s3"
)

// StorageType selects the object storage backend.
type StorageType string

const (
	StorageTypeS3    StorageType = "s3"
	StorageTypeMinio StorageType = "minio"
)

// Storage is the file storage interface consumed by the pipeline.
type Storage interface {
	// Store writes the object and returns its key.
	Store(ctx context.Context, reader io.Reader, key string, contentType string) (string, error)
	// Get opens the object for reading.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the object.
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every object under the key prefix. Used when a
	// document is deleted, so derived objects never outlive their document.
	DeletePrefix(ctx context.Context, prefix string) error
}

// NewStorage is the factory for storage backends.
func NewStorage(storageType StorageType, logger logger.Logger) (Storage, error) {
	switch storageType {
	case StorageTypeS3:
		return s3.GetClient(logger)
	case StorageTypeMinio:
		return minio.GetClient(logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}
