package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"
)

// BlobStore persists uploaded book files under their stored names.
type BlobStore interface {
	Save(ctx context.Context, storedName string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, storedName string) (io.ReadCloser, error)
	Delete(ctx context.Context, storedName string) error
}

// StoredName derives a collision-resistant name for an upload, keeping
// the original extension for content-type sniffing on download.
func StoredName(originalFilename string) string {
	return fmt.Sprintf("%d%s", time.Now().UnixNano(), filepath.Ext(originalFilename))
}
