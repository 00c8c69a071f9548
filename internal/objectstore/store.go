// Package objectstore is the storage boundary of the repair pipeline: list a
// prefix, download an object to local disk, upload a local file.
//
// Two backends exist. S3Store talks to AWS S3 through the SDK and is what the
// Lambdas and the Batch container use. MinioStore talks to any S3-compatible
// endpoint (MinIO on an edge box, LocalStack in development).
//
// Retries are the backend client's business. Callers see one attempt.
package objectstore

import (
	"context"
	"errors"
	"io"

	"github.com/fpang/untrunc-batch/internal/batch"
)

// ErrNotFound is returned when a requested object does not exist.
var ErrNotFound = errors.New("object not found")

// Store is the object store used by the dispatcher and the runner.
type Store interface {
	// List returns every object under prefix in lexicographic key order.
	List(ctx context.Context, bucket, prefix string) ([]batch.CandidateFile, error)

	// Download writes an object to localPath and returns the bytes written.
	Download(ctx context.Context, bucket, key, localPath string) (int64, error)

	// Upload stores the file at localPath under key.
	Upload(ctx context.Context, bucket, key, localPath string) error

	// Put stores a small in-memory body under key.
	Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error
}

// ContentTypeFor returns the MIME type used when uploading a repaired video.
func ContentTypeFor(key string) string {
	switch ext := lowerExt(key); ext {
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".mkv":
		return "video/x-matroska"
	case ".avi":
		return "video/x-msvideo"
	default:
		return "application/octet-stream"
	}
}
