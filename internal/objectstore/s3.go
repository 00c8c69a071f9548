package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/untrunc-batch/internal/batch"
)

const (
	// multipartThreshold is the file size above which uploads switch to
	// multipart. Single PutObject calls are limited to 5 GB.
	multipartThreshold int64 = 100 * 1024 * 1024
	// minPartSize is the minimum S3 multipart part size (5 MB).
	minPartSize int64 = 5 * 1024 * 1024
	// maxParts is the S3 maximum number of parts in a multipart upload.
	maxParts int64 = 10000
	// defaultPartSize keeps a 200 GB file under maxParts.
	defaultPartSize int64 = 64 * 1024 * 1024
)

// S3API is the subset of *s3.Client used by S3Store.
type S3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, opts ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, opts ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// S3Store implements Store on AWS S3.
type S3Store struct {
	client  S3API
	tagging *string
}

var _ Store = (*S3Store)(nil)

// NewS3Store wraps an S3 client. projectTag, when non-empty, is applied as
// the Project cost-allocation tag on every object written.
func NewS3Store(client S3API, projectTag string) *S3Store {
	s := &S3Store{client: client}
	if projectTag != "" {
		t := "Project=" + projectTag
		s.tagging = &t
	}
	return s
}

// List pages through ListObjectsV2 under prefix.
func (s *S3Store) List(ctx context.Context, bucket, prefix string) ([]batch.CandidateFile, error) {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	var files []batch.CandidateFile
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("S3 ListObjectsV2 s3://%s/%s: %w", bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			f := batch.CandidateFile{
				Key:       aws.ToString(obj.Key),
				SizeBytes: aws.ToInt64(obj.Size),
			}
			if obj.LastModified != nil {
				f.LastModified = obj.LastModified.UTC()
			}
			files = append(files, f)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Key < files[j].Key })

	log.Debug().Str("bucket", bucket).Str("prefix", prefix).Int("objectCount", len(files)).Msg("S3 listing complete")
	return files, nil
}

// Download streams an object to localPath. A partial file is removed on
// failure.
func (s *S3Store) Download(ctx context.Context, bucket, key, localPath string) (int64, error) {
	log.Debug().Str("bucket", bucket).Str("key", key).Str("localPath", localPath).Msg("Downloading from S3")
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return 0, fmt.Errorf("S3 GetObject %s: %w", key, ErrNotFound)
		}
		return 0, fmt.Errorf("S3 GetObject %s: %w", key, err)
	}
	defer result.Body.Close()

	return writeFile(localPath, result.Body)
}

// Upload stores a local file, switching to multipart above
// multipartThreshold.
func (s *S3Store) Upload(ctx context.Context, bucket, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", localPath, err)
	}

	if info.Size() <= multipartThreshold {
		return s.Put(ctx, bucket, key, f, info.Size(), ContentTypeFor(key))
	}
	return s.uploadMultipart(ctx, bucket, key, f, info.Size())
}

// Put stores body with a single PutObject call.
func (s *S3Store) Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error {
	log.Debug().Str("bucket", bucket).Str("key", key).Int64("size", size).Msg("Uploading to S3")
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
		Tagging:       s.tagging,
	})
	if err != nil {
		return fmt.Errorf("S3 PutObject %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) uploadMultipart(ctx context.Context, bucket, key string, f *os.File, size int64) error {
	partSize := PartSize(size)
	created, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		ContentType: aws.String(ContentTypeFor(key)),
		Tagging:     s.tagging,
	})
	if err != nil {
		return fmt.Errorf("S3 CreateMultipartUpload %s: %w", key, err)
	}
	uploadID := created.UploadId

	abort := func(cause error) error {
		_, abortErr := s.client.AbortMultipartUpload(context.WithoutCancel(ctx), &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(bucket),
			Key:      aws.String(key),
			UploadId: uploadID,
		})
		if abortErr != nil {
			log.Warn().Err(abortErr).Str("key", key).Msg("Failed to abort multipart upload")
		}
		return cause
	}

	var parts []s3types.CompletedPart
	for offset, n := int64(0), int32(1); offset < size; offset, n = offset+partSize, n+1 {
		length := partSize
		if offset+length > size {
			length = size - offset
		}
		out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(bucket),
			Key:           aws.String(key),
			UploadId:      uploadID,
			PartNumber:    aws.Int32(n),
			Body:          io.NewSectionReader(f, offset, length),
			ContentLength: aws.Int64(length),
		})
		if err != nil {
			return abort(fmt.Errorf("S3 UploadPart %s part %d: %w", key, n, err))
		}
		parts = append(parts, s3types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(n)})
	}

	_, err = s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(bucket),
		Key:             aws.String(key),
		UploadId:        uploadID,
		MultipartUpload: &s3types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return abort(fmt.Errorf("S3 CompleteMultipartUpload %s: %w", key, err))
	}

	log.Debug().Str("key", key).Int64("size", size).Int("parts", len(parts)).Msg("Multipart upload complete")
	return nil
}

// PartSize picks a multipart part size that keeps the part count within
// the S3 limit.
func PartSize(size int64) int64 {
	partSize := defaultPartSize
	if need := (size + maxParts - 1) / maxParts; need > partSize {
		partSize = need
	}
	if partSize < minPartSize {
		partSize = minPartSize
	}
	return partSize
}

// writeFile copies r into a new file at path, removing it on failure.
func writeFile(path string, r io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}
	n, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return n, fmt.Errorf("download: %w", err)
	}
	return n, nil
}

func lowerExt(key string) string {
	return strings.ToLower(filepath.Ext(key))
}
