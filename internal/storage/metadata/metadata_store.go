package metadata

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	ErrNoSuchBucket        = errors.New("bucket not found")
	ErrBucketAlreadyExists = errors.New("bucket already exists")
	ErrNoSuchKey           = errors.New("object not found")
	ErrNoSuchUpload        = errors.New("multipart upload not found")
)

type Bucket struct {
	Id        ulid.ULID
	Name      string
	CreatedAt time.Time
}

type Object struct {
	Name      string
	SizeBytes int64
	ETag      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type MultipartUpload struct {
	UploadId   string
	BucketId   ulid.ULID
	ObjectName string
	State      string
	ExpiresAt  time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type MultipartPart struct {
	UploadId   string
	PartNumber int
	SizeBytes  int64
	ETag       string
	TempPath   string
	CreatedAt  time.Time
}

// Store is the transactional metadata index over buckets, objects, multipart
// uploads and parts. Implementations linearize writes; readers observe
// committed rows only.
type Store interface {
	CreateBucket(ctx context.Context, name string) (*Bucket, error)
	ListBuckets(ctx context.Context) ([]Bucket, error)
	GetBucket(ctx context.Context, name string) (*Bucket, error)

	UpsertObject(ctx context.Context, bucketName string, object *Object) (*Object, error)
	GetObject(ctx context.Context, bucketName string, name string) (*Object, error)
	ListObjects(ctx context.Context, bucketName string, prefix string) ([]Object, error)
	DeleteObject(ctx context.Context, bucketName string, name string) error

	CreateMultipartUpload(ctx context.Context, bucketName string, uploadId string, objectName string, expiresAt time.Time) (*MultipartUpload, error)
	GetMultipartUpload(ctx context.Context, uploadId string) (*MultipartUpload, error)
	ListExpiredMultipartUploads(ctx context.Context, cutoff time.Time, limit int) ([]MultipartUpload, error)
	UpdateMultipartUploadState(ctx context.Context, uploadId string, state string) error
	DeleteMultipartUpload(ctx context.Context, uploadId string) error

	UpsertMultipartPart(ctx context.Context, uploadId string, partNumber int, sizeBytes int64, etag string, tempPath string) (*MultipartPart, error)
	ListMultipartParts(ctx context.Context, uploadId string) ([]MultipartPart, error)
	CountMultipartParts(ctx context.Context, uploadId string) (int, error)
	DeleteMultipartParts(ctx context.Context, uploadId string) error
}
