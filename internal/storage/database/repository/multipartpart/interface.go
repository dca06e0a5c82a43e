package multipartpart

import (
	"context"
	"database/sql"
	"time"

	"github.com/oklog/ulid/v2"
)

type Entity struct {
	Id         *ulid.ULID
	UploadId   string
	PartNumber int
	SizeBytes  int64
	ETag       string
	TempPath   string
	CreatedAt  time.Time
}

type Repository interface {
	SaveMultipartPart(ctx context.Context, tx *sql.Tx, part *Entity) error
	FindMultipartPartByUploadIdAndPartNumber(ctx context.Context, tx *sql.Tx, uploadId string, partNumber int) (*Entity, error)
	FindMultipartPartsByUploadIdOrderByPartNumberAsc(ctx context.Context, tx *sql.Tx, uploadId string) ([]Entity, error)
	CountMultipartPartsByUploadId(ctx context.Context, tx *sql.Tx, uploadId string) (*int, error)
	DeleteMultipartPartsByUploadId(ctx context.Context, tx *sql.Tx, uploadId string) error
}
