package object

import (
	"context"
	"database/sql"
	"time"

	"github.com/oklog/ulid/v2"
)

type Entity struct {
	Id        *ulid.ULID
	BucketId  ulid.ULID
	Name      string
	SizeBytes int64
	ETag      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Repository interface {
	SaveObject(ctx context.Context, tx *sql.Tx, object *Entity) error
	FindObjectByBucketIdAndName(ctx context.Context, tx *sql.Tx, bucketId ulid.ULID, name string) (*Entity, error)
	FindObjectsByBucketIdAndPrefixOrderByNameAsc(ctx context.Context, tx *sql.Tx, bucketId ulid.ULID, prefix string) ([]Entity, error)
	DeleteObjectByBucketIdAndName(ctx context.Context, tx *sql.Tx, bucketId ulid.ULID, name string) error
}
