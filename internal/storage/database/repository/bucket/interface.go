package bucket

import (
	"context"
	"database/sql"
	"time"

	"github.com/oklog/ulid/v2"
)

type Entity struct {
	Id        *ulid.ULID
	Name      string
	CreatedAt time.Time
}

type Repository interface {
	SaveBucket(ctx context.Context, tx *sql.Tx, bucket *Entity) error
	FindAllBucketsOrderByNameAsc(ctx context.Context, tx *sql.Tx) ([]Entity, error)
	FindBucketByName(ctx context.Context, tx *sql.Tx, name string) (*Entity, error)
	ExistsBucketByName(ctx context.Context, tx *sql.Tx, name string) (*bool, error)
	DeleteBucketByName(ctx context.Context, tx *sql.Tx, name string) error
}
