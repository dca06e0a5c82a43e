package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/nebulafs/nebulafs/internal/storage/database/repository/bucket"
	"github.com/oklog/ulid/v2"
)

type sqliteRepository struct {
}

const (
	findAllBucketsStmt     = "SELECT id, name, created_at FROM buckets ORDER BY name ASC"
	findBucketByNameStmt   = "SELECT id, name, created_at FROM buckets WHERE name = $1"
	insertBucketStmt       = "INSERT INTO buckets (id, name, created_at) VALUES($1, $2, $3)"
	existsBucketByNameStmt = "SELECT id FROM buckets WHERE name = $1"
	deleteBucketByNameStmt = "DELETE FROM buckets WHERE name = $1"
)

func NewRepository() (bucket.Repository, error) {
	return &sqliteRepository{}, nil
}

func convertRowToBucketEntity(bucketRows *sql.Rows) (*bucket.Entity, error) {
	var id string
	var name string
	var createdAt time.Time
	err := bucketRows.Scan(&id, &name, &createdAt)
	if err != nil {
		return nil, err
	}
	ulidId := ulid.MustParse(id)
	bucketEntity := bucket.Entity{
		Id:        &ulidId,
		Name:      name,
		CreatedAt: createdAt,
	}
	return &bucketEntity, nil
}

func (br *sqliteRepository) SaveBucket(ctx context.Context, tx *sql.Tx, bucket *bucket.Entity) error {
	if bucket.Id == nil {
		id := ulid.Make()
		bucket.Id = &id
		bucket.CreatedAt = time.Now().UTC()
	}
	_, err := tx.ExecContext(ctx, insertBucketStmt, bucket.Id.String(), bucket.Name, bucket.CreatedAt)
	return err
}

func (br *sqliteRepository) FindAllBucketsOrderByNameAsc(ctx context.Context, tx *sql.Tx) ([]bucket.Entity, error) {
	bucketRows, err := tx.QueryContext(ctx, findAllBucketsStmt)
	if err != nil {
		return nil, err
	}
	defer bucketRows.Close()
	buckets := []bucket.Entity{}
	for bucketRows.Next() {
		bucketEntity, err := convertRowToBucketEntity(bucketRows)
		if err != nil {
			return nil, err
		}
		buckets = append(buckets, *bucketEntity)
	}
	return buckets, nil
}

func (br *sqliteRepository) FindBucketByName(ctx context.Context, tx *sql.Tx, name string) (*bucket.Entity, error) {
	bucketRows, err := tx.QueryContext(ctx, findBucketByNameStmt, name)
	if err != nil {
		return nil, err
	}
	defer bucketRows.Close()
	if !bucketRows.Next() {
		return nil, nil
	}
	return convertRowToBucketEntity(bucketRows)
}

func (br *sqliteRepository) ExistsBucketByName(ctx context.Context, tx *sql.Tx, name string) (*bool, error) {
	bucketRows, err := tx.QueryContext(ctx, existsBucketByNameStmt, name)
	if err != nil {
		return nil, err
	}
	defer bucketRows.Close()
	var exists = bucketRows.Next()
	return &exists, nil
}

func (br *sqliteRepository) DeleteBucketByName(ctx context.Context, tx *sql.Tx, name string) error {
	_, err := tx.ExecContext(ctx, deleteBucketByNameStmt, name)
	return err
}
