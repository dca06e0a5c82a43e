package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/nebulafs/nebulafs/internal/storage/database/repository/object"
	"github.com/oklog/ulid/v2"
)

type sqliteRepository struct {
}

const (
	insertObjectStmt = "INSERT INTO objects (id, bucket_id, name, size_bytes, etag, created_at, updated_at) VALUES($1, $2, $3, $4, $5, $6, $7)"
	updateObjectByIdStmt = "UPDATE objects SET size_bytes = $1, etag = $2, updated_at = $3 WHERE id = $4"
	findObjectByBucketIdAndNameStmt = "SELECT id, bucket_id, name, size_bytes, etag, created_at, updated_at FROM objects WHERE bucket_id = $1 AND name = $2"
	findObjectsByBucketIdAndPrefixStmt = "SELECT id, bucket_id, name, size_bytes, etag, created_at, updated_at FROM objects WHERE bucket_id = $1 AND name LIKE $2 ESCAPE '\\' ORDER BY name ASC"
	deleteObjectByBucketIdAndNameStmt = "DELETE FROM objects WHERE bucket_id = $1 AND name = $2"
)

func NewRepository() (object.Repository, error) {
	return &sqliteRepository{}, nil
}

func convertRowToObjectEntity(objectRows *sql.Rows) (*object.Entity, error) {
	var id string
	var bucketId string
	var name string
	var sizeBytes int64
	var etag string
	var createdAt time.Time
	var updatedAt time.Time
	err := objectRows.Scan(&id, &bucketId, &name, &sizeBytes, &etag, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	ulidId := ulid.MustParse(id)
	objectEntity := object.Entity{
		Id:        &ulidId,
		BucketId:  ulid.MustParse(bucketId),
		Name:      name,
		SizeBytes: sizeBytes,
		ETag:      etag,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}
	return &objectEntity, nil
}

func escapeLikePattern(prefix string) string {
	replacer := strings.NewReplacer("\\", "\\\\", "%", "\\%", "_", "\\_")
	return replacer.Replace(prefix) + "%"
}

func (or *sqliteRepository) SaveObject(ctx context.Context, tx *sql.Tx, object *object.Entity) error {
	if object.Id == nil {
		id := ulid.Make()
		object.Id = &id
		object.CreatedAt = time.Now().UTC()
		object.UpdatedAt = object.CreatedAt
		_, err := tx.ExecContext(ctx, insertObjectStmt, object.Id.String(), object.BucketId.String(), object.Name, object.SizeBytes, object.ETag, object.CreatedAt, object.UpdatedAt)
		return err
	}
	object.UpdatedAt = time.Now().UTC()
	_, err := tx.ExecContext(ctx, updateObjectByIdStmt, object.SizeBytes, object.ETag, object.UpdatedAt, object.Id.String())
	return err
}

func (or *sqliteRepository) FindObjectByBucketIdAndName(ctx context.Context, tx *sql.Tx, bucketId ulid.ULID, name string) (*object.Entity, error) {
	objectRows, err := tx.QueryContext(ctx, findObjectByBucketIdAndNameStmt, bucketId.String(), name)
	if err != nil {
		return nil, err
	}
	defer objectRows.Close()
	if !objectRows.Next() {
		return nil, nil
	}
	return convertRowToObjectEntity(objectRows)
}

func (or *sqliteRepository) FindObjectsByBucketIdAndPrefixOrderByNameAsc(ctx context.Context, tx *sql.Tx, bucketId ulid.ULID, prefix string) ([]object.Entity, error) {
	objectRows, err := tx.QueryContext(ctx, findObjectsByBucketIdAndPrefixStmt, bucketId.String(), escapeLikePattern(prefix))
	if err != nil {
		return nil, err
	}
	defer objectRows.Close()
	objects := []object.Entity{}
	for objectRows.Next() {
		objectEntity, err := convertRowToObjectEntity(objectRows)
		if err != nil {
			return nil, err
		}
		objects = append(objects, *objectEntity)
	}
	return objects, nil
}

func (or *sqliteRepository) DeleteObjectByBucketIdAndName(ctx context.Context, tx *sql.Tx, bucketId ulid.ULID, name string) error {
	_, err := tx.ExecContext(ctx, deleteObjectByBucketIdAndNameStmt, bucketId.String(), name)
	return err
}
