package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/nebulafs/nebulafs/internal/storage/database/repository/multipartupload"
	"github.com/oklog/ulid/v2"
)

type sqliteRepository struct {
}

const (
	insertMultipartUploadStmt = "INSERT INTO multipart_uploads (id, upload_id, bucket_id, object_name, state, expires_at, created_at, updated_at) VALUES($1, $2, $3, $4, $5, $6, $7, $8)"
	findMultipartUploadByUploadIdStmt = "SELECT id, upload_id, bucket_id, object_name, state, expires_at, created_at, updated_at FROM multipart_uploads WHERE upload_id = $1"
	findExpiredMultipartUploadsStmt = "SELECT id, upload_id, bucket_id, object_name, state, expires_at, created_at, updated_at FROM multipart_uploads WHERE state IN ('initiated', 'uploading') AND expires_at < $1 ORDER BY expires_at ASC LIMIT $2"
	updateMultipartUploadStateByUploadIdStmt = "UPDATE multipart_uploads SET state = $1, updated_at = $2 WHERE upload_id = $3"
	deleteMultipartUploadByUploadIdStmt = "DELETE FROM multipart_uploads WHERE upload_id = $1"
)

func NewRepository() (multipartupload.Repository, error) {
	return &sqliteRepository{}, nil
}

func convertRowToMultipartUploadEntity(uploadRows *sql.Rows) (*multipartupload.Entity, error) {
	var id string
	var uploadId string
	var bucketId string
	var objectName string
	var state string
	var expiresAt time.Time
	var createdAt time.Time
	var updatedAt time.Time
	err := uploadRows.Scan(&id, &uploadId, &bucketId, &objectName, &state, &expiresAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	ulidId := ulid.MustParse(id)
	uploadEntity := multipartupload.Entity{
		Id:         &ulidId,
		UploadId:   uploadId,
		BucketId:   ulid.MustParse(bucketId),
		ObjectName: objectName,
		State:      state,
		ExpiresAt:  expiresAt,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}
	return &uploadEntity, nil
}

func (ur *sqliteRepository) SaveMultipartUpload(ctx context.Context, tx *sql.Tx, upload *multipartupload.Entity) error {
	if upload.Id == nil {
		id := ulid.Make()
		upload.Id = &id
		upload.CreatedAt = time.Now().UTC()
		upload.UpdatedAt = upload.CreatedAt
	}
	_, err := tx.ExecContext(ctx, insertMultipartUploadStmt, upload.Id.String(), upload.UploadId, upload.BucketId.String(), upload.ObjectName, upload.State, upload.ExpiresAt, upload.CreatedAt, upload.UpdatedAt)
	return err
}

func (ur *sqliteRepository) FindMultipartUploadByUploadId(ctx context.Context, tx *sql.Tx, uploadId string) (*multipartupload.Entity, error) {
	uploadRows, err := tx.QueryContext(ctx, findMultipartUploadByUploadIdStmt, uploadId)
	if err != nil {
		return nil, err
	}
	defer uploadRows.Close()
	if !uploadRows.Next() {
		return nil, nil
	}
	return convertRowToMultipartUploadEntity(uploadRows)
}

func (ur *sqliteRepository) FindExpiredMultipartUploadsOrderByExpiresAtAsc(ctx context.Context, tx *sql.Tx, cutoff time.Time, limit int) ([]multipartupload.Entity, error) {
	uploadRows, err := tx.QueryContext(ctx, findExpiredMultipartUploadsStmt, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer uploadRows.Close()
	uploads := []multipartupload.Entity{}
	for uploadRows.Next() {
		uploadEntity, err := convertRowToMultipartUploadEntity(uploadRows)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, *uploadEntity)
	}
	return uploads, nil
}

func (ur *sqliteRepository) UpdateMultipartUploadStateByUploadId(ctx context.Context, tx *sql.Tx, uploadId string, state string) error {
	_, err := tx.ExecContext(ctx, updateMultipartUploadStateByUploadIdStmt, state, time.Now().UTC(), uploadId)
	return err
}

func (ur *sqliteRepository) DeleteMultipartUploadByUploadId(ctx context.Context, tx *sql.Tx, uploadId string) error {
	_, err := tx.ExecContext(ctx, deleteMultipartUploadByUploadIdStmt, uploadId)
	return err
}
