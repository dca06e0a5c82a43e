package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/nebulafs/nebulafs/internal/storage/database/repository/multipartpart"
	"github.com/oklog/ulid/v2"
)

type sqliteRepository struct {
}

const (
	insertMultipartPartStmt = "INSERT INTO multipart_parts (id, upload_id, part_number, size_bytes, etag, temp_path, created_at) VALUES($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (upload_id, part_number) DO UPDATE SET size_bytes = excluded.size_bytes, etag = excluded.etag, temp_path = excluded.temp_path"
	findMultipartPartByUploadIdAndPartNumberStmt = "SELECT id, upload_id, part_number, size_bytes, etag, temp_path, created_at FROM multipart_parts WHERE upload_id = $1 AND part_number = $2"
	findMultipartPartsByUploadIdStmt = "SELECT id, upload_id, part_number, size_bytes, etag, temp_path, created_at FROM multipart_parts WHERE upload_id = $1 ORDER BY part_number ASC"
	countMultipartPartsByUploadIdStmt = "SELECT COUNT(*) FROM multipart_parts WHERE upload_id = $1"
	deleteMultipartPartsByUploadIdStmt = "DELETE FROM multipart_parts WHERE upload_id = $1"
)

func NewRepository() (multipartpart.Repository, error) {
	return &sqliteRepository{}, nil
}

func convertRowToMultipartPartEntity(partRows *sql.Rows) (*multipartpart.Entity, error) {
	var id string
	var uploadId string
	var partNumber int
	var sizeBytes int64
	var etag string
	var tempPath string
	var createdAt time.Time
	err := partRows.Scan(&id, &uploadId, &partNumber, &sizeBytes, &etag, &tempPath, &createdAt)
	if err != nil {
		return nil, err
	}
	ulidId := ulid.MustParse(id)
	partEntity := multipartpart.Entity{
		Id:         &ulidId,
		UploadId:   uploadId,
		PartNumber: partNumber,
		SizeBytes:  sizeBytes,
		ETag:       etag,
		TempPath:   tempPath,
		CreatedAt:  createdAt,
	}
	return &partEntity, nil
}

func (pr *sqliteRepository) SaveMultipartPart(ctx context.Context, tx *sql.Tx, part *multipartpart.Entity) error {
	if part.Id == nil {
		id := ulid.Make()
		part.Id = &id
		part.CreatedAt = time.Now().UTC()
	}
	_, err := tx.ExecContext(ctx, insertMultipartPartStmt, part.Id.String(), part.UploadId, part.PartNumber, part.SizeBytes, part.ETag, part.TempPath, part.CreatedAt)
	return err
}

func (pr *sqliteRepository) FindMultipartPartByUploadIdAndPartNumber(ctx context.Context, tx *sql.Tx, uploadId string, partNumber int) (*multipartpart.Entity, error) {
	partRows, err := tx.QueryContext(ctx, findMultipartPartByUploadIdAndPartNumberStmt, uploadId, partNumber)
	if err != nil {
		return nil, err
	}
	defer partRows.Close()
	if !partRows.Next() {
		return nil, nil
	}
	return convertRowToMultipartPartEntity(partRows)
}

func (pr *sqliteRepository) FindMultipartPartsByUploadIdOrderByPartNumberAsc(ctx context.Context, tx *sql.Tx, uploadId string) ([]multipartpart.Entity, error) {
	partRows, err := tx.QueryContext(ctx, findMultipartPartsByUploadIdStmt, uploadId)
	if err != nil {
		return nil, err
	}
	defer partRows.Close()
	parts := []multipartpart.Entity{}
	for partRows.Next() {
		partEntity, err := convertRowToMultipartPartEntity(partRows)
		if err != nil {
			return nil, err
		}
		parts = append(parts, *partEntity)
	}
	return parts, nil
}

func (pr *sqliteRepository) CountMultipartPartsByUploadId(ctx context.Context, tx *sql.Tx, uploadId string) (*int, error) {
	partRows, err := tx.QueryContext(ctx, countMultipartPartsByUploadIdStmt, uploadId)
	if err != nil {
		return nil, err
	}
	defer partRows.Close()
	var count int
	if partRows.Next() {
		err = partRows.Scan(&count)
		if err != nil {
			return nil, err
		}
	}
	return &count, nil
}

func (pr *sqliteRepository) DeleteMultipartPartsByUploadId(ctx context.Context, tx *sql.Tx, uploadId string) error {
	_, err := tx.ExecContext(ctx, deleteMultipartPartsByUploadIdStmt, uploadId)
	return err
}
