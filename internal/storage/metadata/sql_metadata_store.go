package metadata

import (
	"context"
	"database/sql"
	"time"

	"github.com/nebulafs/nebulafs/internal/storage/database"
	"github.com/nebulafs/nebulafs/internal/storage/database/repository/bucket"
	"github.com/nebulafs/nebulafs/internal/storage/database/repository/multipartpart"
	"github.com/nebulafs/nebulafs/internal/storage/database/repository/multipartupload"
	"github.com/nebulafs/nebulafs/internal/storage/database/repository/object"
)

type sqlMetadataStore struct {
	db                        database.Database
	bucketRepository          bucket.Repository
	objectRepository          object.Repository
	multipartUploadRepository multipartupload.Repository
	multipartPartRepository   multipartpart.Repository
}

var _ Store = (*sqlMetadataStore)(nil)

func NewSqlStore(db database.Database, bucketRepository bucket.Repository, objectRepository object.Repository, multipartUploadRepository multipartupload.Repository, multipartPartRepository multipartpart.Repository) (Store, error) {
	return &sqlMetadataStore{
		db:                        db,
		bucketRepository:          bucketRepository,
		objectRepository:          objectRepository,
		multipartUploadRepository: multipartUploadRepository,
		multipartPartRepository:   multipartPartRepository,
	}, nil
}

func (sms *sqlMetadataStore) inReadTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := sms.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return err
	}
	err = fn(tx)
	if err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (sms *sqlMetadataStore) inWriteTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := sms.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	err = fn(tx)
	if err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func convertBucketEntity(bucketEntity *bucket.Entity) *Bucket {
	return &Bucket{
		Id:        *bucketEntity.Id,
		Name:      bucketEntity.Name,
		CreatedAt: bucketEntity.CreatedAt,
	}
}

func convertObjectEntity(objectEntity *object.Entity) *Object {
	return &Object{
		Name:      objectEntity.Name,
		SizeBytes: objectEntity.SizeBytes,
		ETag:      objectEntity.ETag,
		CreatedAt: objectEntity.CreatedAt,
		UpdatedAt: objectEntity.UpdatedAt,
	}
}

func convertMultipartUploadEntity(uploadEntity *multipartupload.Entity) *MultipartUpload {
	return &MultipartUpload{
		UploadId:   uploadEntity.UploadId,
		BucketId:   uploadEntity.BucketId,
		ObjectName: uploadEntity.ObjectName,
		State:      uploadEntity.State,
		ExpiresAt:  uploadEntity.ExpiresAt,
		CreatedAt:  uploadEntity.CreatedAt,
		UpdatedAt:  uploadEntity.UpdatedAt,
	}
}

func convertMultipartPartEntity(partEntity *multipartpart.Entity) *MultipartPart {
	return &MultipartPart{
		UploadId:   partEntity.UploadId,
		PartNumber: partEntity.PartNumber,
		SizeBytes:  partEntity.SizeBytes,
		ETag:       partEntity.ETag,
		TempPath:   partEntity.TempPath,
		CreatedAt:  partEntity.CreatedAt,
	}
}

func (sms *sqlMetadataStore) CreateBucket(ctx context.Context, name string) (*Bucket, error) {
	var created *Bucket
	err := sms.inWriteTx(ctx, func(tx *sql.Tx) error {
		exists, err := sms.bucketRepository.ExistsBucketByName(ctx, tx, name)
		if err != nil {
			return err
		}
		if *exists {
			return ErrBucketAlreadyExists
		}
		bucketEntity := bucket.Entity{
			Name: name,
		}
		err = sms.bucketRepository.SaveBucket(ctx, tx, &bucketEntity)
		if err != nil {
			return err
		}
		created = convertBucketEntity(&bucketEntity)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (sms *sqlMetadataStore) ListBuckets(ctx context.Context) ([]Bucket, error) {
	var buckets []Bucket
	err := sms.inReadTx(ctx, func(tx *sql.Tx) error {
		bucketEntities, err := sms.bucketRepository.FindAllBucketsOrderByNameAsc(ctx, tx)
		if err != nil {
			return err
		}
		buckets = []Bucket{}
		for idx := range bucketEntities {
			buckets = append(buckets, *convertBucketEntity(&bucketEntities[idx]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return buckets, nil
}

func (sms *sqlMetadataStore) GetBucket(ctx context.Context, name string) (*Bucket, error) {
	var found *Bucket
	err := sms.inReadTx(ctx, func(tx *sql.Tx) error {
		bucketEntity, err := sms.bucketRepository.FindBucketByName(ctx, tx, name)
		if err != nil {
			return err
		}
		if bucketEntity == nil {
			return ErrNoSuchBucket
		}
		found = convertBucketEntity(bucketEntity)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (sms *sqlMetadataStore) UpsertObject(ctx context.Context, bucketName string, obj *Object) (*Object, error) {
	var upserted *Object
	err := sms.inWriteTx(ctx, func(tx *sql.Tx) error {
		bucketEntity, err := sms.bucketRepository.FindBucketByName(ctx, tx, bucketName)
		if err != nil {
			return err
		}
		if bucketEntity == nil {
			return ErrNoSuchBucket
		}

		objectEntity, err := sms.objectRepository.FindObjectByBucketIdAndName(ctx, tx, *bucketEntity.Id, obj.Name)
		if err != nil {
			return err
		}
		if objectEntity == nil {
			objectEntity = &object.Entity{
				BucketId: *bucketEntity.Id,
				Name:     obj.Name,
			}
		}
		objectEntity.SizeBytes = obj.SizeBytes
		objectEntity.ETag = obj.ETag
		err = sms.objectRepository.SaveObject(ctx, tx, objectEntity)
		if err != nil {
			return err
		}
		upserted = convertObjectEntity(objectEntity)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return upserted, nil
}

func (sms *sqlMetadataStore) GetObject(ctx context.Context, bucketName string, name string) (*Object, error) {
	var found *Object
	err := sms.inReadTx(ctx, func(tx *sql.Tx) error {
		bucketEntity, err := sms.bucketRepository.FindBucketByName(ctx, tx, bucketName)
		if err != nil {
			return err
		}
		if bucketEntity == nil {
			return ErrNoSuchBucket
		}
		objectEntity, err := sms.objectRepository.FindObjectByBucketIdAndName(ctx, tx, *bucketEntity.Id, name)
		if err != nil {
			return err
		}
		if objectEntity == nil {
			return ErrNoSuchKey
		}
		found = convertObjectEntity(objectEntity)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (sms *sqlMetadataStore) ListObjects(ctx context.Context, bucketName string, prefix string) ([]Object, error) {
	var objects []Object
	err := sms.inReadTx(ctx, func(tx *sql.Tx) error {
		bucketEntity, err := sms.bucketRepository.FindBucketByName(ctx, tx, bucketName)
		if err != nil {
			return err
		}
		if bucketEntity == nil {
			return ErrNoSuchBucket
		}
		objectEntities, err := sms.objectRepository.FindObjectsByBucketIdAndPrefixOrderByNameAsc(ctx, tx, *bucketEntity.Id, prefix)
		if err != nil {
			return err
		}
		objects = []Object{}
		for idx := range objectEntities {
			objects = append(objects, *convertObjectEntity(&objectEntities[idx]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return objects, nil
}

func (sms *sqlMetadataStore) DeleteObject(ctx context.Context, bucketName string, name string) error {
	return sms.inWriteTx(ctx, func(tx *sql.Tx) error {
		bucketEntity, err := sms.bucketRepository.FindBucketByName(ctx, tx, bucketName)
		if err != nil {
			return err
		}
		if bucketEntity == nil {
			return ErrNoSuchBucket
		}
		return sms.objectRepository.DeleteObjectByBucketIdAndName(ctx, tx, *bucketEntity.Id, name)
	})
}

func (sms *sqlMetadataStore) CreateMultipartUpload(ctx context.Context, bucketName string, uploadId string, objectName string, expiresAt time.Time) (*MultipartUpload, error) {
	var created *MultipartUpload
	err := sms.inWriteTx(ctx, func(tx *sql.Tx) error {
		bucketEntity, err := sms.bucketRepository.FindBucketByName(ctx, tx, bucketName)
		if err != nil {
			return err
		}
		if bucketEntity == nil {
			return ErrNoSuchBucket
		}
		uploadEntity := multipartupload.Entity{
			UploadId:   uploadId,
			BucketId:   *bucketEntity.Id,
			ObjectName: objectName,
			State:      multipartupload.StateInitiated,
			ExpiresAt:  expiresAt,
		}
		err = sms.multipartUploadRepository.SaveMultipartUpload(ctx, tx, &uploadEntity)
		if err != nil {
			return err
		}
		created = convertMultipartUploadEntity(&uploadEntity)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (sms *sqlMetadataStore) GetMultipartUpload(ctx context.Context, uploadId string) (*MultipartUpload, error) {
	var found *MultipartUpload
	err := sms.inReadTx(ctx, func(tx *sql.Tx) error {
		uploadEntity, err := sms.multipartUploadRepository.FindMultipartUploadByUploadId(ctx, tx, uploadId)
		if err != nil {
			return err
		}
		if uploadEntity == nil {
			return ErrNoSuchUpload
		}
		found = convertMultipartUploadEntity(uploadEntity)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (sms *sqlMetadataStore) ListExpiredMultipartUploads(ctx context.Context, cutoff time.Time, limit int) ([]MultipartUpload, error) {
	var uploads []MultipartUpload
	err := sms.inReadTx(ctx, func(tx *sql.Tx) error {
		uploadEntities, err := sms.multipartUploadRepository.FindExpiredMultipartUploadsOrderByExpiresAtAsc(ctx, tx, cutoff, limit)
		if err != nil {
			return err
		}
		uploads = []MultipartUpload{}
		for idx := range uploadEntities {
			uploads = append(uploads, *convertMultipartUploadEntity(&uploadEntities[idx]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return uploads, nil
}

func (sms *sqlMetadataStore) UpdateMultipartUploadState(ctx context.Context, uploadId string, state string) error {
	return sms.inWriteTx(ctx, func(tx *sql.Tx) error {
		return sms.multipartUploadRepository.UpdateMultipartUploadStateByUploadId(ctx, tx, uploadId, state)
	})
}

func (sms *sqlMetadataStore) DeleteMultipartUpload(ctx context.Context, uploadId string) error {
	return sms.inWriteTx(ctx, func(tx *sql.Tx) error {
		return sms.multipartUploadRepository.DeleteMultipartUploadByUploadId(ctx, tx, uploadId)
	})
}

func (sms *sqlMetadataStore) UpsertMultipartPart(ctx context.Context, uploadId string, partNumber int, sizeBytes int64, etag string, tempPath string) (*MultipartPart, error) {
	var upserted *MultipartPart
	err := sms.inWriteTx(ctx, func(tx *sql.Tx) error {
		uploadEntity, err := sms.multipartUploadRepository.FindMultipartUploadByUploadId(ctx, tx, uploadId)
		if err != nil {
			return err
		}
		if uploadEntity == nil {
			return ErrNoSuchUpload
		}
		partEntity := multipartpart.Entity{
			UploadId:   uploadId,
			PartNumber: partNumber,
			SizeBytes:  sizeBytes,
			ETag:       etag,
			TempPath:   tempPath,
		}
		err = sms.multipartPartRepository.SaveMultipartPart(ctx, tx, &partEntity)
		if err != nil {
			return err
		}
		upserted = convertMultipartPartEntity(&partEntity)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return upserted, nil
}

func (sms *sqlMetadataStore) ListMultipartParts(ctx context.Context, uploadId string) ([]MultipartPart, error) {
	var parts []MultipartPart
	err := sms.inReadTx(ctx, func(tx *sql.Tx) error {
		partEntities, err := sms.multipartPartRepository.FindMultipartPartsByUploadIdOrderByPartNumberAsc(ctx, tx, uploadId)
		if err != nil {
			return err
		}
		parts = []MultipartPart{}
		for idx := range partEntities {
			parts = append(parts, *convertMultipartPartEntity(&partEntities[idx]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return parts, nil
}

func (sms *sqlMetadataStore) CountMultipartParts(ctx context.Context, uploadId string) (int, error) {
	var count int
	err := sms.inReadTx(ctx, func(tx *sql.Tx) error {
		counted, err := sms.multipartPartRepository.CountMultipartPartsByUploadId(ctx, tx, uploadId)
		if err != nil {
			return err
		}
		count = *counted
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (sms *sqlMetadataStore) DeleteMultipartParts(ctx context.Context, uploadId string) error {
	return sms.inWriteTx(ctx, func(tx *sql.Tx) error {
		return sms.multipartPartRepository.DeleteMultipartPartsByUploadId(ctx, tx, uploadId)
	})
}
