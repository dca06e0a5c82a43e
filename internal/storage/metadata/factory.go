package metadata

import (
	"github.com/nebulafs/nebulafs/internal/storage/database"
	bucketSqlite "github.com/nebulafs/nebulafs/internal/storage/database/repository/bucket/sqlite"
	multipartPartSqlite "github.com/nebulafs/nebulafs/internal/storage/database/repository/multipartpart/sqlite"
	multipartUploadSqlite "github.com/nebulafs/nebulafs/internal/storage/database/repository/multipartupload/sqlite"
	objectSqlite "github.com/nebulafs/nebulafs/internal/storage/database/repository/object/sqlite"
)

// NewSqliteStore assembles the SQL store with the sqlite repository set.
func NewSqliteStore(db database.Database) (Store, error) {
	bucketRepository, err := bucketSqlite.NewRepository()
	if err != nil {
		return nil, err
	}
	objectRepository, err := objectSqlite.NewRepository()
	if err != nil {
		return nil, err
	}
	multipartUploadRepository, err := multipartUploadSqlite.NewRepository()
	if err != nil {
		return nil, err
	}
	multipartPartRepository, err := multipartPartSqlite.NewRepository()
	if err != nil {
		return nil, err
	}
	return NewSqlStore(db, bucketRepository, objectRepository, multipartUploadRepository, multipartPartRepository)
}
