package multipartupload

import (
	"context"
	"database/sql"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	StateInitiated = "initiated"
	StateUploading = "uploading"
	StateCompleted = "completed"
	StateAborted   = "aborted"
	StateExpired   = "expired"
)

type Entity struct {
	Id         *ulid.ULID
	UploadId   string
	BucketId   ulid.ULID
	ObjectName string
	State      string
	ExpiresAt  time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsTerminalState reports whether state is a sink of the upload state machine.
func IsTerminalState(state string) bool {
	return state == StateCompleted || state == StateAborted || state == StateExpired
}

type Repository interface {
	SaveMultipartUpload(ctx context.Context, tx *sql.Tx, upload *Entity) error
	FindMultipartUploadByUploadId(ctx context.Context, tx *sql.Tx, uploadId string) (*Entity, error)
	FindExpiredMultipartUploadsOrderByExpiresAtAsc(ctx context.Context, tx *sql.Tx, cutoff time.Time, limit int) ([]Entity, error)
	UpdateMultipartUploadStateByUploadId(ctx context.Context, tx *sql.Tx, uploadId string, state string) error
	DeleteMultipartUploadByUploadId(ctx context.Context, tx *sql.Tx, uploadId string) error
}
