package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/nebulafs/nebulafs/internal/storage/blob"
	"github.com/nebulafs/nebulafs/internal/storage/database/repository/multipartupload"
	"github.com/nebulafs/nebulafs/internal/storage/metadata"
	"github.com/nebulafs/nebulafs/internal/task"
)

// Sweeper reclaims multipart uploads whose expires_at (minus a grace period)
// has passed: the row is marked expired, part rows and the upload row are
// deleted, and the staging directory is removed best-effort. Every step
// tolerates already-removed rows and files, so a crashed or partial sweep is
// finished by the next one.
type Sweeper struct {
	metadataStore      metadata.Store
	blobStore          *blob.LocalStore
	sweepInterval      time.Duration
	gracePeriod        time.Duration
	maxUploadsPerSweep int
}

func NewSweeper(metadataStore metadata.Store, blobStore *blob.LocalStore, sweepInterval time.Duration, gracePeriod time.Duration, maxUploadsPerSweep int) (*Sweeper, error) {
	return &Sweeper{
		metadataStore:      metadataStore,
		blobStore:          blobStore,
		sweepInterval:      sweepInterval,
		gracePeriod:        gracePeriod,
		maxUploadsPerSweep: maxUploadsPerSweep,
	}, nil
}

// Start launches the periodic sweep loop and returns its handle.
func (s *Sweeper) Start() *task.TaskHandle {
	return task.Start(func(cancelTask *atomic.Bool) {
		for {
			if task.SleepWithCancel(s.sweepInterval, cancelTask) {
				return
			}
			reaped, err := s.RunOnce(context.Background())
			if err != nil {
				slog.Error(fmt.Sprintf("Cleanup sweep failed: %s", err))
				continue
			}
			if reaped > 0 {
				slog.Debug(fmt.Sprintf("Cleanup sweep reaped %d multipart uploads", reaped))
			}
		}
	})
}

// RunOnce performs a single sweep and returns how many uploads were reaped.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.gracePeriod)
	expired, err := s.metadataStore.ListExpiredMultipartUploads(ctx, cutoff, s.maxUploadsPerSweep)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, upload := range expired {
		err = s.metadataStore.UpdateMultipartUploadState(ctx, upload.UploadId, multipartupload.StateExpired)
		if err != nil {
			slog.Error(fmt.Sprintf("Couldn't mark upload %s expired: %s", upload.UploadId, err))
			continue
		}
		err = s.metadataStore.DeleteMultipartParts(ctx, upload.UploadId)
		if err != nil {
			slog.Error(fmt.Sprintf("Couldn't delete parts of upload %s: %s", upload.UploadId, err))
			continue
		}
		err = s.metadataStore.DeleteMultipartUpload(ctx, upload.UploadId)
		if err != nil {
			slog.Error(fmt.Sprintf("Couldn't delete upload %s: %s", upload.UploadId, err))
			continue
		}
		uploadDir := blob.MultipartUploadDir(s.blobStore.TempPath(), upload.UploadId)
		err = os.RemoveAll(uploadDir)
		if err != nil {
			slog.Warn(fmt.Sprintf("Couldn't remove multipart staging dir %s: %s", uploadDir, err))
		}
		reaped++
	}
	return reaped, nil
}
