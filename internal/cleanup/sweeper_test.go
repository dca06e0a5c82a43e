package cleanup

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/nebulafs/nebulafs/internal/storage/blob"
	"github.com/nebulafs/nebulafs/internal/storage/database"
	"github.com/nebulafs/nebulafs/internal/storage/metadata"
	"github.com/nebulafs/nebulafs/internal/storage/multipart"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sweeperFixture struct {
	sweeper       *Sweeper
	metadataStore metadata.Store
	blobStore     *blob.LocalStore
	coordinator   *multipart.Coordinator
}

func newSweeperFixture(t *testing.T) *sweeperFixture {
	t.Helper()
	root := t.TempDir()
	db, err := database.OpenDatabase(filepath.Join(root, "nebulafs.db"))
	require.Nil(t, err)
	t.Cleanup(func() {
		db.Close()
	})
	metadataStore, err := metadata.NewSqliteStore(db)
	require.Nil(t, err)
	blobStore, err := blob.NewLocalStore(filepath.Join(root, "data"), filepath.Join(root, "tmp"))
	require.Nil(t, err)
	coordinator, err := multipart.NewCoordinator(metadataStore, blobStore, time.Hour, 100)
	require.Nil(t, err)
	sweeper, err := NewSweeper(metadataStore, blobStore, time.Minute, time.Minute, 200)
	require.Nil(t, err)

	_, err = metadataStore.CreateBucket(context.Background(), "demo")
	require.Nil(t, err)
	return &sweeperFixture{
		sweeper:       sweeper,
		metadataStore: metadataStore,
		blobStore:     blobStore,
		coordinator:   coordinator,
	}
}

// expireUpload rewrites an upload's expiry far enough into the past that the
// grace period cannot save it.
func (f *sweeperFixture) expireUpload(t *testing.T, uploadId string) {
	t.Helper()
	ctx := context.Background()
	upload, err := f.metadataStore.GetMultipartUpload(ctx, uploadId)
	require.Nil(t, err)
	err = f.metadataStore.DeleteMultipartUpload(ctx, uploadId)
	require.Nil(t, err)
	_, err = f.metadataStore.CreateMultipartUpload(ctx, "demo", uploadId, upload.ObjectName, time.Now().UTC().Add(-2*time.Hour))
	require.Nil(t, err)
}

func TestSweepReapsExpiredUpload(t *testing.T) {
	ctx := context.Background()
	fixture := newSweeperFixture(t)

	upload, err := fixture.coordinator.Initiate(ctx, "demo", "big.bin")
	require.Nil(t, err)
	uploadId := upload.UploadId
	_, err = fixture.coordinator.UploadPart(ctx, "demo", uploadId, 1, bytes.NewReader([]byte("hello")))
	require.Nil(t, err)

	fixture.expireUpload(t, uploadId)
	// Part rows were dropped by the FK cascade when the row was rewritten;
	// re-add one so the sweep has parts to reap.
	partPath := blob.MultipartPartPath(fixture.blobStore.TempPath(), uploadId, 1)
	_, err = fixture.metadataStore.UpsertMultipartPart(ctx, uploadId, 1, 5, "etag", partPath)
	require.Nil(t, err)

	reaped, err := fixture.sweeper.RunOnce(ctx)
	require.Nil(t, err)
	assert.Equal(t, 1, reaped)

	_, err = fixture.metadataStore.GetMultipartUpload(ctx, uploadId)
	assert.ErrorIs(t, err, metadata.ErrNoSuchUpload)
	parts, err := fixture.metadataStore.ListMultipartParts(ctx, uploadId)
	require.Nil(t, err)
	assert.Empty(t, parts)
	_, err = os.Stat(blob.MultipartUploadDir(fixture.blobStore.TempPath(), uploadId))
	assert.True(t, os.IsNotExist(err))
}

func TestSweepIsIdempotent(t *testing.T) {
	ctx := context.Background()
	fixture := newSweeperFixture(t)

	upload, err := fixture.coordinator.Initiate(ctx, "demo", "big.bin")
	require.Nil(t, err)
	fixture.expireUpload(t, upload.UploadId)

	reaped, err := fixture.sweeper.RunOnce(ctx)
	require.Nil(t, err)
	assert.Equal(t, 1, reaped)

	reaped, err = fixture.sweeper.RunOnce(ctx)
	require.Nil(t, err)
	assert.Equal(t, 0, reaped)
}

func TestSweepLeavesLiveUploadsAlone(t *testing.T) {
	ctx := context.Background()
	fixture := newSweeperFixture(t)

	upload, err := fixture.coordinator.Initiate(ctx, "demo", "live.bin")
	require.Nil(t, err)

	reaped, err := fixture.sweeper.RunOnce(ctx)
	require.Nil(t, err)
	assert.Equal(t, 0, reaped)

	fetched, err := fixture.metadataStore.GetMultipartUpload(ctx, upload.UploadId)
	require.Nil(t, err)
	assert.Equal(t, "initiated", fetched.State)
}

func TestSweepRespectsGracePeriod(t *testing.T) {
	ctx := context.Background()
	fixture := newSweeperFixture(t)

	// Expired ten seconds ago, but the sweeper grants a one-minute grace.
	upload, err := fixture.coordinator.Initiate(ctx, "demo", "big.bin")
	require.Nil(t, err)
	err = fixture.metadataStore.DeleteMultipartUpload(ctx, upload.UploadId)
	require.Nil(t, err)
	_, err = fixture.metadataStore.CreateMultipartUpload(ctx, "demo", upload.UploadId, "big.bin", time.Now().UTC().Add(-10*time.Second))
	require.Nil(t, err)

	reaped, err := fixture.sweeper.RunOnce(ctx)
	require.Nil(t, err)
	assert.Equal(t, 0, reaped)
}

func TestSweepFinishesPartiallyCleanedUpload(t *testing.T) {
	ctx := context.Background()
	fixture := newSweeperFixture(t)

	upload, err := fixture.coordinator.Initiate(ctx, "demo", "big.bin")
	require.Nil(t, err)
	_, err = fixture.coordinator.UploadPart(ctx, "demo", upload.UploadId, 1, bytes.NewReader([]byte("hello")))
	require.Nil(t, err)
	fixture.expireUpload(t, upload.UploadId)

	// Staging dir already gone: the sweep must still reap the metadata.
	err = os.RemoveAll(blob.MultipartUploadDir(fixture.blobStore.TempPath(), upload.UploadId))
	require.Nil(t, err)

	reaped, err := fixture.sweeper.RunOnce(ctx)
	require.Nil(t, err)
	assert.Equal(t, 1, reaped)
	_, err = fixture.metadataStore.GetMultipartUpload(ctx, upload.UploadId)
	assert.ErrorIs(t, err, metadata.ErrNoSuchUpload)
}
