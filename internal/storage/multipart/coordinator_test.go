package multipart

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/nebulafs/nebulafs/internal/storage/blob"
	"github.com/nebulafs/nebulafs/internal/storage/database"
	"github.com/nebulafs/nebulafs/internal/storage/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(t *testing.T) (*Coordinator, metadata.Store, *blob.LocalStore) {
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
	coordinator, err := NewCoordinator(metadataStore, blobStore, time.Hour, 16)
	require.Nil(t, err)

	_, err = metadataStore.CreateBucket(context.Background(), "demo")
	require.Nil(t, err)
	return coordinator, metadataStore, blobStore
}

func sha256Hex(data []byte) string {
	digest := sha256.Sum256(data)
	return hex.EncodeToString(digest[:])
}

func TestMultipartHappyPath(t *testing.T) {
	ctx := context.Background()
	coordinator, metadataStore, blobStore := newTestCoordinator(t)

	upload, err := coordinator.Initiate(ctx, "demo", "big.bin")
	require.Nil(t, err)
	assert.Equal(t, "initiated", upload.State)
	assert.NotEmpty(t, upload.UploadId)
	assert.True(t, upload.ExpiresAt.After(time.Now().UTC()))

	part1, err := coordinator.UploadPart(ctx, "demo", upload.UploadId, 1, bytes.NewReader([]byte("hello")))
	require.Nil(t, err)
	assert.Equal(t, sha256Hex([]byte("hello")), part1.ETag)
	assert.Equal(t, int64(5), part1.SizeBytes)

	part2, err := coordinator.UploadPart(ctx, "demo", upload.UploadId, 2, bytes.NewReader([]byte("world!!")))
	require.Nil(t, err)
	assert.Equal(t, int64(7), part2.SizeBytes)

	listedUpload, parts, err := coordinator.ListParts(ctx, "demo", upload.UploadId)
	require.Nil(t, err)
	assert.Equal(t, "uploading", listedUpload.State)
	require.Len(t, parts, 2)
	assert.Equal(t, 1, parts[0].PartNumber)
	assert.Equal(t, 2, parts[1].PartNumber)

	result, err := coordinator.Complete(ctx, "demo", upload.UploadId, []CompletePart{
		{PartNumber: 1, ETag: part1.ETag},
		{PartNumber: 2, ETag: part2.ETag},
	})
	require.Nil(t, err)
	assert.Equal(t, "big.bin", result.Name)
	assert.Equal(t, int64(12), result.Size)
	assert.Equal(t, sha256Hex([]byte("helloworld!!")), result.ETag)

	stored, err := blobStore.ReadObject(ctx, "demo", "big.bin")
	require.Nil(t, err)
	content, err := os.ReadFile(stored.Path)
	require.Nil(t, err)
	assert.Equal(t, []byte("helloworld!!"), content)

	objectRow, err := metadataStore.GetObject(ctx, "demo", "big.bin")
	require.Nil(t, err)
	assert.Equal(t, result.ETag, objectRow.ETag)
	assert.Equal(t, int64(12), objectRow.SizeBytes)

	// Upload row, part rows and staging dir are gone.
	_, err = metadataStore.GetMultipartUpload(ctx, upload.UploadId)
	assert.ErrorIs(t, err, metadata.ErrNoSuchUpload)
	parts, err = metadataStore.ListMultipartParts(ctx, upload.UploadId)
	require.Nil(t, err)
	assert.Empty(t, parts)
	_, err = os.Stat(blob.MultipartUploadDir(blobStore.TempPath(), upload.UploadId))
	assert.True(t, os.IsNotExist(err))
}

func TestUploadPartReplacesSamePartNumber(t *testing.T) {
	ctx := context.Background()
	coordinator, _, _ := newTestCoordinator(t)

	upload, err := coordinator.Initiate(ctx, "demo", "big.bin")
	require.Nil(t, err)

	_, err = coordinator.UploadPart(ctx, "demo", upload.UploadId, 1, bytes.NewReader([]byte("first")))
	require.Nil(t, err)
	replaced, err := coordinator.UploadPart(ctx, "demo", upload.UploadId, 1, bytes.NewReader([]byte("second")))
	require.Nil(t, err)
	assert.Equal(t, sha256Hex([]byte("second")), replaced.ETag)

	_, parts, err := coordinator.ListParts(ctx, "demo", upload.UploadId)
	require.Nil(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, sha256Hex([]byte("second")), parts[0].ETag)

	content, err := os.ReadFile(parts[0].TempPath)
	require.Nil(t, err)
	assert.Equal(t, []byte("second"), content)
}

func TestUploadPartValidation(t *testing.T) {
	ctx := context.Background()
	coordinator, _, _ := newTestCoordinator(t)

	upload, err := coordinator.Initiate(ctx, "demo", "big.bin")
	require.Nil(t, err)

	_, err = coordinator.UploadPart(ctx, "demo", upload.UploadId, 0, bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrInvalidPartNumber)
	_, err = coordinator.UploadPart(ctx, "demo", upload.UploadId, -3, bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrInvalidPartNumber)
	_, err = coordinator.UploadPart(ctx, "missing", upload.UploadId, 1, bytes.NewReader(nil))
	assert.ErrorIs(t, err, metadata.ErrNoSuchBucket)
	_, err = coordinator.UploadPart(ctx, "demo", "missing-upload", 1, bytes.NewReader(nil))
	assert.ErrorIs(t, err, metadata.ErrNoSuchUpload)
}

func TestUploadPartToForeignBucketIsNotFound(t *testing.T) {
	ctx := context.Background()
	coordinator, metadataStore, _ := newTestCoordinator(t)

	_, err := metadataStore.CreateBucket(ctx, "other")
	require.Nil(t, err)
	upload, err := coordinator.Initiate(ctx, "demo", "big.bin")
	require.Nil(t, err)

	_, err = coordinator.UploadPart(ctx, "other", upload.UploadId, 1, bytes.NewReader([]byte("x")))
	assert.ErrorIs(t, err, metadata.ErrNoSuchUpload)
}

func TestUploadPartEnforcesMaxParts(t *testing.T) {
	ctx := context.Background()
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
	coordinator, err := NewCoordinator(metadataStore, blobStore, time.Hour, 2)
	require.Nil(t, err)
	_, err = metadataStore.CreateBucket(ctx, "demo")
	require.Nil(t, err)

	upload, err := coordinator.Initiate(ctx, "demo", "big.bin")
	require.Nil(t, err)

	_, err = coordinator.UploadPart(ctx, "demo", upload.UploadId, 1, bytes.NewReader([]byte("a")))
	require.Nil(t, err)
	_, err = coordinator.UploadPart(ctx, "demo", upload.UploadId, 2, bytes.NewReader([]byte("b")))
	require.Nil(t, err)
	_, err = coordinator.UploadPart(ctx, "demo", upload.UploadId, 3, bytes.NewReader([]byte("c")))
	assert.ErrorIs(t, err, ErrTooManyParts)

	// Replacing an existing part is still allowed at the cap.
	_, err = coordinator.UploadPart(ctx, "demo", upload.UploadId, 2, bytes.NewReader([]byte("b2")))
	assert.Nil(t, err)
}

func TestCompleteEtagMismatchKeepsUploadAlive(t *testing.T) {
	ctx := context.Background()
	coordinator, metadataStore, blobStore := newTestCoordinator(t)

	upload, err := coordinator.Initiate(ctx, "demo", "big.bin")
	require.Nil(t, err)
	part1, err := coordinator.UploadPart(ctx, "demo", upload.UploadId, 1, bytes.NewReader([]byte("hello")))
	require.Nil(t, err)
	_, err = coordinator.UploadPart(ctx, "demo", upload.UploadId, 2, bytes.NewReader([]byte("world!!")))
	require.Nil(t, err)

	_, err = coordinator.Complete(ctx, "demo", upload.UploadId, []CompletePart{
		{PartNumber: 1, ETag: "deadbeef"},
		{PartNumber: 2, ETag: part1.ETag},
	})
	assert.ErrorIs(t, err, ErrEtagMismatch)

	fetched, err := metadataStore.GetMultipartUpload(ctx, upload.UploadId)
	require.Nil(t, err)
	assert.Equal(t, "uploading", fetched.State)
	_, err = os.Stat(blob.MultipartUploadDir(blobStore.TempPath(), upload.UploadId))
	assert.Nil(t, err)
}

func TestCompleteMissingPart(t *testing.T) {
	ctx := context.Background()
	coordinator, _, _ := newTestCoordinator(t)

	upload, err := coordinator.Initiate(ctx, "demo", "big.bin")
	require.Nil(t, err)
	part1, err := coordinator.UploadPart(ctx, "demo", upload.UploadId, 1, bytes.NewReader([]byte("hello")))
	require.Nil(t, err)

	_, err = coordinator.Complete(ctx, "demo", upload.UploadId, []CompletePart{
		{PartNumber: 1, ETag: part1.ETag},
		{PartNumber: 2, ETag: "whatever"},
	})
	assert.ErrorIs(t, err, ErrMissingPart)
}

func TestCompleteWithoutPartsIsConflict(t *testing.T) {
	ctx := context.Background()
	coordinator, _, _ := newTestCoordinator(t)

	upload, err := coordinator.Initiate(ctx, "demo", "big.bin")
	require.Nil(t, err)

	_, err = coordinator.Complete(ctx, "demo", upload.UploadId, []CompletePart{
		{PartNumber: 1, ETag: "e"},
	})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestAbortReclaimsUpload(t *testing.T) {
	ctx := context.Background()
	coordinator, metadataStore, blobStore := newTestCoordinator(t)

	upload, err := coordinator.Initiate(ctx, "demo", "big.bin")
	require.Nil(t, err)
	_, err = coordinator.UploadPart(ctx, "demo", upload.UploadId, 1, bytes.NewReader([]byte("hello")))
	require.Nil(t, err)

	err = coordinator.Abort(ctx, "demo", upload.UploadId)
	require.Nil(t, err)

	_, err = metadataStore.GetMultipartUpload(ctx, upload.UploadId)
	assert.ErrorIs(t, err, metadata.ErrNoSuchUpload)
	parts, err := metadataStore.ListMultipartParts(ctx, upload.UploadId)
	require.Nil(t, err)
	assert.Empty(t, parts)
	_, err = os.Stat(blob.MultipartUploadDir(blobStore.TempPath(), upload.UploadId))
	assert.True(t, os.IsNotExist(err))

	// A second abort observes a missing row.
	err = coordinator.Abort(ctx, "demo", upload.UploadId)
	assert.ErrorIs(t, err, metadata.ErrNoSuchUpload)
}

func TestWritesAgainstTerminalStateAreConflicts(t *testing.T) {
	ctx := context.Background()
	coordinator, metadataStore, _ := newTestCoordinator(t)

	upload, err := coordinator.Initiate(ctx, "demo", "big.bin")
	require.Nil(t, err)
	part1, err := coordinator.UploadPart(ctx, "demo", upload.UploadId, 1, bytes.NewReader([]byte("hello")))
	require.Nil(t, err)

	err = metadataStore.UpdateMultipartUploadState(ctx, upload.UploadId, "expired")
	require.Nil(t, err)

	_, err = coordinator.UploadPart(ctx, "demo", upload.UploadId, 2, bytes.NewReader([]byte("x")))
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = coordinator.Complete(ctx, "demo", upload.UploadId, []CompletePart{{PartNumber: 1, ETag: part1.ETag}})
	assert.ErrorIs(t, err, ErrInvalidState)
}
