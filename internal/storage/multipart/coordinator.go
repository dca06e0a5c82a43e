package multipart

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/nebulafs/nebulafs/internal/storage/blob"
	"github.com/nebulafs/nebulafs/internal/storage/database/repository/multipartupload"
	"github.com/nebulafs/nebulafs/internal/storage/metadata"
)

var (
	ErrInvalidState      = errors.New("upload is not writable")
	ErrEtagMismatch      = errors.New("part etag mismatch")
	ErrMissingPart       = errors.New("missing uploaded part")
	ErrInvalidPartNumber = errors.New("part_number must be a positive integer")
	ErrTooManyParts      = errors.New("too many parts")
)

// CompletePart is one entry of a complete request.
type CompletePart struct {
	PartNumber int
	ETag       string
}

// CompleteResult describes the object published by a successful complete.
type CompleteResult struct {
	Name string
	ETag string
	Size int64
}

// Coordinator drives the multipart upload state machine across the metadata
// store and the blob store's staging area. Apart from the expiry sweeper,
// which marks stale uploads expired, it is the only component that
// transitions upload state.
type Coordinator struct {
	metadataStore metadata.Store
	blobStore     *blob.LocalStore
	uploadTtl     time.Duration
	maxParts      int
}

func NewCoordinator(metadataStore metadata.Store, blobStore *blob.LocalStore, uploadTtl time.Duration, maxParts int) (*Coordinator, error) {
	return &Coordinator{
		metadataStore: metadataStore,
		blobStore:     blobStore,
		uploadTtl:     uploadTtl,
		maxParts:      maxParts,
	}, nil
}

// resolveUpload looks up the upload and checks it belongs to the named
// bucket. Uploads of other buckets are indistinguishable from missing ones.
func (c *Coordinator) resolveUpload(ctx context.Context, bucketName string, uploadId string) (*metadata.MultipartUpload, error) {
	bucketRow, err := c.metadataStore.GetBucket(ctx, bucketName)
	if err != nil {
		return nil, err
	}
	upload, err := c.metadataStore.GetMultipartUpload(ctx, uploadId)
	if err != nil {
		return nil, err
	}
	if upload.BucketId != bucketRow.Id {
		return nil, metadata.ErrNoSuchUpload
	}
	return upload, nil
}

func (c *Coordinator) Initiate(ctx context.Context, bucketName string, objectName string) (*metadata.MultipartUpload, error) {
	if !blob.IsSafeName(objectName) {
		return nil, blob.ErrInvalidName
	}
	_, err := c.metadataStore.GetBucket(ctx, bucketName)
	if err != nil {
		return nil, err
	}

	uploadId := uuid.NewString()
	expiresAt := time.Now().UTC().Add(c.uploadTtl)
	return c.metadataStore.CreateMultipartUpload(ctx, bucketName, uploadId, objectName, expiresAt)
}

func (c *Coordinator) UploadPart(ctx context.Context, bucketName string, uploadId string, partNumber int, data io.Reader) (*metadata.MultipartPart, error) {
	if partNumber <= 0 {
		return nil, ErrInvalidPartNumber
	}
	upload, err := c.resolveUpload(ctx, bucketName, uploadId)
	if err != nil {
		return nil, err
	}
	if multipartupload.IsTerminalState(upload.State) {
		return nil, ErrInvalidState
	}

	existing, err := c.metadataStore.ListMultipartParts(ctx, uploadId)
	if err != nil {
		return nil, err
	}
	replacing := false
	for _, part := range existing {
		if part.PartNumber == partNumber {
			replacing = true
			break
		}
	}
	if !replacing && len(existing) >= c.maxParts {
		return nil, ErrTooManyParts
	}

	partPath := blob.MultipartPartPath(c.blobStore.TempPath(), uploadId, partNumber)
	err = os.MkdirAll(filepath.Dir(partPath), 0o755)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	hasher := sha256.New()
	size, err := blob.CopyWithDigest(f, data, hasher)
	if err != nil {
		f.Close()
		os.Remove(partPath)
		return nil, err
	}
	err = f.Close()
	if err != nil {
		os.Remove(partPath)
		return nil, err
	}

	etag := hex.EncodeToString(hasher.Sum(nil))
	part, err := c.metadataStore.UpsertMultipartPart(ctx, uploadId, partNumber, size, etag, partPath)
	if err != nil {
		return nil, err
	}
	err = c.metadataStore.UpdateMultipartUploadState(ctx, uploadId, multipartupload.StateUploading)
	if err != nil {
		return nil, err
	}
	return part, nil
}

func (c *Coordinator) ListParts(ctx context.Context, bucketName string, uploadId string) (*metadata.MultipartUpload, []metadata.MultipartPart, error) {
	upload, err := c.resolveUpload(ctx, bucketName, uploadId)
	if err != nil {
		return nil, nil, err
	}
	parts, err := c.metadataStore.ListMultipartParts(ctx, uploadId)
	if err != nil {
		return nil, nil, err
	}
	return upload, parts, nil
}

// Complete assembles the requested parts in order into a staging file, then
// publishes it with rename + metadata upsert. Part rows, the upload row and
// the staging directory are reclaimed afterwards.
func (c *Coordinator) Complete(ctx context.Context, bucketName string, uploadId string, requested []CompletePart) (*CompleteResult, error) {
	upload, err := c.resolveUpload(ctx, bucketName, uploadId)
	if err != nil {
		return nil, err
	}
	if multipartupload.IsTerminalState(upload.State) {
		return nil, ErrInvalidState
	}

	stored, err := c.metadataStore.ListMultipartParts(ctx, uploadId)
	if err != nil {
		return nil, err
	}
	if len(stored) == 0 {
		return nil, ErrInvalidState
	}
	partsByNumber := make(map[int]metadata.MultipartPart, len(stored))
	for _, part := range stored {
		partsByNumber[part.PartNumber] = part
	}

	for _, expected := range requested {
		part, ok := partsByNumber[expected.PartNumber]
		if !ok {
			return nil, fmt.Errorf("%w: part %d", ErrMissingPart, expected.PartNumber)
		}
		if part.ETag != expected.ETag {
			return nil, fmt.Errorf("%w: part %d", ErrEtagMismatch, expected.PartNumber)
		}
	}

	uploadDir := blob.MultipartUploadDir(c.blobStore.TempPath(), uploadId)
	err = os.MkdirAll(uploadDir, 0o755)
	if err != nil {
		return nil, err
	}
	assemblyPath := filepath.Join(uploadDir, "complete-"+uuid.NewString())
	out, err := os.OpenFile(assemblyPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}

	hasher := sha256.New()
	var totalSize int64
	for _, expected := range requested {
		part := partsByNumber[expected.PartNumber]
		in, err := os.Open(part.TempPath)
		if err != nil {
			out.Close()
			os.Remove(assemblyPath)
			return nil, err
		}
		written, err := blob.CopyWithDigest(out, in, hasher)
		in.Close()
		if err != nil {
			out.Close()
			os.Remove(assemblyPath)
			return nil, err
		}
		totalSize += written
	}
	err = out.Close()
	if err != nil {
		os.Remove(assemblyPath)
		return nil, err
	}

	err = c.blobStore.EnsureBucket(ctx, bucketName)
	if err != nil {
		os.Remove(assemblyPath)
		return nil, err
	}
	finalPath := blob.BuildObjectPath(c.blobStore.BasePath(), bucketName, upload.ObjectName)
	err = os.Rename(assemblyPath, finalPath)
	if err != nil {
		os.Remove(assemblyPath)
		return nil, err
	}

	etag := hex.EncodeToString(hasher.Sum(nil))
	_, err = c.metadataStore.UpsertObject(ctx, bucketName, &metadata.Object{
		Name:      upload.ObjectName,
		SizeBytes: totalSize,
		ETag:      etag,
	})
	if err != nil {
		return nil, err
	}

	err = c.metadataStore.UpdateMultipartUploadState(ctx, uploadId, multipartupload.StateCompleted)
	if err != nil {
		return nil, err
	}
	err = c.metadataStore.DeleteMultipartParts(ctx, uploadId)
	if err != nil {
		return nil, err
	}
	err = c.metadataStore.DeleteMultipartUpload(ctx, uploadId)
	if err != nil {
		return nil, err
	}
	err = os.RemoveAll(uploadDir)
	if err != nil {
		slog.Warn(fmt.Sprintf("Couldn't remove multipart staging dir %s: %s", uploadDir, err))
	}

	return &CompleteResult{
		Name: upload.ObjectName,
		ETag: etag,
		Size: totalSize,
	}, nil
}

func (c *Coordinator) Abort(ctx context.Context, bucketName string, uploadId string) error {
	upload, err := c.resolveUpload(ctx, bucketName, uploadId)
	if err != nil {
		return err
	}
	if upload.State == multipartupload.StateCompleted {
		return ErrInvalidState
	}

	err = c.metadataStore.UpdateMultipartUploadState(ctx, uploadId, multipartupload.StateAborted)
	if err != nil {
		return err
	}
	err = c.metadataStore.DeleteMultipartParts(ctx, uploadId)
	if err != nil {
		return err
	}
	err = c.metadataStore.DeleteMultipartUpload(ctx, uploadId)
	if err != nil {
		return err
	}
	uploadDir := blob.MultipartUploadDir(c.blobStore.TempPath(), uploadId)
	err = os.RemoveAll(uploadDir)
	if err != nil {
		slog.Warn(fmt.Sprintf("Couldn't remove multipart staging dir %s: %s", uploadDir, err))
	}
	return nil
}
