package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nebulafs/nebulafs/internal/auth"
	"github.com/nebulafs/nebulafs/internal/httputils"
	"github.com/nebulafs/nebulafs/internal/observability"
	"github.com/nebulafs/nebulafs/internal/server/middlewares"
	"github.com/nebulafs/nebulafs/internal/sliceutils"
	"github.com/nebulafs/nebulafs/internal/storage/blob"
	"github.com/nebulafs/nebulafs/internal/storage/database"
	"github.com/nebulafs/nebulafs/internal/storage/metadata"
	"github.com/nebulafs/nebulafs/internal/storage/multipart"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const bucketPath = "bucket"
const objectPath = "object"
const uploadIdPath = "uploadId"
const partNumberPath = "partNumber"

const nameQuery = "name"
const prefixQuery = "prefix"

const acceptRangesHeader = "Accept-Ranges"
const contentLengthHeader = "Content-Length"
const contentRangeHeader = "Content-Range"
const contentTypeHeader = "Content-Type"
const rangeHeader = "Range"

const octetStreamContentType = "application/octet-stream"

// Config carries the request-pipeline knobs the server needs.
type Config struct {
	AuthEnabled       bool
	AuthMetricsPublic bool
	MaxBodyBytes      int64
	MaxPartBytes      int64
}

type Server struct {
	config        Config
	db            database.Database
	metadataStore metadata.Store
	blobStore     *blob.LocalStore
	coordinator   *multipart.Coordinator
	metrics       *observability.Metrics
}

// SetupServer wires the route table and the middleware chain: request id,
// observability, auth, body cap, then dispatch.
func SetupServer(config Config, db database.Database, metadataStore metadata.Store, blobStore *blob.LocalStore, coordinator *multipart.Coordinator, verifier *auth.Verifier, metrics *observability.Metrics) http.Handler {
	server := &Server{
		config:        config,
		db:            db,
		metadataStore: metadataStore,
		blobStore:     blobStore,
		coordinator:   coordinator,
		metrics:       metrics,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", server.healthHandler)
	mux.HandleFunc("GET /readyz", server.readyHandler)
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("POST /v1/buckets", server.createBucketHandler)
	mux.HandleFunc("GET /v1/buckets", server.listBucketsHandler)
	mux.HandleFunc("GET /v1/buckets/{bucket}/objects", server.listObjectsHandler)
	mux.HandleFunc("POST /v1/buckets/{bucket}/objects", server.putObjectByQueryHandler)
	mux.HandleFunc("PUT /v1/buckets/{bucket}/objects/{object}", server.putObjectHandler)
	mux.HandleFunc("GET /v1/buckets/{bucket}/objects/{object}", server.getObjectHandler)
	mux.HandleFunc("DELETE /v1/buckets/{bucket}/objects/{object}", server.deleteObjectHandler)
	mux.HandleFunc("POST /v1/buckets/{bucket}/multipart-uploads", server.createMultipartUploadHandler)
	mux.HandleFunc("PUT /v1/buckets/{bucket}/multipart-uploads/{uploadId}/parts/{partNumber}", server.uploadPartHandler)
	mux.HandleFunc("GET /v1/buckets/{bucket}/multipart-uploads/{uploadId}/parts", server.listPartsHandler)
	mux.HandleFunc("POST /v1/buckets/{bucket}/multipart-uploads/{uploadId}/complete", server.completeMultipartUploadHandler)
	mux.HandleFunc("DELETE /v1/buckets/{bucket}/multipart-uploads/{uploadId}", server.abortMultipartUploadHandler)
	mux.HandleFunc("/", server.notFoundHandler)

	var rootHandler http.Handler = mux
	rootHandler = middlewares.MakeBodyLimitMiddleware(config.MaxBodyBytes, rootHandler)
	rootHandler = middlewares.MakeAuthMiddleware(verifier, config.AuthEnabled, config.AuthMetricsPublic, rootHandler)
	rootHandler = middlewares.MakeObservabilityMiddleware(metrics, rootHandler)
	rootHandler = middlewares.MakeRequestIdMiddleware(rootHandler)
	return rootHandler
}

// handleError is the single place error kinds map to HTTP responses. Driver
// and filesystem messages never reach the envelope.
func handleError(err error, w http.ResponseWriter, r *http.Request) {
	var maxBytesError *http.MaxBytesError
	var pathError *os.PathError
	switch {
	case errors.Is(err, blob.ErrInvalidName):
		httputils.WriteError(w, r, http.StatusBadRequest, "INVALID_NAME", "invalid name")
	case errors.Is(err, multipart.ErrInvalidPartNumber):
		httputils.WriteError(w, r, http.StatusBadRequest, "INVALID_PART_NUMBER", "part_number must be a positive integer")
	case errors.Is(err, multipart.ErrTooManyParts):
		httputils.WriteError(w, r, http.StatusBadRequest, "TOO_MANY_PARTS", "too many parts")
	case errors.Is(err, auth.ErrUnauthorized):
		httputils.WriteError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
	case errors.Is(err, metadata.ErrNoSuchBucket):
		httputils.WriteError(w, r, http.StatusNotFound, "BUCKET_NOT_FOUND", "bucket not found")
	case errors.Is(err, metadata.ErrNoSuchKey) || errors.Is(err, blob.ErrObjectNotFound):
		httputils.WriteError(w, r, http.StatusNotFound, "OBJECT_NOT_FOUND", "object not found")
	case errors.Is(err, metadata.ErrNoSuchUpload):
		httputils.WriteError(w, r, http.StatusNotFound, "UPLOAD_NOT_FOUND", "multipart upload not found")
	case errors.Is(err, metadata.ErrBucketAlreadyExists):
		httputils.WriteError(w, r, http.StatusConflict, "ALREADY_EXISTS", "bucket exists")
	case errors.Is(err, multipart.ErrEtagMismatch):
		httputils.WriteError(w, r, http.StatusConflict, "ETAG_MISMATCH", "part etag mismatch")
	case errors.Is(err, multipart.ErrMissingPart):
		httputils.WriteError(w, r, http.StatusConflict, "MISSING_PART", "missing uploaded part")
	case errors.Is(err, multipart.ErrInvalidState):
		httputils.WriteError(w, r, http.StatusConflict, "INVALID_STATE", "upload is not writable")
	case errors.As(err, &maxBytesError):
		httputils.WriteError(w, r, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large")
	case errors.As(err, &pathError):
		slog.Error(fmt.Sprintf("IO error while handling %s %s: %s", r.Method, r.URL.Path, err))
		httputils.WriteError(w, r, http.StatusInternalServerError, "IO_ERROR", "io error")
	default:
		slog.Error(fmt.Sprintf("Internal error while handling %s %s: %s", r.Method, r.URL.Path, err))
		httputils.WriteError(w, r, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	httputils.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "route not found")
}

type statusResponse struct {
	Status    string `json:"status"`
	RequestId string `json:"request_id"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	httputils.WriteJson(w, http.StatusOK, statusResponse{
		Status:    "ok",
		RequestId: httputils.RequestIdFromContext(r.Context()),
	})
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	err := s.db.PingContext(r.Context())
	if err != nil {
		httputils.WriteError(w, r, http.StatusServiceUnavailable, "INTERNAL", "metadata database unavailable")
		return
	}
	httputils.WriteJson(w, http.StatusOK, statusResponse{
		Status:    "ready",
		RequestId: httputils.RequestIdFromContext(r.Context()),
	})
}

type createBucketRequest struct {
	Name string `json:"name"`
}

type createBucketResponse struct {
	Name string `json:"name"`
}

func (s *Server) createBucketHandler(w http.ResponseWriter, r *http.Request) {
	request := createBucketRequest{}
	err := json.NewDecoder(r.Body).Decode(&request)
	if err != nil {
		httputils.WriteError(w, r, http.StatusBadRequest, "INVALID_JSON", "invalid json body")
		return
	}
	if !blob.IsSafeName(request.Name) {
		httputils.WriteError(w, r, http.StatusBadRequest, "INVALID_NAME", "invalid bucket name")
		return
	}
	slog.Debug(fmt.Sprintf("Creating bucket %s", request.Name))
	created, err := s.metadataStore.CreateBucket(r.Context(), request.Name)
	if err != nil {
		handleError(err, w, r)
		return
	}
	httputils.WriteJson(w, http.StatusOK, createBucketResponse{Name: created.Name})
}

type bucketResult struct {
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

type listBucketsResponse struct {
	Buckets []bucketResult `json:"buckets"`
}

func (s *Server) listBucketsHandler(w http.ResponseWriter, r *http.Request) {
	buckets, err := s.metadataStore.ListBuckets(r.Context())
	if err != nil {
		handleError(err, w, r)
		return
	}
	httputils.WriteJson(w, http.StatusOK, listBucketsResponse{
		Buckets: sliceutils.Map(func(bucketRow metadata.Bucket) bucketResult {
			return bucketResult{
				Name:      bucketRow.Name,
				CreatedAt: bucketRow.CreatedAt.UTC().Format(time.RFC3339),
			}
		}, buckets),
	})
}

type objectResult struct {
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	ETag      string `json:"etag"`
	UpdatedAt string `json:"updated_at"`
}

type listObjectsResponse struct {
	Objects []objectResult `json:"objects"`
}

func (s *Server) listObjectsHandler(w http.ResponseWriter, r *http.Request) {
	bucket := r.PathValue(bucketPath)
	prefix := r.URL.Query().Get(prefixQuery)
	objects, err := s.metadataStore.ListObjects(r.Context(), bucket, prefix)
	if err != nil {
		handleError(err, w, r)
		return
	}
	httputils.WriteJson(w, http.StatusOK, listObjectsResponse{
		Objects: sliceutils.Map(func(objectRow metadata.Object) objectResult {
			return objectResult{
				Name:      objectRow.Name,
				Size:      objectRow.SizeBytes,
				ETag:      objectRow.ETag,
				UpdatedAt: objectRow.UpdatedAt.UTC().Format(time.RFC3339),
			}
		}, objects),
	})
}

type putObjectResponse struct {
	ETag string `json:"etag"`
	Size int64  `json:"size"`
}

// putObject streams the request body straight into the blob store and
// publishes the metadata row once the bytes are durable.
func (s *Server) putObject(w http.ResponseWriter, r *http.Request, bucket string, object string) {
	if !blob.IsSafeName(bucket) || !blob.IsSafeName(object) {
		httputils.WriteError(w, r, http.StatusBadRequest, "INVALID_NAME", "invalid bucket/object")
		return
	}
	_, err := s.metadataStore.GetBucket(r.Context(), bucket)
	if err != nil {
		handleError(err, w, r)
		return
	}

	slog.Debug(fmt.Sprintf("Putting object %s into bucket %s", object, bucket))
	stored, err := s.blobStore.WriteObject(r.Context(), bucket, object, r.Body)
	if err != nil {
		handleError(err, w, r)
		return
	}
	_, err = s.metadataStore.UpsertObject(r.Context(), bucket, &metadata.Object{
		Name:      object,
		SizeBytes: stored.Size,
		ETag:      stored.ETag,
	})
	if err != nil {
		handleError(err, w, r)
		return
	}
	s.metrics.RecordBytesUploaded(bucket, stored.Size)
	httputils.WriteJson(w, http.StatusOK, putObjectResponse{
		ETag: stored.ETag,
		Size: stored.Size,
	})
}

func (s *Server) putObjectHandler(w http.ResponseWriter, r *http.Request) {
	s.putObject(w, r, r.PathValue(bucketPath), r.PathValue(objectPath))
}

func (s *Server) putObjectByQueryHandler(w http.ResponseWriter, r *http.Request) {
	object := r.URL.Query().Get(nameQuery)
	if object == "" {
		httputils.WriteError(w, r, http.StatusBadRequest, "MISSING_NAME", "missing object name")
		return
	}
	s.putObject(w, r, r.PathValue(bucketPath), object)
}

type byteRange struct {
	start int64
	end   int64
}

var errInvalidByteRange = errors.New("invalid byte range")

// parseRangeHeader accepts a single "bytes=<start>-[<end>]" spec. Suffix and
// multi-range forms are unsupported.
func parseRangeHeader(header string, size int64) (*byteRange, error) {
	spec, hasPrefix := strings.CutPrefix(header, "bytes=")
	if !hasPrefix || strings.Contains(spec, ",") {
		return nil, errInvalidByteRange
	}
	startText, endText, hasDash := strings.Cut(spec, "-")
	if !hasDash || startText == "" {
		return nil, errInvalidByteRange
	}
	start, err := strconv.ParseInt(startText, 10, 64)
	if err != nil {
		return nil, errInvalidByteRange
	}
	end := size - 1
	if endText != "" {
		end, err = strconv.ParseInt(endText, 10, 64)
		if err != nil {
			return nil, errInvalidByteRange
		}
	}
	if start < 0 || start > end || start >= size || end >= size {
		return nil, errInvalidByteRange
	}
	return &byteRange{start: start, end: end}, nil
}

func (s *Server) getObjectHandler(w http.ResponseWriter, r *http.Request) {
	bucket := r.PathValue(bucketPath)
	object := r.PathValue(objectPath)

	stored, err := s.blobStore.ReadObject(r.Context(), bucket, object)
	if err != nil {
		handleError(err, w, r)
		return
	}
	f, err := os.Open(stored.Path)
	if err != nil {
		handleError(err, w, r)
		return
	}
	defer f.Close()

	w.Header().Set(contentTypeHeader, octetStreamContentType)
	w.Header().Set(acceptRangesHeader, "bytes")

	rangeHeaderValue := r.Header.Get(rangeHeader)
	if rangeHeaderValue == "" {
		w.Header().Set(contentLengthHeader, strconv.FormatInt(stored.Size, 10))
		w.WriteHeader(http.StatusOK)
		written, err := io.Copy(w, f)
		if err != nil {
			slog.Debug(fmt.Sprintf("Download of %s/%s aborted: %s", bucket, object, err))
		}
		s.metrics.RecordBytesDownloaded(bucket, written)
		return
	}

	requestedRange, err := parseRangeHeader(rangeHeaderValue, stored.Size)
	if err != nil {
		w.Header().Set(contentRangeHeader, fmt.Sprintf("bytes */%d", stored.Size))
		httputils.WriteError(w, r, http.StatusRequestedRangeNotSatisfiable, "INVALID_RANGE", "invalid range")
		return
	}
	_, err = f.Seek(requestedRange.start, io.SeekStart)
	if err != nil {
		handleError(err, w, r)
		return
	}
	length := requestedRange.end - requestedRange.start + 1
	w.Header().Set(contentLengthHeader, strconv.FormatInt(length, 10))
	w.Header().Set(contentRangeHeader, fmt.Sprintf("bytes %d-%d/%d", requestedRange.start, requestedRange.end, stored.Size))
	w.WriteHeader(http.StatusPartialContent)
	written, err := io.CopyN(w, f, length)
	if err != nil {
		slog.Debug(fmt.Sprintf("Range download of %s/%s aborted: %s", bucket, object, err))
	}
	s.metrics.RecordBytesDownloaded(bucket, written)
}

type deleteObjectResponse struct {
	Deleted bool `json:"deleted"`
}

func (s *Server) deleteObjectHandler(w http.ResponseWriter, r *http.Request) {
	bucket := r.PathValue(bucketPath)
	object := r.PathValue(objectPath)

	slog.Debug(fmt.Sprintf("Deleting object %s from bucket %s", object, bucket))
	err := s.blobStore.DeleteObject(r.Context(), bucket, object)
	if err != nil {
		handleError(err, w, r)
		return
	}
	err = s.metadataStore.DeleteObject(r.Context(), bucket, object)
	if err != nil {
		slog.Warn(fmt.Sprintf("Couldn't delete metadata of %s/%s: %s", bucket, object, err))
	}
	httputils.WriteJson(w, http.StatusOK, deleteObjectResponse{Deleted: true})
}

type createMultipartUploadRequest struct {
	Object string `json:"object"`
}

type createMultipartUploadResponse struct {
	UploadId  string `json:"upload_id"`
	Object    string `json:"object"`
	ExpiresAt string `json:"expires_at"`
}

func (s *Server) createMultipartUploadHandler(w http.ResponseWriter, r *http.Request) {
	bucket := r.PathValue(bucketPath)
	if !blob.IsSafeName(bucket) {
		httputils.WriteError(w, r, http.StatusBadRequest, "INVALID_NAME", "invalid bucket name")
		return
	}
	request := createMultipartUploadRequest{}
	err := json.NewDecoder(r.Body).Decode(&request)
	if err != nil {
		httputils.WriteError(w, r, http.StatusBadRequest, "INVALID_JSON", "invalid json body")
		return
	}

	slog.Debug(fmt.Sprintf("Initiating multipart upload of %s into bucket %s", request.Object, bucket))
	upload, err := s.coordinator.Initiate(r.Context(), bucket, request.Object)
	if err != nil {
		handleError(err, w, r)
		return
	}
	httputils.WriteJson(w, http.StatusOK, createMultipartUploadResponse{
		UploadId:  upload.UploadId,
		Object:    upload.ObjectName,
		ExpiresAt: upload.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

type uploadPartResponse struct {
	UploadId   string `json:"upload_id"`
	PartNumber int    `json:"part_number"`
	ETag       string `json:"etag"`
	Size       int64  `json:"size"`
}

func (s *Server) uploadPartHandler(w http.ResponseWriter, r *http.Request) {
	bucket := r.PathValue(bucketPath)
	uploadId := r.PathValue(uploadIdPath)
	partNumber, err := strconv.Atoi(r.PathValue(partNumberPath))
	if err != nil || partNumber <= 0 {
		httputils.WriteError(w, r, http.StatusBadRequest, "INVALID_PART_NUMBER", "part_number must be a positive integer")
		return
	}

	body := r.Body
	if s.config.MaxPartBytes < s.config.MaxBodyBytes {
		body = http.MaxBytesReader(w, body, s.config.MaxPartBytes)
	}

	slog.Debug(fmt.Sprintf("Uploading part %d of multipart upload %s", partNumber, uploadId))
	part, err := s.coordinator.UploadPart(r.Context(), bucket, uploadId, partNumber, body)
	if err != nil {
		handleError(err, w, r)
		return
	}
	s.metrics.RecordBytesUploaded(bucket, part.SizeBytes)
	httputils.WriteJson(w, http.StatusOK, uploadPartResponse{
		UploadId:   part.UploadId,
		PartNumber: part.PartNumber,
		ETag:       part.ETag,
		Size:       part.SizeBytes,
	})
}

type partResult struct {
	PartNumber int    `json:"part_number"`
	Size       int64  `json:"size"`
	ETag       string `json:"etag"`
}

type listPartsResponse struct {
	UploadId string       `json:"upload_id"`
	Object   string       `json:"object"`
	State    string       `json:"state"`
	Parts    []partResult `json:"parts"`
}

func (s *Server) listPartsHandler(w http.ResponseWriter, r *http.Request) {
	bucket := r.PathValue(bucketPath)
	uploadId := r.PathValue(uploadIdPath)

	upload, parts, err := s.coordinator.ListParts(r.Context(), bucket, uploadId)
	if err != nil {
		handleError(err, w, r)
		return
	}
	httputils.WriteJson(w, http.StatusOK, listPartsResponse{
		UploadId: upload.UploadId,
		Object:   upload.ObjectName,
		State:    upload.State,
		Parts: sliceutils.Map(func(part metadata.MultipartPart) partResult {
			return partResult{
				PartNumber: part.PartNumber,
				Size:       part.SizeBytes,
				ETag:       part.ETag,
			}
		}, parts),
	})
}

type completePartRequest struct {
	PartNumber int    `json:"part_number"`
	ETag       string `json:"etag"`
}

type completeMultipartUploadRequest struct {
	Parts []completePartRequest `json:"parts"`
}

type completeMultipartUploadResponse struct {
	Name string `json:"name"`
	ETag string `json:"etag"`
	Size int64  `json:"size"`
}

// parseCompleteParts validates the requested part list: non-empty, strictly
// increasing part numbers, no blank etags.
func parseCompleteParts(body io.Reader) ([]multipart.CompletePart, error) {
	request := completeMultipartUploadRequest{}
	err := json.NewDecoder(body).Decode(&request)
	if err != nil {
		return nil, err
	}
	if len(request.Parts) == 0 {
		return nil, errors.New("parts list is required")
	}
	parts := make([]multipart.CompletePart, 0, len(request.Parts))
	previous := 0
	for _, part := range request.Parts {
		if part.PartNumber <= 0 || part.ETag == "" {
			return nil, errors.New("invalid part_number or etag")
		}
		if part.PartNumber <= previous {
			return nil, errors.New("parts must be strictly increasing")
		}
		previous = part.PartNumber
		parts = append(parts, multipart.CompletePart{
			PartNumber: part.PartNumber,
			ETag:       part.ETag,
		})
	}
	return parts, nil
}

func (s *Server) completeMultipartUploadHandler(w http.ResponseWriter, r *http.Request) {
	bucket := r.PathValue(bucketPath)
	uploadId := r.PathValue(uploadIdPath)

	requestedParts, err := parseCompleteParts(r.Body)
	if err != nil {
		httputils.WriteError(w, r, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}

	slog.Debug(fmt.Sprintf("Completing multipart upload %s", uploadId))
	result, err := s.coordinator.Complete(r.Context(), bucket, uploadId, requestedParts)
	if err != nil {
		handleError(err, w, r)
		return
	}
	httputils.WriteJson(w, http.StatusOK, completeMultipartUploadResponse{
		Name: result.Name,
		ETag: result.ETag,
		Size: result.Size,
	})
}

func (s *Server) abortMultipartUploadHandler(w http.ResponseWriter, r *http.Request) {
	bucket := r.PathValue(bucketPath)
	uploadId := r.PathValue(uploadIdPath)

	slog.Debug(fmt.Sprintf("Aborting multipart upload %s", uploadId))
	err := s.coordinator.Abort(r.Context(), bucket, uploadId)
	if err != nil {
		handleError(err, w, r)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
