package server

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	_ "github.com/mattn/go-sqlite3"
	"github.com/nebulafs/nebulafs/internal/auth"
	"github.com/nebulafs/nebulafs/internal/observability"
	"github.com/nebulafs/nebulafs/internal/storage/blob"
	"github.com/nebulafs/nebulafs/internal/storage/database"
	"github.com/nebulafs/nebulafs/internal/storage/metadata"
	"github.com/nebulafs/nebulafs/internal/storage/multipart"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serverFixture struct {
	server    *httptest.Server
	blobStore *blob.LocalStore
}

func newServerFixture(t *testing.T, configure func(*Config, *auth.Config)) *serverFixture {
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
	metrics, err := observability.NewMetrics(prometheus.NewRegistry())
	require.Nil(t, err)

	config := Config{
		MaxBodyBytes: 1 << 20,
		MaxPartBytes: 1 << 20,
	}
	authConfig := auth.Config{}
	if configure != nil {
		configure(&config, &authConfig)
	}
	verifier := auth.NewVerifier(authConfig)

	handler := SetupServer(config, db, metadataStore, blobStore, coordinator, verifier, metrics)
	testServer := httptest.NewServer(handler)
	t.Cleanup(testServer.Close)
	return &serverFixture{
		server:    testServer,
		blobStore: blobStore,
	}
}

func (f *serverFixture) do(t *testing.T, method string, path string, body []byte, header http.Header) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	request, err := http.NewRequest(method, f.server.URL+path, reader)
	require.Nil(t, err)
	for key, values := range header {
		for _, value := range values {
			request.Header.Add(key, value)
		}
	}
	response, err := f.server.Client().Do(request)
	require.Nil(t, err)
	return response
}

func decodeJson(t *testing.T, response *http.Response, target any) {
	t.Helper()
	defer response.Body.Close()
	err := json.NewDecoder(response.Body).Decode(target)
	require.Nil(t, err)
}

func sha256Hex(data []byte) string {
	digest := sha256.Sum256(data)
	return hex.EncodeToString(digest[:])
}

func TestCrudSmoke(t *testing.T) {
	fixture := newServerFixture(t, nil)

	// Create bucket.
	response := fixture.do(t, http.MethodPost, "/v1/buckets", []byte(`{"name":"demo"}`), nil)
	assert.Equal(t, http.StatusOK, response.StatusCode)
	assert.NotEmpty(t, response.Header.Get("X-Request-Id"))
	assert.Equal(t, "NebulaFS", response.Header.Get("Server"))
	var createBucket map[string]any
	decodeJson(t, response, &createBucket)
	assert.Equal(t, "demo", createBucket["name"])

	// Streaming upload.
	content := []byte("hello integration tests")
	response = fixture.do(t, http.MethodPut, "/v1/buckets/demo/objects/readme.txt", content, nil)
	assert.Equal(t, http.StatusOK, response.StatusCode)
	var putResult struct {
		ETag string `json:"etag"`
		Size int64  `json:"size"`
	}
	decodeJson(t, response, &putResult)
	assert.Equal(t, sha256Hex(content), putResult.ETag)
	assert.Equal(t, int64(23), putResult.Size)

	// Prefix listing.
	response = fixture.do(t, http.MethodGet, "/v1/buckets/demo/objects?prefix=read", nil, nil)
	assert.Equal(t, http.StatusOK, response.StatusCode)
	var listResult struct {
		Objects []struct {
			Name string `json:"name"`
			Size int64  `json:"size"`
			ETag string `json:"etag"`
		} `json:"objects"`
	}
	decodeJson(t, response, &listResult)
	require.Len(t, listResult.Objects, 1)
	assert.Equal(t, "readme.txt", listResult.Objects[0].Name)
	assert.Equal(t, putResult.ETag, listResult.Objects[0].ETag)

	// Full download.
	response = fixture.do(t, http.MethodGet, "/v1/buckets/demo/objects/readme.txt", nil, nil)
	assert.Equal(t, http.StatusOK, response.StatusCode)
	downloaded, err := io.ReadAll(response.Body)
	response.Body.Close()
	require.Nil(t, err)
	assert.Equal(t, content, downloaded)

	// Range download.
	response = fixture.do(t, http.MethodGet, "/v1/buckets/demo/objects/readme.txt", nil, http.Header{"Range": []string{"bytes=0-4"}})
	assert.Equal(t, http.StatusPartialContent, response.StatusCode)
	assert.Equal(t, "bytes 0-4/23", response.Header.Get("Content-Range"))
	downloaded, err = io.ReadAll(response.Body)
	response.Body.Close()
	require.Nil(t, err)
	assert.Equal(t, []byte("hello"), downloaded)

	// Delete.
	response = fixture.do(t, http.MethodDelete, "/v1/buckets/demo/objects/readme.txt", nil, nil)
	assert.Equal(t, http.StatusOK, response.StatusCode)
	var deleteResult map[string]any
	decodeJson(t, response, &deleteResult)
	assert.Equal(t, true, deleteResult["deleted"])

	// Gone.
	response = fixture.do(t, http.MethodGet, "/v1/buckets/demo/objects/readme.txt", nil, nil)
	assert.Equal(t, http.StatusNotFound, response.StatusCode)
	var errorResult struct {
		Error struct {
			Code      string `json:"code"`
			RequestId string `json:"request_id"`
		} `json:"error"`
	}
	decodeJson(t, response, &errorResult)
	assert.Equal(t, "OBJECT_NOT_FOUND", errorResult.Error.Code)
	assert.NotEmpty(t, errorResult.Error.RequestId)
}

func TestCreateBucketConflictAndValidation(t *testing.T) {
	fixture := newServerFixture(t, nil)

	response := fixture.do(t, http.MethodPost, "/v1/buckets", []byte(`{"name":"demo"}`), nil)
	assert.Equal(t, http.StatusOK, response.StatusCode)
	response.Body.Close()

	response = fixture.do(t, http.MethodPost, "/v1/buckets", []byte(`{"name":"demo"}`), nil)
	assert.Equal(t, http.StatusConflict, response.StatusCode)
	response.Body.Close()

	response = fixture.do(t, http.MethodPost, "/v1/buckets", []byte(`{"name":"../escape"}`), nil)
	assert.Equal(t, http.StatusBadRequest, response.StatusCode)
	response.Body.Close()

	response = fixture.do(t, http.MethodPost, "/v1/buckets", []byte(`{not json`), nil)
	assert.Equal(t, http.StatusBadRequest, response.StatusCode)
	response.Body.Close()
}

func TestPutObjectByQueryName(t *testing.T) {
	fixture := newServerFixture(t, nil)

	response := fixture.do(t, http.MethodPost, "/v1/buckets", []byte(`{"name":"demo"}`), nil)
	require.Equal(t, http.StatusOK, response.StatusCode)
	response.Body.Close()

	content := []byte("query variant")
	response = fixture.do(t, http.MethodPost, "/v1/buckets/demo/objects?name=via-query.txt", content, nil)
	assert.Equal(t, http.StatusOK, response.StatusCode)
	var putResult struct {
		ETag string `json:"etag"`
	}
	decodeJson(t, response, &putResult)
	assert.Equal(t, sha256Hex(content), putResult.ETag)

	response = fixture.do(t, http.MethodPost, "/v1/buckets/demo/objects", content, nil)
	assert.Equal(t, http.StatusBadRequest, response.StatusCode)
	var errorResult struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decodeJson(t, response, &errorResult)
	assert.Equal(t, "MISSING_NAME", errorResult.Error.Code)
}

func TestPutObjectToMissingBucket(t *testing.T) {
	fixture := newServerFixture(t, nil)

	response := fixture.do(t, http.MethodPut, "/v1/buckets/absent/objects/a.txt", []byte("x"), nil)
	assert.Equal(t, http.StatusNotFound, response.StatusCode)
	var errorResult struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decodeJson(t, response, &errorResult)
	assert.Equal(t, "BUCKET_NOT_FOUND", errorResult.Error.Code)
}

func TestPutObjectBodyTooLarge(t *testing.T) {
	fixture := newServerFixture(t, func(config *Config, _ *auth.Config) {
		config.MaxBodyBytes = 16
		config.MaxPartBytes = 16
	})

	response := fixture.do(t, http.MethodPost, "/v1/buckets", []byte(`{"name":"d"}`), nil)
	require.Equal(t, http.StatusOK, response.StatusCode)
	response.Body.Close()

	response = fixture.do(t, http.MethodPut, "/v1/buckets/d/objects/big.bin", bytes.Repeat([]byte("x"), 64), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, response.StatusCode)
	response.Body.Close()

	// The staging area holds no leftovers from the rejected upload.
	entries, err := os.ReadDir(fixture.blobStore.TempPath())
	require.Nil(t, err)
	assert.Empty(t, entries)
}

func TestInvalidRanges(t *testing.T) {
	fixture := newServerFixture(t, nil)

	response := fixture.do(t, http.MethodPost, "/v1/buckets", []byte(`{"name":"demo"}`), nil)
	require.Equal(t, http.StatusOK, response.StatusCode)
	response.Body.Close()
	response = fixture.do(t, http.MethodPut, "/v1/buckets/demo/objects/a.txt", []byte("0123456789"), nil)
	require.Equal(t, http.StatusOK, response.StatusCode)
	response.Body.Close()

	for _, rangeValue := range []string{"items=0-4", "bytes=5-2", "bytes=10-", "bytes=0-10", "bytes=-5", "bytes=0-2,4-6"} {
		response = fixture.do(t, http.MethodGet, "/v1/buckets/demo/objects/a.txt", nil, http.Header{"Range": []string{rangeValue}})
		assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, response.StatusCode, "range %q", rangeValue)
		assert.Equal(t, "bytes */10", response.Header.Get("Content-Range"), "range %q", rangeValue)
		response.Body.Close()
	}

	// Open-ended ranges read to the end of the object.
	response = fixture.do(t, http.MethodGet, "/v1/buckets/demo/objects/a.txt", nil, http.Header{"Range": []string{"bytes=7-"}})
	assert.Equal(t, http.StatusPartialContent, response.StatusCode)
	assert.Equal(t, "bytes 7-9/10", response.Header.Get("Content-Range"))
	downloaded, err := io.ReadAll(response.Body)
	response.Body.Close()
	require.Nil(t, err)
	assert.Equal(t, []byte("789"), downloaded)
}

func TestHealthEndpointsArePublic(t *testing.T) {
	fixture := newServerFixture(t, func(config *Config, authConfig *auth.Config) {
		config.AuthEnabled = true
		authConfig.Enabled = true
		authConfig.Issuer = "https://issuer.integration.local"
		authConfig.JwksUrl = "/nonexistent/jwks.json"
		authConfig.AllowedAlg = "RS256"
	})

	for _, path := range []string{"/healthz", "/readyz"} {
		response := fixture.do(t, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusOK, response.StatusCode, "path %s", path)
		var status struct {
			Status    string `json:"status"`
			RequestId string `json:"request_id"`
		}
		decodeJson(t, response, &status)
		assert.NotEmpty(t, status.Status)
		assert.NotEmpty(t, status.RequestId)
	}

	// Metrics stays gated by default.
	response := fixture.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, response.StatusCode)
	response.Body.Close()
}

func TestAuthGate(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.Nil(t, err)
	jwksPath := filepath.Join(t.TempDir(), "jwks.json")
	jwksDocument := fmt.Sprintf(`{"keys":[{"kty":"RSA","kid":"integration-test-key","n":"%s","e":"%s"}]}`,
		base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
		base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()))
	require.Nil(t, os.WriteFile(jwksPath, []byte(jwksDocument), 0o644))

	fixture := newServerFixture(t, func(config *Config, authConfig *auth.Config) {
		config.AuthEnabled = true
		authConfig.Enabled = true
		authConfig.Issuer = "https://issuer.integration.local"
		authConfig.Audience = "nebulafs-it"
		authConfig.JwksUrl = jwksPath
		authConfig.CacheTtl = 5 * time.Minute
		authConfig.ClockSkew = time.Minute
		authConfig.AllowedAlg = "RS256"
	})

	// No Authorization header.
	response := fixture.do(t, http.MethodGet, "/v1/buckets", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, response.StatusCode)
	var errorResult struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decodeJson(t, response, &errorResult)
	assert.Equal(t, "UNAUTHORIZED", errorResult.Error.Code)

	// Garbage token.
	response = fixture.do(t, http.MethodGet, "/v1/buckets", nil, http.Header{"Authorization": []string{"Bearer invalid.token"}})
	assert.Equal(t, http.StatusUnauthorized, response.StatusCode)
	response.Body.Close()

	// Valid RS256 token.
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub": "it-user",
		"iss": "https://issuer.integration.local",
		"aud": "nebulafs-it",
		"exp": now.Add(5 * time.Minute).Unix(),
		"nbf": now.Add(-10 * time.Second).Unix(),
	})
	token.Header["kid"] = "integration-test-key"
	signed, err := token.SignedString(key)
	require.Nil(t, err)

	response = fixture.do(t, http.MethodGet, "/v1/buckets", nil, http.Header{"Authorization": []string{"bearer " + signed}})
	assert.Equal(t, http.StatusOK, response.StatusCode)
	response.Body.Close()
}

func TestMultipartHappyPathOverHttp(t *testing.T) {
	fixture := newServerFixture(t, nil)

	response := fixture.do(t, http.MethodPost, "/v1/buckets", []byte(`{"name":"demo"}`), nil)
	require.Equal(t, http.StatusOK, response.StatusCode)
	response.Body.Close()

	response = fixture.do(t, http.MethodPost, "/v1/buckets/demo/multipart-uploads", []byte(`{"object":"big.bin"}`), nil)
	require.Equal(t, http.StatusOK, response.StatusCode)
	var initiated struct {
		UploadId  string `json:"upload_id"`
		Object    string `json:"object"`
		ExpiresAt string `json:"expires_at"`
	}
	decodeJson(t, response, &initiated)
	assert.NotEmpty(t, initiated.UploadId)
	assert.Equal(t, "big.bin", initiated.Object)
	_, err := time.Parse(time.RFC3339, initiated.ExpiresAt)
	assert.Nil(t, err)

	uploadBase := "/v1/buckets/demo/multipart-uploads/" + initiated.UploadId

	response = fixture.do(t, http.MethodPut, uploadBase+"/parts/1", []byte("hello"), nil)
	require.Equal(t, http.StatusOK, response.StatusCode)
	var part1 struct {
		PartNumber int    `json:"part_number"`
		ETag       string `json:"etag"`
		Size       int64  `json:"size"`
	}
	decodeJson(t, response, &part1)
	assert.Equal(t, 1, part1.PartNumber)
	assert.Equal(t, sha256Hex([]byte("hello")), part1.ETag)

	response = fixture.do(t, http.MethodPut, uploadBase+"/parts/2", []byte("world!!"), nil)
	require.Equal(t, http.StatusOK, response.StatusCode)
	var part2 struct {
		ETag string `json:"etag"`
	}
	decodeJson(t, response, &part2)

	response = fixture.do(t, http.MethodGet, uploadBase+"/parts", nil, nil)
	require.Equal(t, http.StatusOK, response.StatusCode)
	var listed struct {
		State string `json:"state"`
		Parts []struct {
			PartNumber int `json:"part_number"`
		} `json:"parts"`
	}
	decodeJson(t, response, &listed)
	assert.Equal(t, "uploading", listed.State)
	require.Len(t, listed.Parts, 2)
	assert.Equal(t, 1, listed.Parts[0].PartNumber)
	assert.Equal(t, 2, listed.Parts[1].PartNumber)

	completeBody := fmt.Sprintf(`{"parts":[{"part_number":1,"etag":"%s"},{"part_number":2,"etag":"%s"}]}`, part1.ETag, part2.ETag)
	response = fixture.do(t, http.MethodPost, uploadBase+"/complete", []byte(completeBody), nil)
	require.Equal(t, http.StatusOK, response.StatusCode)
	var completed struct {
		Name string `json:"name"`
		ETag string `json:"etag"`
		Size int64  `json:"size"`
	}
	decodeJson(t, response, &completed)
	assert.Equal(t, "big.bin", completed.Name)
	assert.Equal(t, int64(12), completed.Size)
	assert.Equal(t, sha256Hex([]byte("helloworld!!")), completed.ETag)

	response = fixture.do(t, http.MethodGet, "/v1/buckets/demo/objects/big.bin", nil, nil)
	require.Equal(t, http.StatusOK, response.StatusCode)
	downloaded, err := io.ReadAll(response.Body)
	response.Body.Close()
	require.Nil(t, err)
	assert.Equal(t, []byte("helloworld!!"), downloaded)
}

func TestMultipartEtagMismatchOverHttp(t *testing.T) {
	fixture := newServerFixture(t, nil)

	response := fixture.do(t, http.MethodPost, "/v1/buckets", []byte(`{"name":"demo"}`), nil)
	require.Equal(t, http.StatusOK, response.StatusCode)
	response.Body.Close()
	response = fixture.do(t, http.MethodPost, "/v1/buckets/demo/multipart-uploads", []byte(`{"object":"big.bin"}`), nil)
	require.Equal(t, http.StatusOK, response.StatusCode)
	var initiated struct {
		UploadId string `json:"upload_id"`
	}
	decodeJson(t, response, &initiated)
	uploadBase := "/v1/buckets/demo/multipart-uploads/" + initiated.UploadId

	response = fixture.do(t, http.MethodPut, uploadBase+"/parts/1", []byte("hello"), nil)
	require.Equal(t, http.StatusOK, response.StatusCode)
	response.Body.Close()
	response = fixture.do(t, http.MethodPut, uploadBase+"/parts/2", []byte("world!!"), nil)
	require.Equal(t, http.StatusOK, response.StatusCode)
	var part2 struct {
		ETag string `json:"etag"`
	}
	decodeJson(t, response, &part2)

	completeBody := fmt.Sprintf(`{"parts":[{"part_number":1,"etag":"deadbeef"},{"part_number":2,"etag":"%s"}]}`, part2.ETag)
	response = fixture.do(t, http.MethodPost, uploadBase+"/complete", []byte(completeBody), nil)
	assert.Equal(t, http.StatusConflict, response.StatusCode)
	var errorResult struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decodeJson(t, response, &errorResult)
	assert.Equal(t, "ETAG_MISMATCH", errorResult.Error.Code)

	// The upload survives the failed complete.
	response = fixture.do(t, http.MethodGet, uploadBase+"/parts", nil, nil)
	require.Equal(t, http.StatusOK, response.StatusCode)
	var listed struct {
		State string `json:"state"`
	}
	decodeJson(t, response, &listed)
	assert.Equal(t, "uploading", listed.State)
	_, err := os.Stat(blob.MultipartUploadDir(fixture.blobStore.TempPath(), initiated.UploadId))
	assert.Nil(t, err)
}

func TestMultipartValidationOverHttp(t *testing.T) {
	fixture := newServerFixture(t, nil)

	response := fixture.do(t, http.MethodPost, "/v1/buckets", []byte(`{"name":"demo"}`), nil)
	require.Equal(t, http.StatusOK, response.StatusCode)
	response.Body.Close()
	response = fixture.do(t, http.MethodPost, "/v1/buckets/demo/multipart-uploads", []byte(`{"object":"big.bin"}`), nil)
	require.Equal(t, http.StatusOK, response.StatusCode)
	var initiated struct {
		UploadId string `json:"upload_id"`
	}
	decodeJson(t, response, &initiated)
	uploadBase := "/v1/buckets/demo/multipart-uploads/" + initiated.UploadId

	// Non-numeric and non-positive part numbers.
	for _, part := range []string{"abc", "0", "-1"} {
		response = fixture.do(t, http.MethodPut, uploadBase+"/parts/"+part, []byte("x"), nil)
		assert.Equal(t, http.StatusBadRequest, response.StatusCode, "part %q", part)
		response.Body.Close()
	}

	// Unknown upload id.
	response = fixture.do(t, http.MethodPut, "/v1/buckets/demo/multipart-uploads/unknown/parts/1", []byte("x"), nil)
	assert.Equal(t, http.StatusNotFound, response.StatusCode)
	response.Body.Close()

	// Complete bodies that fail validation.
	for _, body := range []string{
		`{"parts":[]}`,
		`{"parts":[{"part_number":2,"etag":"e"},{"part_number":1,"etag":"e"}]}`,
		`{"parts":[{"part_number":1,"etag":""}]}`,
		`{not json`,
	} {
		response = fixture.do(t, http.MethodPost, uploadBase+"/complete", []byte(body), nil)
		assert.Equal(t, http.StatusBadRequest, response.StatusCode, "body %s", body)
		response.Body.Close()
	}

	// Initiate with an unsafe object name.
	response = fixture.do(t, http.MethodPost, "/v1/buckets/demo/multipart-uploads", []byte(`{"object":"a/b"}`), nil)
	assert.Equal(t, http.StatusBadRequest, response.StatusCode)
	response.Body.Close()

	// Initiate against a missing bucket.
	response = fixture.do(t, http.MethodPost, "/v1/buckets/absent/multipart-uploads", []byte(`{"object":"x.bin"}`), nil)
	assert.Equal(t, http.StatusNotFound, response.StatusCode)
	response.Body.Close()
}

func TestMultipartAbortOverHttp(t *testing.T) {
	fixture := newServerFixture(t, nil)

	response := fixture.do(t, http.MethodPost, "/v1/buckets", []byte(`{"name":"demo"}`), nil)
	require.Equal(t, http.StatusOK, response.StatusCode)
	response.Body.Close()
	response = fixture.do(t, http.MethodPost, "/v1/buckets/demo/multipart-uploads", []byte(`{"object":"big.bin"}`), nil)
	require.Equal(t, http.StatusOK, response.StatusCode)
	var initiated struct {
		UploadId string `json:"upload_id"`
	}
	decodeJson(t, response, &initiated)
	uploadBase := "/v1/buckets/demo/multipart-uploads/" + initiated.UploadId

	response = fixture.do(t, http.MethodPut, uploadBase+"/parts/1", []byte("hello"), nil)
	require.Equal(t, http.StatusOK, response.StatusCode)
	response.Body.Close()

	response = fixture.do(t, http.MethodDelete, uploadBase, nil, nil)
	assert.Equal(t, http.StatusNoContent, response.StatusCode)
	response.Body.Close()

	// A repeat abort observes the deleted row.
	response = fixture.do(t, http.MethodDelete, uploadBase, nil, nil)
	assert.Equal(t, http.StatusNotFound, response.StatusCode)
	response.Body.Close()

	// Uploading into the aborted upload fails as not found too.
	response = fixture.do(t, http.MethodPut, uploadBase+"/parts/2", []byte("x"), nil)
	assert.Equal(t, http.StatusNotFound, response.StatusCode)
	response.Body.Close()
}

func TestUnknownRouteEnvelope(t *testing.T) {
	fixture := newServerFixture(t, nil)

	response := fixture.do(t, http.MethodGet, "/v2/unknown", nil, nil)
	assert.Equal(t, http.StatusNotFound, response.StatusCode)
	var errorResult struct {
		Error struct {
			Code      string `json:"code"`
			RequestId string `json:"request_id"`
		} `json:"error"`
	}
	decodeJson(t, response, &errorResult)
	assert.Equal(t, "NOT_FOUND", errorResult.Error.Code)
	assert.NotEmpty(t, errorResult.Error.RequestId)
}

func TestMetricsExposition(t *testing.T) {
	fixture := newServerFixture(t, nil)

	response := fixture.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, response.StatusCode)
	response.Body.Close()

	response = fixture.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, response.StatusCode)
	body, err := io.ReadAll(response.Body)
	response.Body.Close()
	require.Nil(t, err)
	assert.True(t, strings.Contains(string(body), "nebulafs_http_requests_total"))
}
