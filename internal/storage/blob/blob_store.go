package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"
)

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrInvalidName    = errors.New("invalid name")
)

const copyBufferSize = 8 * 1024

// StoredObject describes a blob after a successful write or lookup.
type StoredObject struct {
	Path string
	Size int64
	ETag string
}

// LocalStore keeps object blobs under basePath and staging files under
// tempPath. Publishes are temp-write + rename, so readers never observe a
// partially written object.
type LocalStore struct {
	basePath string
	tempPath string
}

func NewLocalStore(basePath string, tempPath string) (*LocalStore, error) {
	basePath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, err
	}
	tempPath, err = filepath.Abs(tempPath)
	if err != nil {
		return nil, err
	}
	err = os.MkdirAll(basePath, 0o755)
	if err != nil {
		return nil, err
	}
	err = os.MkdirAll(tempPath, 0o755)
	if err != nil {
		return nil, err
	}
	return &LocalStore{
		basePath: basePath,
		tempPath: tempPath,
	}, nil
}

func (ls *LocalStore) BasePath() string {
	return ls.basePath
}

func (ls *LocalStore) TempPath() string {
	return ls.tempPath
}

// IsSafeName reports whether name is usable as a single path segment:
// non-empty, at most 255 bytes, only [A-Za-z0-9._-], and not "." or "..".
func IsSafeName(name string) bool {
	if len(name) == 0 || len(name) > 255 {
		return false
	}
	for _, c := range []byte(name) {
		isAlnum := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
		if !isAlnum && c != '-' && c != '_' && c != '.' {
			return false
		}
	}
	if name == "." || name == ".." {
		return false
	}
	return true
}

// BuildObjectPath returns the final blob path for (bucket, object) below base.
func BuildObjectPath(basePath string, bucket string, object string) string {
	return filepath.Join(basePath, "buckets", bucket, "objects", object)
}

// MultipartPartPath returns the staging path for one uploaded part.
func MultipartPartPath(tempPath string, uploadId string, partNumber int) string {
	return filepath.Join(tempPath, "multipart", uploadId, fmt.Sprintf("part-%d", partNumber))
}

// MultipartUploadDir returns the staging directory of one multipart upload.
func MultipartUploadDir(tempPath string, uploadId string) string {
	return filepath.Join(tempPath, "multipart", uploadId)
}

func (ls *LocalStore) EnsureBucket(ctx context.Context, bucket string) error {
	if !IsSafeName(bucket) {
		return ErrInvalidName
	}
	return os.MkdirAll(filepath.Join(ls.basePath, "buckets", bucket, "objects"), 0o755)
}

// WriteObject streams data into a staging file while computing a rolling
// SHA-256, then renames it over the final path. On any error the staging file
// is removed and the previously published object (if any) stays untouched.
func (ls *LocalStore) WriteObject(ctx context.Context, bucket string, object string, data io.Reader) (*StoredObject, error) {
	if !IsSafeName(bucket) || !IsSafeName(object) {
		return nil, ErrInvalidName
	}
	err := ls.EnsureBucket(ctx, bucket)
	if err != nil {
		return nil, err
	}

	tempPath := filepath.Join(ls.tempPath, uuid.NewString())
	f, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}

	hasher := sha256.New()
	size, err := CopyWithDigest(f, data, hasher)
	if err != nil {
		f.Close()
		os.Remove(tempPath)
		return nil, err
	}
	err = syncFile(f)
	if err != nil {
		f.Close()
		os.Remove(tempPath)
		return nil, err
	}
	err = f.Close()
	if err != nil {
		os.Remove(tempPath)
		return nil, err
	}

	finalPath := BuildObjectPath(ls.basePath, bucket, object)
	err = os.Rename(tempPath, finalPath)
	if err != nil {
		os.Remove(tempPath)
		return nil, err
	}

	return &StoredObject{
		Path: finalPath,
		Size: size,
		ETag: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

func (ls *LocalStore) ReadObject(ctx context.Context, bucket string, object string) (*StoredObject, error) {
	if !IsSafeName(bucket) || !IsSafeName(object) {
		return nil, ErrInvalidName
	}
	path := BuildObjectPath(ls.basePath, bucket, object)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrObjectNotFound
		}
		return nil, err
	}
	return &StoredObject{
		Path: path,
		Size: info.Size(),
	}, nil
}

func (ls *LocalStore) DeleteObject(ctx context.Context, bucket string, object string) error {
	if !IsSafeName(bucket) || !IsSafeName(object) {
		return ErrInvalidName
	}
	path := BuildObjectPath(ls.basePath, bucket, object)
	err := os.Remove(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrObjectNotFound
		}
		return err
	}
	return nil
}

// CopyWithDigest copies src to dst through a small buffer, feeding every
// chunk to hasher, and returns the number of bytes copied.
func CopyWithDigest(dst io.Writer, src io.Reader, hasher io.Writer) (int64, error) {
	buffer := make([]byte, copyBufferSize)
	var total int64
	for {
		n, readErr := src.Read(buffer)
		if n > 0 {
			_, err := dst.Write(buffer[:n])
			if err != nil {
				return total, err
			}
			_, err = hasher.Write(buffer[:n])
			if err != nil {
				return total, err
			}
			total += int64(n)
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			return total, readErr
		}
	}
}

// syncFile issues a durability barrier where the platform has a cheap one.
// Windows gets flush-then-rename via Close instead.
func syncFile(f *os.File) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	return f.Sync()
}
