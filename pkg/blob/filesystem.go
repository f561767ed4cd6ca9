package blob

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sakconstructions/storefront/pkg/observability"
)

const backendFilesystem = "filesystem"

// FilesRoutePrefix is where the API server serves signed local downloads
const FilesRoutePrefix = "/files/"

// FileSystemStore implements Store using the local filesystem
type FileSystemStore struct {
	rootDir    string
	baseURL    string
	signingKey []byte
	metrics    *observability.Metrics
	now        func() time.Time
}

// NewFileSystemStore creates a new filesystem-based store. baseURL is the public
// origin of the API server, used to build download URLs.
func NewFileSystemStore(rootDir, baseURL string, signingKey []byte, metrics *observability.Metrics) (*FileSystemStore, error) {
	if len(signingKey) == 0 {
		return nil, errors.New("filesystem store requires a signing key")
	}
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &FileSystemStore{
		rootDir:    rootDir,
		baseURL:    strings.TrimRight(baseURL, "/"),
		signingKey: signingKey,
		metrics:    metrics,
		now:        time.Now,
	}, nil
}

// Backend implements Store
func (s *FileSystemStore) Backend() string { return backendFilesystem }

func (s *FileSystemStore) path(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.rootDir, filepath.FromSlash(key)), nil
}

// Put implements Store. Content is written to a temp file and renamed into place.
func (s *FileSystemStore) Put(ctx context.Context, key string, content io.Reader, contentType string) (size int64, err error) {
	defer func(start time.Time) { s.metrics.ObserveBlob("put", backendFilesystem, start, err) }(time.Now())

	target, err := s.path(key)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return 0, fmt.Errorf("failed to create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	size, err = io.Copy(tmp, content)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, fmt.Errorf("failed to write object: %w", err)
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		return 0, fmt.Errorf("failed to move object into place: %w", err)
	}
	return size, nil
}

// Get implements Store
func (s *FileSystemStore) Get(ctx context.Context, key string) (rc io.ReadCloser, err error) {
	defer func(start time.Time) { s.metrics.ObserveBlob("get", backendFilesystem, start, err) }(time.Now())

	target, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open object: %w", err)
	}
	return f, nil
}

// Delete implements Store
func (s *FileSystemStore) Delete(ctx context.Context, key string) (err error) {
	defer func(start time.Time) { s.metrics.ObserveBlob("delete", backendFilesystem, start, err) }(time.Now())

	target, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// PresignGet implements Store. The URL carries an expiry and an HMAC over key,
// expiry and filename; VerifySignature checks it when the file is requested.
func (s *FileSystemStore) PresignGet(ctx context.Context, key string, ttl time.Duration, filename string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	expires := strconv.FormatInt(s.now().Add(ttl).Unix(), 10)

	q := url.Values{}
	q.Set("expires", expires)
	if filename != "" {
		filename = SanitizeFilename(filename)
		q.Set("filename", filename)
	}
	q.Set("sig", s.sign(key, expires, filename))

	return s.baseURL + FilesRoutePrefix + key + "?" + q.Encode(), nil
}

// VerifySignature checks a signed local download URL's parameters
func (s *FileSystemStore) VerifySignature(key, expires, filename, sig string) error {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil || s.now().Unix() > exp {
		return ErrInvalidSignature
	}
	want := s.sign(key, expires, filename)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return ErrInvalidSignature
	}
	return nil
}

func (s *FileSystemStore) sign(key, expires, filename string) string {
	mac := hmac.New(sha256.New, s.signingKey)
	mac.Write([]byte(key + "\n" + expires + "\n" + filename))
	return hex.EncodeToString(mac.Sum(nil))
}

// HealthCheck implements Store
func (s *FileSystemStore) HealthCheck(ctx context.Context) error {
	info, err := os.Stat(s.rootDir)
	if err != nil {
		return fmt.Errorf("filesystem store unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("filesystem store root %s is not a directory", s.rootDir)
	}
	return nil
}
