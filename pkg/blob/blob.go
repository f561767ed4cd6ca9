// Package blob stores plan files (drawings, PDFs, CAD bundles) in object storage.
//
// S3Store talks to any S3-compatible endpoint, including Supabase Storage and MinIO.
// FileSystemStore keeps files on local disk for development and hands out HMAC-signed
// URLs that the API server verifies before streaming the file.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sakconstructions/storefront/pkg/config"
	"github.com/sakconstructions/storefront/pkg/observability"
)

var (
	// ErrNotFound is returned when the object does not exist
	ErrNotFound = errors.New("blob: object not found")
	// ErrInvalidKey is returned for keys that escape the store namespace
	ErrInvalidKey = errors.New("blob: invalid object key")
	// ErrInvalidSignature is returned when a signed local URL fails verification
	ErrInvalidSignature = errors.New("blob: invalid or expired signature")
)

// Store is the plan file storage backend
type Store interface {
	// Put uploads the content and returns the number of bytes stored
	Put(ctx context.Context, key string, content io.Reader, contentType string) (int64, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	// PresignGet returns a time-limited download URL. filename sets the
	// Content-Disposition of the download when non-empty.
	PresignGet(ctx context.Context, key string, ttl time.Duration, filename string) (string, error)
	HealthCheck(ctx context.Context) error
	Backend() string
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SanitizeFilename keeps a readable, URL-safe version of an uploaded file name
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeChars.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-.")
	if name == "" {
		name = "file"
	}
	if len(name) > 120 {
		name = name[len(name)-120:]
	}
	return name
}

// PlanFileKey builds the object key for a plan file: plans/<planID>/<tier>/<uuid>-<name>
func PlanFileKey(planID int64, tier, filename string) string {
	return fmt.Sprintf("plans/%d/%s/%s-%s", planID, tier, uuid.NewString(), SanitizeFilename(filename))
}

// ValidateKey rejects empty, absolute and parent-relative keys
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return ErrInvalidKey
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return ErrInvalidKey
		}
	}
	return nil
}

// New builds the Store selected by cfg.Backend
func New(ctx context.Context, cfg config.BlobConfig, publicBaseURL string, metrics *observability.Metrics) (Store, error) {
	switch cfg.Backend {
	case backendS3:
		return NewS3Store(ctx, cfg, metrics)
	case backendFilesystem:
		return NewFileSystemStore(cfg.FilesystemRoot, publicBaseURL, []byte(cfg.SigningKey), metrics)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Backend)
	}
}
