package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/sakconstructions/storefront/pkg/blob"
	"github.com/sakconstructions/storefront/pkg/httputil"
)

// localFiles streams files from the filesystem store to holders of a URL
// signed by FileSystemStore.PresignGet
func localFiles(fs *blob.FileSystemStore) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, blob.FilesRoutePrefix)
		q := r.URL.Query()
		filename := q.Get("filename")

		if err := fs.VerifySignature(key, q.Get("expires"), filename, q.Get("sig")); err != nil {
			httputil.WriteForbidden(w, err.Error())
			return
		}

		body, err := fs.Get(r.Context(), key)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		defer body.Close()

		if filename == "" {
			filename = path.Base(key)
		}
		contentType := mime.TypeByExtension(path.Ext(filename))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		w.Header().Set("Cache-Control", "private, no-store")
		w.WriteHeader(http.StatusOK)

		if _, err := io.Copy(w, body); err != nil && !errors.Is(err, r.Context().Err()) {
			reqLogger(r).WithError(err).WithField("key", key).Warn("Failed to stream file")
		}
	})
}
