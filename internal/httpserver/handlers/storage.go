package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrSnakeDoc/relay/internal/httpserver/deps"
	"github.com/MrSnakeDoc/relay/internal/logger"
	"github.com/MrSnakeDoc/relay/internal/storage"
)

type storageFilesResponse struct {
	Prefix string              `json:"prefix,omitempty"`
	Count  int                 `json:"count"`
	Files  []storage.MediaFile `json:"files"`
}

func StorageFiles(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prefix := strings.TrimSpace(r.URL.Query().Get("prefix"))

		files, err := d.Media.List(r.Context(), prefix)
		if err != nil {
			d.Logger.Error("failed to list media", logger.String("prefix", prefix), logger.Error(err))
			code := http.StatusBadGateway
			if errors.Is(err, storage.ErrUnavailable) {
				code = http.StatusServiceUnavailable
			}
			writeJSON(w, code, errorResponse{Error: "storage", Message: "media listing unavailable"})
			return
		}
		if files == nil {
			files = []storage.MediaFile{}
		}
		writeJSON(w, http.StatusOK, storageFilesResponse{Prefix: prefix, Count: len(files), Files: files})
	}
}

const (
	uploadKeyField  = "object_key"
	uploadFileField = "file"
	maxKeyFieldSize = 1024
)

// StorageUpload streams a multipart "file" part into the media bucket. An
// optional "object_key" field, sent before the file, overrides the file name.
func StorageUpload(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if d.UploadTimeout > 0 {
			deadline := time.Now().Add(d.UploadTimeout)
			rc := http.NewResponseController(w)
			_ = rc.SetReadDeadline(deadline)
			_ = rc.SetWriteDeadline(deadline)

			var cancel context.CancelFunc
			ctx, cancel = context.WithDeadline(ctx, deadline)
			defer cancel()
		}
		if d.MaxUploadBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, d.MaxUploadBytes)
		}

		mr, err := r.MultipartReader()
		if err != nil {
			badRequest(w, "expected a multipart/form-data body")
			return
		}

		var key string
		for {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				badRequest(w, "missing file part")
				return
			}
			if err != nil {
				writeUploadError(w, d, key, err)
				return
			}

			switch part.FormName() {
			case uploadKeyField:
				v, err := io.ReadAll(io.LimitReader(part, maxKeyFieldSize))
				_ = part.Close()
				if err != nil {
					writeUploadError(w, d, key, err)
					return
				}
				key = strings.TrimSpace(string(v))
				continue
			case uploadFileField:
				if key == "" {
					key = part.FileName()
				}
				file, err := d.Media.Upload(ctx, key, part, part.Header.Get("Content-Type"))
				_ = part.Close()
				if err != nil {
					writeUploadError(w, d, key, err)
					return
				}
				d.Logger.Info("media upload stored", logger.String("key", file.Key), logger.Int64("size", file.Size))
				writeJSON(w, http.StatusCreated, file)
				return
			default:
				_ = part.Close()
			}
		}
	}
}

func writeUploadError(w http.ResponseWriter, d deps.Deps, key string, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
			Error:   "too_large",
			Message: fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit),
		})
	case errors.Is(err, storage.ErrInvalidKey):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "invalid_key", Message: err.Error()})
	case errors.Is(err, storage.ErrUploadBody):
		badRequest(w, "upload body could not be read")
	case errors.Is(err, storage.ErrUnavailable):
		d.Logger.Error("media upload failed", logger.String("key", key), logger.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "storage", Message: "media upload unavailable"})
	default:
		d.Logger.Warn("malformed upload request", logger.String("key", key), logger.Error(err))
		badRequest(w, "malformed multipart body")
	}
}
