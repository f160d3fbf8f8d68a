package http

import (
	"context"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/burnroom/internal/auth"
	"github.com/vovakirdan/burnroom/internal/core"
	"github.com/vovakirdan/burnroom/internal/store"
	"github.com/vovakirdan/burnroom/internal/uploads"
)

// UploadService stores files under quota.
type UploadService interface {
	Admit(ctx context.Context, roomID string, size int64) (*uploads.Reservation, error)
	Save(ctx context.Context, res *uploads.Reservation, src io.Reader, info uploads.FileInfo) (*store.Upload, error)
	Stats(ctx context.Context) (uploads.Stats, error)
	Limits() uploads.Limits
}

// multipartOverhead covers boundaries and part headers on top of the file itself.
const multipartOverhead = 1 << 20

// UploadHandlers serves file uploads and storage stats.
type UploadHandlers struct {
	rooms   RoomService
	uploads UploadService
	log     *zerolog.Logger
}

// NewUploadHandlers creates upload handlers.
func NewUploadHandlers(rooms RoomService, up UploadService, logger *zerolog.Logger) *UploadHandlers {
	return &UploadHandlers{rooms: rooms, uploads: up, log: logger}
}

// UploadResponse is returned for a stored file.
type UploadResponse struct {
	OK  bool   `json:"ok"`
	URL string `json:"url"`
}

// Upload stores a file for the connection named by the ticket and announces it to the room.
// POST /upload?token=...
func (h *UploadHandlers) Upload(c *gin.Context) {
	claims, ok := c.MustGet(ContextKeyTicket).(*auth.TicketClaims)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
		return
	}
	roomID, connID := claims.Room, claims.Subject

	member, err := h.rooms.Member(roomID, connID)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "room or member not found"})
		return
	}

	if limit := h.uploads.Limits().MaxFileSize; limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartOverhead)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: uploads.ErrFileTooLarge.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "missing file"})
		return
	}

	ctx := c.Request.Context()
	res, err := h.uploads.Admit(ctx, roomID, fh.Size)
	if err != nil {
		h.fail(c, roomID, err)
		return
	}

	src, err := fh.Open()
	if err != nil {
		res.Release()
		h.fail(c, roomID, err)
		return
	}
	defer src.Close()

	saved, err := h.uploads.Save(ctx, res, src, uploads.FileInfo{
		Original: fh.Filename,
		Mime:     mimeOf(fh),
		Uploader: member.Name,
	})
	if err != nil {
		h.fail(c, roomID, err)
		return
	}

	url := "/uploads/" + saved.FileName
	err = h.rooms.PublishUpload(roomID, connID, core.Upload{
		URL:      url,
		Original: saved.Original,
		Mime:     saved.Mime,
		Size:     saved.Size,
	})
	if err != nil {
		// The file stays accounted; the orphan sweep or room purge removes it.
		h.log.Info().Err(err).Str("room", roomID).Str("path", saved.FileName).Msg("upload stored for a departed member")
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "room or member not found"})
		return
	}

	c.JSON(http.StatusOK, UploadResponse{OK: true, URL: url})
}

func (h *UploadHandlers) fail(c *gin.Context, roomID string, err error) {
	switch {
	case errors.Is(err, uploads.ErrEmptyFile):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, uploads.ErrFileTooLarge),
		errors.Is(err, uploads.ErrRoomQuota),
		errors.Is(err, uploads.ErrTotalQuota):
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: err.Error()})
	default:
		h.log.Error().Err(err).Str("room", roomID).Msg("upload failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "upload failed"})
	}
}

// Stats reports storage usage.
// GET /api/stats
func (h *UploadHandlers) Stats(c *gin.Context) {
	stats, err := h.uploads.Stats(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to read upload stats")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to read stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func mimeOf(fh *multipart.FileHeader) string {
	if ct := fh.Header.Get("Content-Type"); ct != "" && ct != "application/octet-stream" {
		return ct
	}
	if byExt := mime.TypeByExtension(filepath.Ext(fh.Filename)); byExt != "" {
		return byExt
	}
	return "application/octet-stream"
}
