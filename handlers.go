package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
)

// allowedImageTypes lists the content types accepted by the upload endpoint.
var allowedImageTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"image/avif",
	"image/heic",
}

// multipartOverhead is the slack allowed on top of the image size for the
// multipart envelope.
const multipartOverhead = 64 << 10

// Handler handles HTTP requests for wishlist items.
type Handler struct {
	service      *ItemService
	logger       *slog.Logger
	maxImageSize int64
}

// NewHandler creates a Handler with dependencies.
func NewHandler(service *ItemService, logger *slog.Logger, maxImageSize int64) *Handler {
	return &Handler{service: service, logger: logger, maxImageSize: maxImageSize}
}

// RegisterRoutes registers the item and upload routes on r.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	h.registerKind(r, "gifts", KindGift)
	h.registerKind(r, "places", KindPlace)
	r.POST("/upload-image", h.handleUploadImage)
}

func (h *Handler) registerKind(r *gin.RouterGroup, noun string, kind Kind) {
	g := r.Group("/" + noun)
	g.GET("", h.handleList(kind, noun))
	g.POST("", h.handleCreate(kind))
	g.GET("/:id", h.handleGet(kind))
	g.PUT("/:id", h.handleUpdate(kind))
	g.DELETE("/:id", h.handleDelete(kind))
}

// handleHealth processes GET /health.
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleList processes GET /gifts and GET /places.
func (h *Handler) handleList(kind Kind, noun string) gin.HandlerFunc {
	return func(c *gin.Context) {
		items, err := h.service.List(c.Request.Context(), kind)
		if err != nil {
			h.writeError(c, err, "Failed to fetch "+noun)
			return
		}
		c.JSON(http.StatusOK, itemViews(items))
	}
}

// handleCreate processes POST /gifts and POST /places.
func (h *Handler) handleCreate(kind Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		item, err := newItem(kind)
		if err != nil {
			h.writeError(c, err, "Failed to create "+string(kind))
			return
		}
		if err := decodeJSON(c.Request.Body, item); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request payload: %v", err)})
			return
		}

		created, err := h.service.Create(c.Request.Context(), item)
		if err != nil {
			h.writeError(c, err, "Failed to create "+string(kind))
			return
		}
		c.JSON(http.StatusOK, itemView(created))
	}
}

// handleGet processes GET /gifts/:id and GET /places/:id.
func (h *Handler) handleGet(kind Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		item, err := h.service.Get(c.Request.Context(), kind, c.Param("id"))
		if err != nil {
			h.writeError(c, err, "Failed to fetch "+string(kind))
			return
		}
		c.JSON(http.StatusOK, itemView(item))
	}
}

// handleUpdate processes PUT /gifts/:id and PUT /places/:id.
func (h *Handler) handleUpdate(kind Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		item, err := newItem(kind)
		if err != nil {
			h.writeError(c, err, "Failed to update "+string(kind))
			return
		}
		if err := decodeJSON(c.Request.Body, item); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request payload: %v", err)})
			return
		}

		updated, err := h.service.Update(c.Request.Context(), kind, c.Param("id"), item)
		if err != nil {
			h.writeError(c, err, "Failed to update "+string(kind))
			return
		}
		c.JSON(http.StatusOK, itemView(updated))
	}
}

// handleDelete processes DELETE /gifts/:id and DELETE /places/:id.
func (h *Handler) handleDelete(kind Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.service.Delete(c.Request.Context(), kind, c.Param("id")); err != nil {
			h.writeError(c, err, "Failed to delete "+string(kind))
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// handleUploadImage processes POST /upload-image.
func (h *Handler) handleUploadImage(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxImageSize+multipartOverhead)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeTooLarge(c)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}
	if fileHeader.Size > h.maxImageSize {
		h.writeTooLarge(c)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.writeError(c, fmt.Errorf("open upload: %w", err), "Failed to upload image")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxImageSize+1))
	if err != nil {
		h.writeError(c, fmt.Errorf("read upload: %w", err), "Failed to upload image")
		return
	}
	if int64(len(data)) > h.maxImageSize {
		h.writeTooLarge(c)
		return
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File is empty"})
		return
	}

	mt := mimetype.Detect(data)
	if !isAllowedImage(mt) {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "File type is not an allowed image"})
		return
	}

	ref, err := h.service.UploadImage(c.Request.Context(), data, mt.String(), fileHeader.Filename)
	if err != nil {
		if errors.Is(err, ErrObjectTooLarge) {
			h.writeTooLarge(c)
			return
		}
		h.writeError(c, err, "Failed to upload image")
		return
	}
	c.JSON(http.StatusOK, ref)
}

func (h *Handler) writeTooLarge(c *gin.Context) {
	c.JSON(http.StatusRequestEntityTooLarge, gin.H{
		"error": fmt.Sprintf("Image exceeds the maximum size of %d bytes", h.maxImageSize),
	})
}

// writeError maps a domain error to a response. Internal details only go to the log.
func (h *Handler) writeError(c *gin.Context, err error, msg string) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
	case errors.Is(err, ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input"})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": http.StatusText(http.StatusNotFound)})
	default:
		h.logger.ErrorContext(c.Request.Context(), msg, "error", err, "request_id", c.GetString(requestIDKey))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}

func isAllowedImage(mt *mimetype.MIME) bool {
	for _, t := range allowedImageTypes {
		if mt.Is(t) {
			return true
		}
	}
	return false
}

// decodeJSON decodes a single JSON object from r into v.
func decodeJSON(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return ensureSingleJSON(dec)
}

// ensureSingleJSON ensures only a single JSON object is in the request body.
func ensureSingleJSON(dec *json.Decoder) error {
	// Check for extra JSON tokens
	if t, err := dec.Token(); err != io.EOF || t != nil {
		return fmt.Errorf("request body must only contain a single JSON object")
	}
	return nil
}
