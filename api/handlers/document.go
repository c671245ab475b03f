package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pagewise/reader/internal/convert"
	"github.com/pagewise/reader/internal/models"
	"github.com/pagewise/reader/internal/render"
	"github.com/pagewise/reader/internal/store"
	"github.com/pagewise/reader/internal/validator"
	"github.com/pagewise/reader/pkg/logger"
	"github.com/pagewise/reader/pkg/queue"
	"github.com/pagewise/reader/pkg/storage"
)

// headerSniffLen is how many bytes of the upload are inspected for magic
// byte validation.
const headerSniffLen = 512

type DocumentHandler struct {
	documents   store.DocumentStore
	pages       store.PageStore
	files       storage.Storage
	tasks       queue.Queue
	conversions *convert.Service
	renderer    *render.Renderer
	validator   *validator.UploadValidator
	limiter     *validator.UploadLimiter
	logger      logger.Logger
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func NewDocumentHandler(
	documents store.DocumentStore,
	pages store.PageStore,
	files storage.Storage,
	tasks queue.Queue,
	conversions *convert.Service,
	renderer *render.Renderer,
	uploadValidator *validator.UploadValidator,
	uploadLimiter *validator.UploadLimiter,
	log logger.Logger,
) *DocumentHandler {
	return &DocumentHandler{
		documents:   documents,
		pages:       pages,
		files:       files,
		tasks:       tasks,
		conversions: conversions,
		renderer:    renderer,
		validator:   uploadValidator,
		limiter:     uploadLimiter,
		logger:      log.Named("api"),
	}
}

func userID(c *gin.Context) string {
	// Authentication is handled upstream; the gateway forwards the
	// authenticated user here.
	if id := c.GetHeader("X-User-ID"); id != "" {
		return id
	}
	return "anonymous"
}

// InitUpload validates upload metadata before the client sends any content.
// It enforces the per-user rate limit and the stricter initiation size
// ceiling, and returns the sanitized filename the client should confirm
// with.
func (h *DocumentHandler) InitUpload(c *gin.Context) {
	var req struct {
		Filename string `json:"filename" binding:"required"`
		MimeType string `json:"mimeType"`
		Size     int64  `json:"size" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleError(c, http.StatusBadRequest, "invalid request body", err)
		return
	}

	user := userID(c)
	if ok, retryAfter := h.limiter.Allow(user); !ok {
		c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
		c.JSON(http.StatusTooManyRequests, ErrorResponse{
			Error: "upload rate limit exceeded",
		})
		return
	}

	result := h.validator.CheckInit(validator.FileMeta{
		Name: req.Filename,
		MIME: req.MimeType,
		Size: req.Size,
	})
	if !result.Accepted {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: result.Reason})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"format":   result.Format,
		"filename": validator.SanitizeFilename(req.Filename),
	})
}

// Upload receives the file, validates it against its magic bytes, stores
// the original, creates the document in PROCESSING and enqueues ingestion.
// Ingestion itself is fire-and-forget; the client polls document status.
func (h *DocumentHandler) Upload(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "invalid file upload", err)
		return
	}
	defer file.Close()

	sniff := make([]byte, headerSniffLen)
	n, err := io.ReadFull(file, sniff)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		h.handleError(c, http.StatusBadRequest, "unreadable upload", err)
		return
	}
	sniff = sniff[:n]
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		h.handleError(c, http.StatusInternalServerError, "failed to rewind upload", err)
		return
	}

	meta := validator.FileMeta{
		Name: header.Filename,
		MIME: header.Header.Get("Content-Type"),
		Size: header.Size,
	}
	result := h.validator.ClassifyAndValidate(meta, sniff)
	if !result.Accepted {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: result.Reason})
		return
	}

	docID := uuid.New().String()
	safeName := validator.SanitizeFilename(header.Filename)
	storageKey := fmt.Sprintf("documents/%s/%s", docID, safeName)

	if _, err := h.files.Store(c.Request.Context(), file, storageKey, meta.MIME); err != nil {
		h.handleError(c, http.StatusInternalServerError, "failed to store upload", err)
		return
	}

	doc := &models.Document{
		ID:               docID,
		UserID:           userID(c),
		Title:            titleFromFilename(safeName),
		Format:           result.Format,
		StorageKey:       storageKey,
		Status:           models.StatusProcessing,
		ConversionStatus: models.ConversionNone,
		OriginalName:     header.Filename,
		FileSize:         header.Size,
		UploadedAt:       time.Now().UTC(),
	}
	if err := h.documents.Create(c.Request.Context(), doc); err != nil {
		h.handleError(c, http.StatusInternalServerError, "failed to create document", err)
		return
	}

	h.enqueueIngest(c, doc.ID)

	c.JSON(http.StatusAccepted, doc)
}

// Reprocess re-runs ingestion for an existing document, e.g. after a FAILED
// run. The current pages stay readable until the new parse succeeds.
func (h *DocumentHandler) Reprocess(c *gin.Context) {
	doc, ok := h.loadOwned(c)
	if !ok {
		return
	}

	h.enqueueIngest(c, doc.ID)
	c.JSON(http.StatusAccepted, gin.H{"documentId": doc.ID, "status": models.StatusProcessing})
}

func (h *DocumentHandler) enqueueIngest(c *gin.Context, documentID string) {
	task := &queue.Task{
		ID:         uuid.New().String(),
		Type:       queue.TaskTypeIngest,
		DocumentID: documentID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.tasks.Enqueue(c.Request.Context(), task); err != nil {
		// The document stays in PROCESSING; a reprocess call can requeue.
		h.logger.Error("failed to enqueue ingestion",
			logger.String("documentId", documentID), logger.Error(err))
	}
}

// List returns the caller's documents.
func (h *DocumentHandler) List(c *gin.Context) {
	docs, err := h.documents.ListByUser(c.Request.Context(), userID(c))
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "failed to list documents", err)
		return
	}
	if docs == nil {
		docs = []models.Document{}
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

// Delete removes a document, its pages, its stored objects and any cached
// render images. Storage and cache failures are logged but do not block the
// metadata delete; the document row is authoritative.
func (h *DocumentHandler) Delete(c *gin.Context) {
	doc, ok := h.loadOwned(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if err := h.files.DeletePrefix(ctx, fmt.Sprintf("documents/%s/", doc.ID)); err != nil {
		h.logger.Warn("failed to delete stored objects",
			logger.String("documentId", doc.ID), logger.Error(err))
	}
	if doc.CoverKey != "" {
		if err := h.files.DeletePrefix(ctx, fmt.Sprintf("covers/%s/", doc.ID)); err != nil {
			h.logger.Warn("failed to delete cover",
				logger.String("documentId", doc.ID), logger.Error(err))
		}
	}
	if doc.ConvertedKey != "" {
		if err := h.files.Delete(ctx, doc.ConvertedKey); err != nil {
			h.logger.Warn("failed to delete converted artifact",
				logger.String("documentId", doc.ID), logger.Error(err))
		}
	}
	if h.renderer != nil {
		if err := h.renderer.InvalidateCache(ctx, doc.ID); err != nil {
			h.logger.Warn("failed to invalidate render cache",
				logger.String("documentId", doc.ID), logger.Error(err))
		}
	}

	if err := h.documents.Delete(ctx, doc.ID); err != nil {
		h.handleError(c, http.StatusInternalServerError, "failed to delete document", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// TaskStatus reports the queue-level state of a background task. Document
// outcomes are read from the document itself; this exists for debugging
// stuck tasks.
func (h *DocumentHandler) TaskStatus(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		h.handleError(c, http.StatusBadRequest, "task id is required", nil)
		return
	}
	status, err := h.tasks.GetTaskStatus(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "task not found"})
		return
	}
	c.JSON(http.StatusOK, status)
}

// Get returns one document with its processing and conversion status.
func (h *DocumentHandler) Get(c *gin.Context) {
	doc, ok := h.loadOwned(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, doc)
}

// Pages returns a contiguous range of a document's extracted text pages.
func (h *DocumentHandler) Pages(c *gin.Context) {
	doc, ok := h.loadOwned(c)
	if !ok {
		return
	}
	if doc.Status != models.StatusReady {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: fmt.Sprintf("document is %s", doc.Status),
		})
		return
	}

	from := intQuery(c, "from", 1)
	to := intQuery(c, "to", from+19)
	if from < 1 || to < from {
		h.handleError(c, http.StatusBadRequest, "invalid page range", nil)
		return
	}

	pages, err := h.pages.GetPageRange(c.Request.Context(), doc.ID, from, to)
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "failed to load pages", err)
		return
	}
	if pages == nil {
		pages = []models.Page{}
	}
	c.JSON(http.StatusOK, gin.H{
		"documentId": doc.ID,
		"totalPages": doc.TotalPages,
		"pages":      pages,
	})
}

// RequestConversion queues the PDF to EPUB conversion.
func (h *DocumentHandler) RequestConversion(c *gin.Context) {
	doc, ok := h.loadOwned(c)
	if !ok {
		return
	}
	h.conversionCall(c, h.conversions.Request, doc.ID)
}

// ConversionStatus reports the conversion state and last error.
func (h *DocumentHandler) ConversionStatus(c *gin.Context) {
	doc, ok := h.loadOwned(c)
	if !ok {
		return
	}
	status, err := h.conversions.GetStatus(c.Request.Context(), doc.ID)
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "failed to get conversion status", err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// RetryConversion re-queues a failed conversion.
func (h *DocumentHandler) RetryConversion(c *gin.Context) {
	doc, ok := h.loadOwned(c)
	if !ok {
		return
	}
	h.conversionCall(c, h.conversions.Retry, doc.ID)
}

func (h *DocumentHandler) conversionCall(c *gin.Context, call func(ctx context.Context, id string) error, documentID string) {
	err := call(c.Request.Context(), documentID)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"documentId": documentID, "status": models.ConversionPending})
	case errors.Is(err, convert.ErrNotEligible):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error()})
	case errors.Is(err, convert.ErrInProgress):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
	case errors.Is(err, convert.ErrNotRetryable):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
	default:
		h.handleError(c, http.StatusInternalServerError, "conversion request failed", err)
	}
}

// loadOwned fetches the document in the path and checks ownership.
func (h *DocumentHandler) loadOwned(c *gin.Context) (*models.Document, bool) {
	id := c.Param("id")
	if id == "" {
		h.handleError(c, http.StatusBadRequest, "document id is required", nil)
		return nil, false
	}

	doc, err := h.documents.Get(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "document not found"})
		return nil, false
	}
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "failed to load document", err)
		return nil, false
	}
	if doc.UserID != userID(c) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "document not found"})
		return nil, false
	}
	return doc, true
}

func (h *DocumentHandler) handleError(c *gin.Context, code int, msg string, err error) {
	if err != nil {
		h.logger.Error(msg, logger.Error(err))
		c.JSON(code, ErrorResponse{Error: msg, Message: err.Error()})
		return
	}
	c.JSON(code, ErrorResponse{Error: msg})
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func titleFromFilename(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[:i]
		}
	}
	return name
}
