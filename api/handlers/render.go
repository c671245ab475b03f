package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pagewise/reader/internal/models"
	"github.com/pagewise/reader/internal/render"
	"github.com/pagewise/reader/internal/store"
	"github.com/pagewise/reader/pkg/logger"
	"github.com/pagewise/reader/pkg/storage"
)

type RenderHandler struct {
	documents store.DocumentStore
	files     storage.Storage
	renderer  *render.Renderer
	logger    logger.Logger
}

func NewRenderHandler(documents store.DocumentStore, files storage.Storage, renderer *render.Renderer, log logger.Logger) *RenderHandler {
	return &RenderHandler{
		documents: documents,
		files:     files,
		renderer:  renderer,
		logger:    log.Named("api.render"),
	}
}

// renderEvent is one line of the NDJSON page stream.
type renderEvent struct {
	Event       string `json:"event"` // "page" | "ready" | "done"
	Page        int    `json:"page,omitempty"`
	Placeholder bool   `json:"placeholder,omitempty"`
	Data        string `json:"data,omitempty"` // base64 PNG
}

// StreamPages streams page images for a PDF as they render, newline-
// delimited JSON. A "ready" event fires once the initial window has
// settled; pages keep arriving afterward until "done".
func (h *RenderHandler) StreamPages(c *gin.Context) {
	id := c.Param("id")
	doc, err := h.documents.Get(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "document not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load document"})
		return
	}
	if doc.UserID != userID(c) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "document not found"})
		return
	}
	if doc.Format != models.FormatPDF {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: "only PDF documents are rendered to page images"})
		return
	}
	if doc.Status != models.StatusReady {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "document is not ready"})
		return
	}

	source, err := h.readSource(c, doc.StorageKey)
	if err != nil {
		h.logger.Error("failed to read render source", logger.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to read source file"})
		return
	}

	session, err := h.renderer.Start(c.Request.Context(), doc.ID, source, doc.TotalPages)
	if err != nil {
		h.logger.Error("failed to start render session", logger.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to start rendering"})
		return
	}
	defer session.Close()

	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)

	enc := json.NewEncoder(c.Writer)
	flush := func() {
		if f, ok := c.Writer.(http.Flusher); ok {
			f.Flush()
		}
	}

	ready := session.Ready()
	for {
		select {
		case <-c.Request.Context().Done():
			// Viewer gone: teardown releases handles, renders drain.
			return
		case <-ready:
			if err := enc.Encode(renderEvent{Event: "ready"}); err != nil {
				return
			}
			flush()
			ready = nil
		case handle, ok := <-session.Updates():
			if !ok {
				enc.Encode(renderEvent{Event: "done"}) //nolint:errcheck
				flush()
				return
			}
			page := handle.Page()
			event := renderEvent{
				Event:       "page",
				Page:        page.Number,
				Placeholder: page.Placeholder,
				Data:        base64.StdEncoding.EncodeToString(page.Data),
			}
			handle.Release()
			if err := enc.Encode(event); err != nil {
				return
			}
			flush()
		}
	}
}

func (h *RenderHandler) readSource(c *gin.Context, key string) ([]byte, error) {
	rc, err := h.files.Get(c.Request.Context(), key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
