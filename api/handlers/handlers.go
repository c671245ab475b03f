package handlers

import (
	"github.com/pagewise/reader/internal/convert"
	"github.com/pagewise/reader/internal/render"
	"github.com/pagewise/reader/internal/store"
	"github.com/pagewise/reader/internal/validator"
	"github.com/pagewise/reader/pkg/logger"
	"github.com/pagewise/reader/pkg/queue"
	"github.com/pagewise/reader/pkg/storage"
)

type Handlers struct {
	Document *DocumentHandler
	Render   *RenderHandler
}

func NewHandlers(
	documents store.DocumentStore,
	pages store.PageStore,
	files storage.Storage,
	tasks queue.Queue,
	conversions *convert.Service,
	renderer *render.Renderer,
	uploadValidator *validator.UploadValidator,
	uploadLimiter *validator.UploadLimiter,
	log logger.Logger,
) *Handlers {
	return &Handlers{
		Document: NewDocumentHandler(documents, pages, files, tasks, conversions, renderer, uploadValidator, uploadLimiter, log),
		Render:   NewRenderHandler(documents, files, renderer, log),
	}
}
