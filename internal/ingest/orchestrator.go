// Package ingest drives a document through parse, persist and status
// transition. Ingestion is fire-and-forget: apart from a missing document,
// every failure lands in the document's status, never in a returned error.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pagewise/reader/internal/models"
	"github.com/pagewise/reader/internal/parser"
	"github.com/pagewise/reader/internal/store"
	"github.com/pagewise/reader/pkg/logger"
	"github.com/pagewise/reader/pkg/queue"
	"github.com/pagewise/reader/pkg/storage"
)

// Orchestrator runs the ingestion pipeline for one document at a time per
// document id. Separate documents may be processed concurrently.
type Orchestrator struct {
	documents store.DocumentStore
	pages     store.PageStore
	files     storage.Storage
	tasks     queue.Queue
	log       logger.Logger

	mu       sync.Mutex
	inflight map[string]*sync.Mutex
}

// NewOrchestrator wires the pipeline's collaborators.
func NewOrchestrator(documents store.DocumentStore, pages store.PageStore, files storage.Storage, tasks queue.Queue, log logger.Logger) *Orchestrator {
	return &Orchestrator{
		documents: documents,
		pages:     pages,
		files:     files,
		tasks:     tasks,
		log:       log.Named("ingest"),
		inflight:  make(map[string]*sync.Mutex),
	}
}

// lockDocument serializes re-processing per document id. Two overlapping
// ingest calls for the same document would otherwise race on the page
// delete-and-rewrite.
func (o *Orchestrator) lockDocument(id string) func() {
	o.mu.Lock()
	m, ok := o.inflight[id]
	if !ok {
		m = &sync.Mutex{}
		o.inflight[id] = m
	}
	o.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Process runs one ingestion pass for the document. It returns an error only
// when the document does not exist; every other failure is recorded as
// StatusFailed and Process returns nil so queue workers do not retry what
// the status field already reports.
func (o *Orchestrator) Process(ctx context.Context, documentID string) error {
	unlock := o.lockDocument(documentID)
	defer unlock()

	doc, err := o.documents.Get(ctx, documentID)
	if err != nil {
		return fmt.Errorf("loading document %s: %w", documentID, err)
	}

	log := o.log.With(
		logger.String("documentId", documentID),
		logger.String("format", string(doc.Format)),
	)
	start := time.Now()

	if err := o.run(ctx, doc, log); err != nil {
		log.Error("ingestion failed", logger.Error(err))
		if ferr := o.documents.SetFailed(ctx, documentID); ferr != nil {
			log.Error("failed to record failure status", logger.Error(ferr))
		}
		return nil
	}

	log.Info("ingestion complete", logger.Duration("elapsed", time.Since(start)))
	return nil
}

func (o *Orchestrator) run(ctx context.Context, doc *models.Document, log logger.Logger) error {
	data, err := o.readSource(ctx, doc.StorageKey)
	if err != nil {
		return fmt.Errorf("reading source file: %w", err)
	}

	result, err := parser.Parse(doc.Format, data)
	if err != nil {
		return fmt.Errorf("parsing document: %w", err)
	}

	// Prior pages are only wiped once a new parse exists to replace them.
	pages := make([]models.Page, len(result.Pages))
	for i, p := range result.Pages {
		pages[i] = models.Page{
			DocumentID: doc.ID,
			Number:     p.Number,
			Content:    p.Content,
			WordCount:  p.WordCount,
		}
	}
	if err := o.pages.ReplacePages(ctx, doc.ID, pages); err != nil {
		return fmt.Errorf("persisting pages: %w", err)
	}

	coverKey := o.uploadCover(ctx, doc.ID, result, log)

	up := store.ReadyUpdate{
		Title:      result.Title,
		Author:     result.Author,
		CoverKey:   coverKey,
		TotalPages: result.TotalPages(),
		TotalWords: result.TotalWords(),
	}
	if err := o.documents.SetReady(ctx, doc.ID, up); err != nil {
		return fmt.Errorf("marking document ready: %w", err)
	}

	switch doc.Format {
	case models.FormatPDF:
		o.queueConversion(ctx, doc.ID, log)
	case models.FormatEPUB:
		if err := o.documents.SetConversion(ctx, doc.ID, models.ConversionNone, "", ""); err != nil {
			log.Warn("failed to reset conversion status", logger.Error(err))
		}
	}

	return nil
}

func (o *Orchestrator) readSource(ctx context.Context, key string) ([]byte, error) {
	rc, err := o.files.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// uploadCover stores an extracted cover image. A cover is nice-to-have, so
// upload failure is logged and ingestion continues without one.
func (o *Orchestrator) uploadCover(ctx context.Context, documentID string, result *parser.Result, log logger.Logger) string {
	if len(result.Cover) == 0 {
		return ""
	}

	name := result.CoverName
	if name == "" {
		name = "cover.jpg"
	}
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "image/jpeg"
	}

	key := fmt.Sprintf("covers/%s/%s", documentID, name)
	if _, err := o.files.Store(ctx, bytes.NewReader(result.Cover), key, contentType); err != nil {
		log.Warn("cover upload failed", logger.Error(err))
		return ""
	}
	return key
}

// queueConversion marks the PDF for background EPUB conversion. An enqueue
// failure must not fail an otherwise successful ingestion; the document
// stays readable and conversion can be requested again later.
func (o *Orchestrator) queueConversion(ctx context.Context, documentID string, log logger.Logger) {
	if err := o.documents.SetConversion(ctx, documentID, models.ConversionPending, "", ""); err != nil {
		log.Warn("failed to mark conversion pending", logger.Error(err))
		return
	}

	task := &queue.Task{
		ID:         uuid.New().String(),
		Type:       queue.TaskTypeConvert,
		DocumentID: documentID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := o.tasks.Enqueue(ctx, task); err != nil {
		log.Warn("failed to enqueue conversion", logger.Error(err))
		// Back out of PENDING; nothing will consume it, and a stranded
		// PENDING rejects later conversion requests as in-progress.
		if serr := o.documents.SetConversion(ctx, documentID, models.ConversionNone, "", ""); serr != nil {
			log.Warn("failed to reset conversion status", logger.Error(serr))
		}
	}
}
