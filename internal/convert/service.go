// Package convert runs the background PDF to EPUB conversion, tracked on the
// document's conversion fields independently of its primary status.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/pagewise/reader/internal/models"
	"github.com/pagewise/reader/internal/store"
	"github.com/pagewise/reader/pkg/logger"
	"github.com/pagewise/reader/pkg/queue"
	"github.com/pagewise/reader/pkg/storage"
)

var (
	// ErrNotEligible is returned when the document's format has no
	// secondary representation.
	ErrNotEligible = errors.New("document format is not eligible for conversion")

	// ErrInProgress is returned when a conversion is already pending or
	// running for the document.
	ErrInProgress = errors.New("conversion already in progress")

	// ErrNotRetryable is returned by Retry when the conversion is not in a
	// retryable state.
	ErrNotRetryable = errors.New("conversion is not in a retryable state")
)

// Engine produces the converted artifact from the source bytes.
type Engine interface {
	Convert(ctx context.Context, doc *models.Document, source []byte) ([]byte, error)
}

// Status is the poll result for a document's conversion.
type Status struct {
	Status models.ConversionStatus `json:"status"`
	Error  string                  `json:"error,omitempty"`
}

// Service coordinates conversion requests, retries and worker-side runs.
type Service struct {
	documents store.DocumentStore
	files     storage.Storage
	tasks     queue.Queue
	engine    Engine
	log       logger.Logger
}

// NewService wires the conversion service.
func NewService(documents store.DocumentStore, files storage.Storage, tasks queue.Queue, engine Engine, log logger.Logger) *Service {
	return &Service{
		documents: documents,
		files:     files,
		tasks:     tasks,
		engine:    engine,
		log:       log.Named("convert"),
	}
}

// Request enqueues a conversion for an eligible document. A conversion that
// is already pending or running is a conflict, not a duplicate enqueue.
func (s *Service) Request(ctx context.Context, documentID string) error {
	doc, err := s.documents.Get(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.Format != models.FormatPDF {
		return ErrNotEligible
	}
	switch doc.ConversionStatus {
	case models.ConversionPending, models.ConversionProcessing:
		return ErrInProgress
	}

	return s.enqueue(ctx, documentID)
}

// GetStatus reports the document's conversion state and last error.
func (s *Service) GetStatus(ctx context.Context, documentID string) (*Status, error) {
	doc, err := s.documents.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	status := doc.ConversionStatus
	if status == "" {
		status = models.ConversionNone
	}
	return &Status{Status: status, Error: doc.ConversionError}, nil
}

// Retry re-enqueues a conversion. Only FAILED and NONE are retryable;
// retrying a running conversion is rejected so the same document is never
// converted twice concurrently.
func (s *Service) Retry(ctx context.Context, documentID string) error {
	doc, err := s.documents.Get(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.Format != models.FormatPDF {
		return ErrNotEligible
	}
	switch doc.ConversionStatus {
	case models.ConversionPending, models.ConversionProcessing:
		return ErrInProgress
	case models.ConversionReady:
		return ErrNotRetryable
	}

	return s.enqueue(ctx, documentID)
}

func (s *Service) enqueue(ctx context.Context, documentID string) error {
	if err := s.documents.SetConversion(ctx, documentID, models.ConversionPending, "", ""); err != nil {
		return fmt.Errorf("marking conversion pending: %w", err)
	}

	task := &queue.Task{
		ID:         uuid.New().String(),
		Type:       queue.TaskTypeConvert,
		DocumentID: documentID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.tasks.Enqueue(ctx, task); err != nil {
		// A PENDING with no queued task would block Request and Retry
		// forever, so the failure is recorded as FAILED and stays
		// retryable.
		if serr := s.documents.SetConversion(ctx, documentID, models.ConversionFailed, "", err.Error()); serr != nil {
			s.log.Error("failed to record enqueue failure",
				logger.String("documentId", documentID), logger.Error(serr))
		}
		return fmt.Errorf("enqueueing conversion: %w", err)
	}
	return nil
}

// Process is the worker entry point. Failures are written to the conversion
// status and error fields; Process itself returns nil for them so the queue
// does not re-run what the document already reports as failed.
func (s *Service) Process(ctx context.Context, documentID string) error {
	doc, err := s.documents.Get(ctx, documentID)
	if err != nil {
		return fmt.Errorf("loading document %s: %w", documentID, err)
	}

	log := s.log.With(logger.String("documentId", documentID))

	if doc.Format != models.FormatPDF {
		log.Warn("skipping conversion for non-PDF document")
		return nil
	}

	if err := s.documents.SetConversion(ctx, documentID, models.ConversionProcessing, "", ""); err != nil {
		return fmt.Errorf("marking conversion processing: %w", err)
	}

	start := time.Now()
	key, err := s.run(ctx, doc)
	if err != nil {
		log.Error("conversion failed", logger.Error(err))
		if serr := s.documents.SetConversion(ctx, documentID, models.ConversionFailed, "", err.Error()); serr != nil {
			log.Error("failed to record conversion failure", logger.Error(serr))
		}
		return nil
	}

	if err := s.documents.SetConversion(ctx, documentID, models.ConversionReady, key, ""); err != nil {
		return fmt.Errorf("marking conversion ready: %w", err)
	}

	log.Info("conversion complete",
		logger.String("convertedKey", key),
		logger.Duration("elapsed", time.Since(start)))
	return nil
}

func (s *Service) run(ctx context.Context, doc *models.Document) (string, error) {
	rc, err := s.files.Get(ctx, doc.StorageKey)
	if err != nil {
		return "", fmt.Errorf("reading source file: %w", err)
	}
	source, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return "", fmt.Errorf("reading source file: %w", err)
	}

	converted, err := s.engine.Convert(ctx, doc, source)
	if err != nil {
		return "", fmt.Errorf("converting document: %w", err)
	}

	key := fmt.Sprintf("converted/%s.epub", doc.ID)
	if _, err := s.files.Store(ctx, bytes.NewReader(converted), key, "application/epub+zip"); err != nil {
		return "", fmt.Errorf("uploading converted file: %w", err)
	}
	return key, nil
}
