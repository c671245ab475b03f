// Package store defines the persistence ports for documents and their
// paginated content.
package store

import (
	"context"
	"errors"

	"github.com/pagewise/reader/internal/models"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ReadyUpdate carries the fields written when a document transitions to
// StatusReady after a successful parse.
type ReadyUpdate struct {
	Title      string
	Author     string
	CoverKey   string
	TotalPages int
	TotalWords int
}

// DocumentStore persists document metadata and lifecycle state.
type DocumentStore interface {
	Create(ctx context.Context, doc *models.Document) error
	Get(ctx context.Context, id string) (*models.Document, error)
	ListByUser(ctx context.Context, userID string) ([]models.Document, error)

	// SetReady moves the document to StatusReady and writes the parse
	// results in one update.
	SetReady(ctx context.Context, id string, up ReadyUpdate) error

	// SetFailed moves the document to StatusFailed.
	SetFailed(ctx context.Context, id string) error

	// SetConversion updates the conversion lifecycle fields. convertedKey
	// and errMsg are only written when non-empty for their states.
	SetConversion(ctx context.Context, id string, status models.ConversionStatus, convertedKey, errMsg string) error

	Delete(ctx context.Context, id string) error
}

// PageStore persists per-page text content.
type PageStore interface {
	// ReplacePages removes any existing pages for the document and inserts
	// the given set. Callers invoke this only after a successful parse so a
	// failed run never leaves a document without its previous pages.
	ReplacePages(ctx context.Context, documentID string, pages []models.Page) error

	GetPage(ctx context.Context, documentID string, number int) (*models.Page, error)
	GetPageRange(ctx context.Context, documentID string, from, to int) ([]models.Page, error)
	CountPages(ctx context.Context, documentID string) (int, error)
	DeletePages(ctx context.Context, documentID string) error
}
