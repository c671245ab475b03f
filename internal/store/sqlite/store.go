// Package sqlite implements the store ports on a single SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/pagewise/reader/internal/models"
	"github.com/pagewise/reader/internal/store"
	"github.com/pagewise/reader/internal/store/sqlite/migrations"
)

// pageInsertBatch bounds the number of page rows written per transaction so
// a large document does not hold one long write transaction.
const pageInsertBatch = 50

// Store is the SQLite-backed metadata store. It exposes the document and
// page ports through wrapper types sharing one connection pool.
type Store struct {
	db        *sql.DB
	path      string
	pageBatch int
}

// Option tunes a Store.
type Option func(*Store)

// WithPageBatchSize overrides the number of page rows written per insert
// transaction. Non-positive values keep the default.
func WithPageBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageBatch = n
		}
	}
}

// NewStore opens (or creates) the database under dataDir and applies any
// pending migrations. If dataDir is empty it defaults to ~/.pagewise/data.
func NewStore(dataDir string, opts ...Option) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".pagewise", "data")
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "reader.db")

	// WAL keeps page writes from blocking readers mid-ingest.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, path: dbPath, pageBatch: pageInsertBatch}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Documents returns a DocumentStore backed by this store.
func (s *Store) Documents() store.DocumentStore {
	return &documentStore{store: s}
}

// Pages returns a PageStore backed by this store.
func (s *Store) Pages() store.PageStore {
	return &pageStore{store: s}
}

// migrate runs all pending *.up.sql migrations in version order.
func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}

	return nil
}

// ==================== Document Store ====================

type documentStore struct {
	store *Store
}

var _ store.DocumentStore = (*documentStore)(nil)

const documentColumns = `id, user_id, title, author, format, storage_key, cover_key,
	converted_key, total_pages, total_words, status, conversion_status,
	conversion_error, original_name, file_size, uploaded_at, created_at, updated_at`

// Create inserts a document, or updates it when the id already exists.
func (s *documentStore) Create(ctx context.Context, doc *models.Document) error {
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = now
	}

	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			author = excluded.author,
			storage_key = excluded.storage_key,
			status = excluded.status,
			updated_at = excluded.updated_at
	`, doc.ID, doc.UserID, doc.Title, doc.Author, string(doc.Format),
		doc.StorageKey, doc.CoverKey, doc.ConvertedKey,
		doc.TotalPages, doc.TotalWords,
		string(doc.Status), string(doc.ConversionStatus), doc.ConversionError,
		doc.OriginalName, doc.FileSize, doc.UploadedAt, doc.CreatedAt, doc.UpdatedAt)

	if err != nil {
		return fmt.Errorf("saving document: %w", err)
	}
	return nil
}

// Get retrieves a document by ID.
func (s *documentStore) Get(ctx context.Context, id string) (*models.Document, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+` FROM documents WHERE id = ?
	`, id)

	return scanDocument(row)
}

// ListByUser returns all documents belonging to a user, newest first.
func (s *documentStore) ListByUser(ctx context.Context, userID string) ([]models.Document, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE user_id = ?
		ORDER BY uploaded_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		doc, err := scanDocumentRows(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}

	return docs, nil
}

// SetReady writes the parse results and flips the document to StatusReady.
// Databases created before the metadata columns existed reject the enriched
// update with "no such column"; those fall back to the core counters so the
// status transition still lands.
func (s *documentStore) SetReady(ctx context.Context, id string, up store.ReadyUpdate) error {
	now := time.Now().UTC()

	res, err := s.store.db.ExecContext(ctx, `
		UPDATE documents SET
			title = CASE WHEN ? != '' THEN ? ELSE title END,
			author = CASE WHEN ? != '' THEN ? ELSE author END,
			cover_key = CASE WHEN ? != '' THEN ? ELSE cover_key END,
			total_pages = ?,
			total_words = ?,
			status = ?,
			updated_at = ?
		WHERE id = ?
	`, up.Title, up.Title, up.Author, up.Author, up.CoverKey, up.CoverKey,
		up.TotalPages, up.TotalWords, string(models.StatusReady), now, id)

	if err != nil && strings.Contains(err.Error(), "no such column") {
		res, err = s.store.db.ExecContext(ctx, `
			UPDATE documents SET
				total_pages = ?,
				total_words = ?,
				status = ?,
				updated_at = ?
			WHERE id = ?
		`, up.TotalPages, up.TotalWords, string(models.StatusReady), now, id)
	}
	if err != nil {
		return fmt.Errorf("marking document ready: %w", err)
	}
	return requireRow(res)
}

// SetFailed flips the document to StatusFailed.
func (s *documentStore) SetFailed(ctx context.Context, id string) error {
	res, err := s.store.db.ExecContext(ctx, `
		UPDATE documents SET status = ?, updated_at = ? WHERE id = ?
	`, string(models.StatusFailed), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("marking document failed: %w", err)
	}
	return requireRow(res)
}

// SetConversion updates the conversion lifecycle fields.
func (s *documentStore) SetConversion(ctx context.Context, id string, status models.ConversionStatus, convertedKey, errMsg string) error {
	res, err := s.store.db.ExecContext(ctx, `
		UPDATE documents SET
			conversion_status = ?,
			converted_key = CASE WHEN ? != '' THEN ? ELSE converted_key END,
			conversion_error = ?,
			updated_at = ?
		WHERE id = ?
	`, string(status), convertedKey, convertedKey, errMsg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating conversion state: %w", err)
	}
	return requireRow(res)
}

// Delete removes a document; its pages cascade.
func (s *documentStore) Delete(ctx context.Context, id string) error {
	_, err := s.store.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	return nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanDocument(row *sql.Row) (*models.Document, error) {
	var doc models.Document
	var format, status, convStatus string

	if err := row.Scan(&doc.ID, &doc.UserID, &doc.Title, &doc.Author, &format,
		&doc.StorageKey, &doc.CoverKey, &doc.ConvertedKey,
		&doc.TotalPages, &doc.TotalWords, &status, &convStatus,
		&doc.ConversionError, &doc.OriginalName, &doc.FileSize,
		&doc.UploadedAt, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scanning document: %w", err)
	}

	doc.Format = models.Format(format)
	doc.Status = models.Status(status)
	doc.ConversionStatus = models.ConversionStatus(convStatus)
	return &doc, nil
}

func scanDocumentRows(rows *sql.Rows) (*models.Document, error) {
	var doc models.Document
	var format, status, convStatus string

	if err := rows.Scan(&doc.ID, &doc.UserID, &doc.Title, &doc.Author, &format,
		&doc.StorageKey, &doc.CoverKey, &doc.ConvertedKey,
		&doc.TotalPages, &doc.TotalWords, &status, &convStatus,
		&doc.ConversionError, &doc.OriginalName, &doc.FileSize,
		&doc.UploadedAt, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scanning document: %w", err)
	}

	doc.Format = models.Format(format)
	doc.Status = models.Status(status)
	doc.ConversionStatus = models.ConversionStatus(convStatus)
	return &doc, nil
}

// ==================== Page Store ====================

type pageStore struct {
	store *Store
}

var _ store.PageStore = (*pageStore)(nil)

// ReplacePages deletes existing pages and inserts the new set in batches.
func (s *pageStore) ReplacePages(ctx context.Context, documentID string, pages []models.Page) error {
	if err := s.DeletePages(ctx, documentID); err != nil {
		return err
	}

	batch := s.store.pageBatch
	for start := 0; start < len(pages); start += batch {
		end := start + batch
		if end > len(pages) {
			end = len(pages)
		}
		if err := s.insertBatch(ctx, documentID, pages[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *pageStore) insertBatch(ctx context.Context, documentID string, pages []models.Page) error {
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pages (document_id, number, content, word_count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(document_id, number) DO UPDATE SET
			content = excluded.content,
			word_count = excluded.word_count
	`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, page := range pages {
		if _, err := stmt.ExecContext(ctx, documentID, page.Number, page.Content, page.WordCount); err != nil {
			return fmt.Errorf("saving page %d: %w", page.Number, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// GetPage retrieves one page by document and 1-based number.
func (s *pageStore) GetPage(ctx context.Context, documentID string, number int) (*models.Page, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT document_id, number, content, word_count
		FROM pages WHERE document_id = ? AND number = ?
	`, documentID, number)

	var page models.Page
	if err := row.Scan(&page.DocumentID, &page.Number, &page.Content, &page.WordCount); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scanning page: %w", err)
	}
	return &page, nil
}

// GetPageRange returns pages with number in [from, to], ordered.
func (s *pageStore) GetPageRange(ctx context.Context, documentID string, from, to int) ([]models.Page, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT document_id, number, content, word_count
		FROM pages WHERE document_id = ? AND number BETWEEN ? AND ?
		ORDER BY number
	`, documentID, from, to)
	if err != nil {
		return nil, fmt.Errorf("querying pages: %w", err)
	}
	defer rows.Close()

	var pages []models.Page
	for rows.Next() {
		var page models.Page
		if err := rows.Scan(&page.DocumentID, &page.Number, &page.Content, &page.WordCount); err != nil {
			return nil, fmt.Errorf("scanning page: %w", err)
		}
		pages = append(pages, page)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pages: %w", err)
	}

	return pages, nil
}

// CountPages returns the number of stored pages for a document.
func (s *pageStore) CountPages(ctx context.Context, documentID string) (int, error) {
	var count int
	err := s.store.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pages WHERE document_id = ?", documentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting pages: %w", err)
	}
	return count, nil
}

// DeletePages removes all pages for a document.
func (s *pageStore) DeletePages(ctx context.Context, documentID string) error {
	_, err := s.store.db.ExecContext(ctx, "DELETE FROM pages WHERE document_id = ?", documentID)
	if err != nil {
		return fmt.Errorf("deleting pages: %w", err)
	}
	return nil
}
