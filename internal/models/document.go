package models

import (
	"time"
)

// Format is the source format of an uploaded document.
type Format string

const (
	FormatTXT  Format = "txt"
	FormatPDF  Format = "pdf"
	FormatEPUB Format = "epub"
	FormatDOCX Format = "docx"
)

// Status is the processing lifecycle of a document.
// A document is created in StatusProcessing and moves to StatusReady on a
// fully successful parse-and-persist run, or StatusFailed otherwise.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
)

// ConversionStatus tracks the background PDF→EPUB conversion independently
// of the document's own status. Only meaningful for PDF documents.
type ConversionStatus string

const (
	ConversionNone       ConversionStatus = "none"
	ConversionPending    ConversionStatus = "pending"
	ConversionProcessing ConversionStatus = "processing"
	ConversionReady      ConversionStatus = "ready"
	ConversionFailed     ConversionStatus = "failed"
)

// Document represents a user's uploaded readable artifact.
// TotalPages and TotalWords are authoritative only while Status is
// StatusReady; they are zero or stale during processing.
type Document struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`

	Title  string `json:"title"`
	Author string `json:"author,omitempty"`
	Format Format `json:"format"`

	StorageKey   string `json:"storageKey"`
	CoverKey     string `json:"coverKey,omitempty"`
	ConvertedKey string `json:"convertedKey,omitempty"`

	TotalPages int `json:"totalPages"`
	TotalWords int `json:"totalWords"`

	Status           Status           `json:"status"`
	ConversionStatus ConversionStatus `json:"conversionStatus,omitempty"`
	ConversionError  string           `json:"conversionError,omitempty"`

	OriginalName string    `json:"originalName"`
	FileSize     int64     `json:"fileSize"`
	UploadedAt   time.Time `json:"uploadedAt"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Page is one paginated unit of a document's extracted text content.
// Page numbers are 1-based and contiguous within a document.
type Page struct {
	DocumentID string `json:"documentId"`
	Number     int    `json:"number"`
	Content    string `json:"content"`
	WordCount  int    `json:"wordCount"`
}
