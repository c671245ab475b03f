// Package parser turns raw uploaded bytes into paginated text content or a
// page/word estimate. Parsers never fail on malformed input; they degrade to
// placeholder pages or size-derived estimates so ingestion can always
// complete.
package parser

import (
	"fmt"
	"strings"

	"github.com/pagewise/reader/internal/models"
)

// wordsPerPage is the convention used when estimating page counts from a
// word count and vice versa.
const wordsPerPage = 250

// Page is one parsed page of text.
type Page struct {
	Number    int
	Content   string
	WordCount int
}

// Estimate is a page/word count for formats whose text is not persisted
// page-by-page (PDF is read natively, EPUB through its own reader).
type Estimate struct {
	PageCount int
	WordCount int
}

// Result is the outcome of parsing one document. Exactly one of Pages or
// Estimate carries the pagination; Title, Author and Cover are best-effort
// metadata.
type Result struct {
	Pages    []Page
	Estimate *Estimate

	Title     string
	Author    string
	Cover     []byte
	CoverName string
}

// TotalWords sums per-page word counts, or returns the estimator's count.
func (r *Result) TotalWords() int {
	if r.Estimate != nil {
		return r.Estimate.WordCount
	}
	total := 0
	for _, p := range r.Pages {
		total += p.WordCount
	}
	return total
}

// TotalPages returns the page count of the parse.
func (r *Result) TotalPages() int {
	if r.Estimate != nil {
		return r.Estimate.PageCount
	}
	return len(r.Pages)
}

// Parse dispatches to the parser matching the document's format.
func Parse(format models.Format, data []byte) (*Result, error) {
	switch format {
	case models.FormatTXT:
		return ParseText(data), nil
	case models.FormatDOCX:
		return ParseDOCX(data), nil
	case models.FormatPDF:
		return EstimatePDF(data), nil
	case models.FormatEPUB:
		return ParseEPUB(data), nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func countWords(s string) int {
	return len(strings.Fields(s))
}
