package parser

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"
)

// pdfExtractWorkers bounds concurrent page extraction.
const pdfExtractWorkers = 4

// nonTextPagePlaceholder stands in for pages without extractable text, such
// as scanned images. The page is kept so the page count always matches the
// source document's physical page count.
func nonTextPagePlaceholder(pageNum int) string {
	return fmt.Sprintf("[Page %d contains non-text content]", pageNum)
}

// ExtractPDF extracts per-page text from a PDF. Pages that yield no text
// become placeholder pages; the returned page count always equals the
// source's physical page count. An unreadable file degrades to a single
// placeholder page.
func ExtractPDF(data []byte) *Result {
	reader := bytes.NewReader(data)
	pdfReader, err := pdf.NewReader(reader, reader.Size())
	if err != nil {
		return &Result{Pages: []Page{{
			Number:    1,
			Content:   nonTextPagePlaceholder(1),
			WordCount: 0,
		}}}
	}

	numPages := pdfReader.NumPage()
	if numPages < 1 {
		numPages = 1
	}

	pages := make([]Page, numPages)

	g, ctx := errgroup.WithContext(context.Background())
	sem := make(chan struct{}, pdfExtractWorkers)

	for i := 1; i <= numPages; i++ {
		pageNum := i
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return ctx.Err()
			}

			text := extractPageText(pdfReader, pageNum)
			if text == "" {
				pages[pageNum-1] = Page{
					Number:    pageNum,
					Content:   nonTextPagePlaceholder(pageNum),
					WordCount: 0,
				}
				return nil
			}

			pages[pageNum-1] = Page{
				Number:    pageNum,
				Content:   text,
				WordCount: countWords(text),
			}
			return nil
		})
	}

	// Extraction errors degrade per page; the group never returns one.
	_ = g.Wait()

	result := &Result{Pages: pages}
	fillPDFMetadata(pdfReader, result)
	return result
}

// EstimatePDF returns a page-count and word-count estimate without
// persisting per-page text. The word count comes from full text extraction,
// falling back to pageCount*250 when extraction fails entirely, and to a
// size-derived guess when the file cannot be opened at all.
func EstimatePDF(data []byte) *Result {
	reader := bytes.NewReader(data)
	pdfReader, err := pdf.NewReader(reader, reader.Size())
	if err != nil {
		sizeKB := len(data) / 1024
		pageCount := sizeKB / 100
		if pageCount < 1 {
			pageCount = 1
		}
		return &Result{Estimate: &Estimate{
			PageCount: pageCount,
			WordCount: pageCount * wordsPerPage,
		}}
	}

	numPages := pdfReader.NumPage()
	if numPages < 1 {
		numPages = 1
	}

	words := 0
	for i := 1; i <= numPages; i++ {
		words += countWords(extractPageText(pdfReader, i))
	}
	if words == 0 {
		words = numPages * wordsPerPage
	}

	result := &Result{Estimate: &Estimate{
		PageCount: numPages,
		WordCount: words,
	}}
	fillPDFMetadata(pdfReader, result)
	return result
}

// extractPageText reads one page's plain text, returning "" on any failure.
func extractPageText(r *pdf.Reader, pageNum int) (text string) {
	// The pdf library panics on some malformed content streams.
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()

	page := r.Page(pageNum)
	if page.V.IsNull() {
		return ""
	}
	t, err := page.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(t)
}

func fillPDFMetadata(r *pdf.Reader, result *Result) {
	defer func() {
		_ = recover()
	}()

	trailer := r.Trailer()
	if trailer.IsNull() {
		return
	}
	info := trailer.Key("Info")
	if info.IsNull() {
		return
	}
	if title := info.Key("Title"); !title.IsNull() {
		result.Title = strings.TrimSpace(title.RawString())
	}
	if author := info.Key("Author"); !author.IsNull() {
		result.Author = strings.TrimSpace(author.RawString())
	}
}
