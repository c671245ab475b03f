package parser

import (
	"bytes"
	"strings"
)

// pageCharBudget is the character budget per page for paginated text
// formats. A page is closed once adding the next paragraph would exceed it.
const pageCharBudget = 2000

// emptyPagePlaceholder fills the single page produced for empty input.
const emptyPagePlaceholder = "This document has no text content."

// ParseText paginates plain text on blank-line paragraph boundaries. A
// paragraph is never split across pages; a paragraph longer than the budget
// gets a page of its own. Empty input still yields one placeholder page.
func ParseText(data []byte) *Result {
	text := strings.TrimSpace(string(bytes.ToValidUTF8(data, nil)))
	paragraphs := splitParagraphs(text)
	return &Result{Pages: paginate(paragraphs)}
}

// splitParagraphs breaks text into paragraphs on blank lines. Single
// newlines inside a paragraph are collapsed to spaces.
func splitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var paragraphs []string
	for _, chunk := range strings.Split(text, "\n\n") {
		chunk = strings.TrimSpace(strings.ReplaceAll(chunk, "\n", " "))
		if chunk != "" {
			paragraphs = append(paragraphs, chunk)
		}
	}
	return paragraphs
}

// paginate accumulates paragraphs into pages under the character budget.
func paginate(paragraphs []string) []Page {
	var contents []string
	var sb strings.Builder

	flush := func() {
		if sb.Len() > 0 {
			contents = append(contents, sb.String())
			sb.Reset()
		}
	}

	for _, para := range paragraphs {
		// An oversized paragraph still lands whole on its own page.
		if sb.Len() == 0 && len(para) > pageCharBudget {
			contents = append(contents, para)
			continue
		}
		if sb.Len() > 0 && sb.Len()+2+len(para) > pageCharBudget {
			flush()
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(para)
	}
	flush()

	if len(contents) == 0 {
		contents = []string{emptyPagePlaceholder}
	}

	pages := make([]Page, len(contents))
	for i, content := range contents {
		wc := countWords(content)
		if content == emptyPagePlaceholder {
			wc = 0
		}
		pages[i] = Page{
			Number:    i + 1,
			Content:   content,
			WordCount: wc,
		}
	}
	return pages
}
