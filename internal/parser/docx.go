package parser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"strings"
)

const corruptDocxPlaceholder = "[This document could not be read]"

// ParseDOCX extracts paragraph text from word/document.xml and paginates it
// with the same paragraph-atomic budget as plain text. A corrupt archive or
// missing document part yields a single placeholder page rather than an
// error.
func ParseDOCX(data []byte) *Result {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return docxCorruptResult()
	}

	docXML, err := readZipFile(zr, "word/document.xml")
	if err != nil {
		return docxCorruptResult()
	}

	paragraphs := extractDocxParagraphs(docXML)
	result := &Result{Pages: paginate(paragraphs)}

	if props, err := readZipFile(zr, "docProps/core.xml"); err == nil {
		fillDocxMetadata(props, result)
	}
	return result
}

func docxCorruptResult() *Result {
	return &Result{Pages: []Page{{
		Number:    1,
		Content:   corruptDocxPlaceholder,
		WordCount: 0,
	}}}
}

// extractDocxParagraphs walks the WordprocessingML token stream. Text lives
// in w:t runs inside w:p paragraphs; w:br and w:tab become whitespace.
func extractDocxParagraphs(docXML []byte) []string {
	var paragraphs []string
	var current strings.Builder
	inParagraph := false

	dec := xml.NewDecoder(bytes.NewReader(docXML))
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				inParagraph = true
				current.Reset()
			case "t":
				if inParagraph {
					var text string
					if err := dec.DecodeElement(&text, &t); err == nil {
						current.WriteString(text)
					}
				}
			case "br":
				if inParagraph {
					current.WriteString("\n")
				}
			case "tab":
				if inParagraph {
					current.WriteString("\t")
				}
			}
		case xml.EndElement:
			if t.Name.Local == "p" && inParagraph {
				inParagraph = false
				para := strings.TrimSpace(current.String())
				para = strings.Join(strings.Fields(para), " ")
				if para != "" {
					paragraphs = append(paragraphs, para)
				}
			}
		}
	}
	return paragraphs
}

// fillDocxMetadata reads title and creator from docProps/core.xml.
func fillDocxMetadata(props []byte, result *Result) {
	var core struct {
		Title   string `xml:"title"`
		Creator string `xml:"creator"`
	}
	if err := xml.Unmarshal(props, &core); err != nil {
		return
	}
	result.Title = strings.TrimSpace(core.Title)
	result.Author = strings.TrimSpace(core.Creator)
}
