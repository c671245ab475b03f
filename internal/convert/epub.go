package convert

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/google/uuid"

	"github.com/pagewise/reader/internal/models"
	"github.com/pagewise/reader/internal/parser"
)

const containerXML = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

// EPUBEngine converts a PDF into an EPUB by extracting per-page text and
// packaging one XHTML chapter per source page.
type EPUBEngine struct{}

var _ Engine = (*EPUBEngine)(nil)

// NewEPUBEngine returns the default conversion engine.
func NewEPUBEngine() *EPUBEngine {
	return &EPUBEngine{}
}

// Convert extracts the PDF's text in full-page mode and assembles the EPUB
// container. Pages without extractable text carry their placeholder text, so
// the chapter count always matches the source page count.
func (e *EPUBEngine) Convert(ctx context.Context, doc *models.Document, source []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := parser.ExtractPDF(source)
	if len(result.Pages) == 0 {
		return nil, fmt.Errorf("no pages extracted from source")
	}

	title := doc.Title
	if title == "" {
		title = result.Title
	}
	if title == "" {
		title = "Untitled"
	}
	author := doc.Author
	if author == "" {
		author = result.Author
	}

	return buildEPUB(title, author, result.Pages)
}

// buildEPUB writes a minimal EPUB 3 archive. The mimetype entry must be the
// first file and stored uncompressed for readers that sniff it at a fixed
// offset.
func buildEPUB(title, author string, pages []parser.Page) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	mimetype, err := w.CreateHeader(&zip.FileHeader{
		Name:   "mimetype",
		Method: zip.Store,
	})
	if err != nil {
		return nil, fmt.Errorf("creating mimetype entry: %w", err)
	}
	if _, err := mimetype.Write([]byte("application/epub+zip")); err != nil {
		return nil, fmt.Errorf("writing mimetype: %w", err)
	}

	if err := writeZipEntry(w, "META-INF/container.xml", containerXML); err != nil {
		return nil, err
	}

	if err := writeZipEntry(w, "OEBPS/content.opf", buildOPF(title, author, len(pages))); err != nil {
		return nil, err
	}

	for i, page := range pages {
		name := fmt.Sprintf("OEBPS/%s", chapterName(i+1))
		if err := writeZipEntry(w, name, buildChapter(page)); err != nil {
			return nil, err
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing archive: %w", err)
	}
	return buf.Bytes(), nil
}

func writeZipEntry(w *zip.Writer, name, content string) error {
	f, err := w.Create(name)
	if err != nil {
		return fmt.Errorf("creating %s: %w", name, err)
	}
	if _, err := f.Write([]byte(content)); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

func chapterName(number int) string {
	return fmt.Sprintf("chapter-%03d.xhtml", number)
}

func buildOPF(title, author string, pageCount int) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="book-id">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
`)
	fmt.Fprintf(&sb, "    <dc:identifier id=\"book-id\">urn:uuid:%s</dc:identifier>\n", uuid.New().String())
	fmt.Fprintf(&sb, "    <dc:title>%s</dc:title>\n", html.EscapeString(title))
	if author != "" {
		fmt.Fprintf(&sb, "    <dc:creator>%s</dc:creator>\n", html.EscapeString(author))
	}
	sb.WriteString("    <dc:language>en</dc:language>\n")
	sb.WriteString("  </metadata>\n  <manifest>\n")
	for i := 1; i <= pageCount; i++ {
		fmt.Fprintf(&sb, "    <item id=\"ch%d\" href=\"%s\" media-type=\"application/xhtml+xml\"/>\n", i, chapterName(i))
	}
	sb.WriteString("  </manifest>\n  <spine>\n")
	for i := 1; i <= pageCount; i++ {
		fmt.Fprintf(&sb, "    <itemref idref=\"ch%d\"/>\n", i)
	}
	sb.WriteString("  </spine>\n</package>\n")
	return sb.String()
}

func buildChapter(page parser.Page) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml">
<head><title>`)
	fmt.Fprintf(&sb, "Page %d", page.Number)
	sb.WriteString("</title></head>\n<body>\n")
	for _, para := range strings.Split(page.Content, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		fmt.Fprintf(&sb, "  <p>%s</p>\n", html.EscapeString(para))
	}
	sb.WriteString("</body>\n</html>\n")
	return sb.String()
}
