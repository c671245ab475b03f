package parser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"
)

// ParseEPUB reads the EPUB container and returns a word/page estimate plus
// best-effort title, author and cover image. Structural parse failures never
// fail the parse: a corrupt archive degrades to a size-derived estimate
// (sizeKB/2 pages, 250 words per page).
func ParseEPUB(data []byte) *Result {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return epubSizeEstimate(len(data))
	}

	containerXML, err := readZipFile(zr, "META-INF/container.xml")
	if err != nil {
		return epubSizeEstimate(len(data))
	}

	opfPath := findOPFPath(containerXML)
	if opfPath == "" {
		return epubSizeEstimate(len(data))
	}

	opfBytes, err := readZipFile(zr, opfPath)
	if err != nil {
		return epubSizeEstimate(len(data))
	}

	pkg := parseOPF(opfBytes)

	opfDir := path.Dir(opfPath)
	if opfDir == "." {
		opfDir = ""
	}

	var chapters []string
	for _, href := range pkg.spineHrefs {
		full := resolveHref(opfDir, href)
		if full == "" {
			continue
		}
		b, err := readZipFile(zr, full)
		if err != nil {
			// Missing spine items are skipped, not fatal.
			continue
		}
		if t := normalizeText(htmlToText(b)); t != "" {
			chapters = append(chapters, t)
		}
	}

	combined := strings.TrimSpace(strings.Join(chapters, "\n\n"))
	words := countWords(combined)
	pageCount := words / wordsPerPage
	if pageCount < 1 {
		pageCount = 1
	}

	result := &Result{
		Estimate: &Estimate{PageCount: pageCount, WordCount: words},
		Title:    pkg.title,
		Author:   pkg.author,
	}

	// Cover extraction is best-effort; absence is not an error.
	if pkg.coverHref != "" {
		full := resolveHref(opfDir, pkg.coverHref)
		if b, err := readZipFile(zr, full); err == nil {
			result.Cover = b
			result.CoverName = path.Base(full)
		}
	}

	return result
}

func epubSizeEstimate(sizeBytes int) *Result {
	pageCount := (sizeBytes / 1024) / 2
	if pageCount < 1 {
		pageCount = 1
	}
	return &Result{Estimate: &Estimate{
		PageCount: pageCount,
		WordCount: pageCount * wordsPerPage,
	}}
}

func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name == name {
			rc, err := f.Open()
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			return io.ReadAll(rc)
		}
	}
	lower := strings.ToLower(name)
	for _, f := range zr.File {
		if strings.ToLower(f.Name) == lower {
			rc, err := f.Open()
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			return io.ReadAll(rc)
		}
	}
	return nil, zip.ErrFormat
}

// findOPFPath locates the package document through META-INF/container.xml.
func findOPFPath(containerXML []byte) string {
	type rootfile struct {
		FullPath string `xml:"full-path,attr"`
	}
	var c struct {
		Rootfiles struct {
			Rootfiles []rootfile `xml:"rootfile"`
		} `xml:"rootfiles"`
	}
	if err := xml.Unmarshal(containerXML, &c); err != nil {
		return ""
	}
	for _, rf := range c.Rootfiles.Rootfiles {
		if p := strings.TrimSpace(rf.FullPath); p != "" {
			return p
		}
	}
	return ""
}

type opfPackage struct {
	title      string
	author     string
	spineHrefs []string
	coverHref  string
}

// parseOPF walks the package document with namespace-agnostic matching and
// collects title, author, spine reading order and a cover image reference.
// Cover detection tries the ePub 3 cover-image property first, then falls
// back to manifest items whose id or href mentions "cover" with an image
// media type.
func parseOPF(opf []byte) opfPackage {
	type manifestItem struct {
		id         string
		href       string
		mediaType  string
		properties string
	}

	var pkg opfPackage
	manifest := map[string]manifestItem{}
	var order []manifestItem
	var spineIDs []string
	var metaCoverID string

	dec := xml.NewDecoder(bytes.NewReader(opf))
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch strings.ToLower(se.Name.Local) {
		case "title":
			if pkg.title == "" {
				pkg.title = strings.TrimSpace(readElementText(dec))
			}
		case "creator":
			if pkg.author == "" {
				pkg.author = strings.TrimSpace(readElementText(dec))
			}
		case "meta":
			var name, content string
			for _, a := range se.Attr {
				switch strings.ToLower(a.Name.Local) {
				case "name":
					name = a.Value
				case "content":
					content = a.Value
				}
			}
			if strings.EqualFold(name, "cover") && content != "" {
				metaCoverID = content
			}
		case "item":
			var item manifestItem
			for _, a := range se.Attr {
				switch strings.ToLower(a.Name.Local) {
				case "id":
					item.id = a.Value
				case "href":
					item.href = a.Value
				case "media-type":
					item.mediaType = a.Value
				case "properties":
					item.properties = a.Value
				}
			}
			if item.id != "" && item.href != "" {
				manifest[item.id] = item
				order = append(order, item)
			}
		case "itemref":
			for _, a := range se.Attr {
				if strings.ToLower(a.Name.Local) == "idref" && a.Value != "" {
					spineIDs = append(spineIDs, a.Value)
					break
				}
			}
		}
	}

	for _, id := range spineIDs {
		if item, ok := manifest[id]; ok && item.href != "" {
			pkg.spineHrefs = append(pkg.spineHrefs, item.href)
		}
	}

	// ePub 3: properties="cover-image".
	for _, item := range order {
		for _, prop := range strings.Fields(item.properties) {
			if prop == "cover-image" {
				pkg.coverHref = item.href
				return pkg
			}
		}
	}
	// ePub 2: <meta name="cover" content="ID"/>.
	if item, ok := manifest[metaCoverID]; ok && strings.HasPrefix(item.mediaType, "image/") {
		pkg.coverHref = item.href
		return pkg
	}
	// Heuristic: id or href mentions "cover" with an image media type.
	for _, item := range order {
		if !strings.HasPrefix(item.mediaType, "image/") {
			continue
		}
		if strings.Contains(strings.ToLower(item.id), "cover") ||
			strings.Contains(strings.ToLower(item.href), "cover") {
			pkg.coverHref = item.href
			break
		}
	}
	return pkg
}

func readElementText(dec *xml.Decoder) string {
	var out strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.CharData:
			out.Write([]byte(t))
		case xml.EndElement:
			return out.String()
		}
	}
	return out.String()
}

func resolveHref(opfDir, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if unescaped, err := url.PathUnescape(href); err == nil && unescaped != "" {
		href = unescaped
	}
	return path.Clean(path.Join(opfDir, href))
}

// htmlToText strips markup from an EPUB content document, inserting
// paragraph breaks around block elements.
func htmlToText(b []byte) string {
	doc, err := html.Parse(bytes.NewReader(b))
	if err != nil || doc == nil {
		return ""
	}

	block := map[string]bool{
		"p": true, "div": true, "section": true, "article": true,
		"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
		"li": true, "ul": true, "ol": true, "blockquote": true,
	}
	skip := map[string]bool{
		"script": true, "style": true, "head": true, "title": true, "nav": true,
	}

	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n == nil {
			return
		}
		if n.Type == html.ElementNode {
			tag := strings.ToLower(n.Data)
			if skip[tag] {
				return
			}
			if tag == "br" {
				sb.WriteString("\n")
			}
			if block[tag] {
				sb.WriteString("\n\n")
			}
		}
		if n.Type == html.TextNode {
			t := strings.TrimSpace(n.Data)
			if t != "" {
				if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") && !strings.HasSuffix(sb.String(), " ") {
					sb.WriteString(" ")
				}
				sb.WriteString(t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && block[strings.ToLower(n.Data)] {
			sb.WriteString("\n\n")
		}
	}
	walk(doc)

	return sb.String()
}

func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "\u00a0", " ")

	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		t := strings.TrimSpace(line)
		if t == "" {
			blank++
			if blank <= 2 {
				out = append(out, "")
			}
			continue
		}
		blank = 0
		out = append(out, t)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
