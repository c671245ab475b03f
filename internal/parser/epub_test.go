package parser

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testContainerXML = `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

const testOPF = `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>The Test Book</dc:title>
    <dc:creator>Jane Writer</dc:creator>
  </metadata>
  <manifest>
    <item id="ch1" href="ch1.xhtml" media-type="application/xhtml+xml"/>
    <item id="ch2" href="ch2.xhtml" media-type="application/xhtml+xml"/>
    <item id="cover-img" href="images/cover.jpg" media-type="image/jpeg" properties="cover-image"/>
  </manifest>
  <spine>
    <itemref idref="ch1"/>
    <itemref idref="ch2"/>
  </spine>
</package>`

func buildTestEPUB(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestParseEPUBExtractsMetadataAndEstimate(t *testing.T) {
	data := buildTestEPUB(t, map[string]string{
		"mimetype":               "application/epub+zip",
		"META-INF/container.xml": testContainerXML,
		"OEBPS/content.opf":      testOPF,
		"OEBPS/ch1.xhtml":        "<html><body><p>one two three four five</p></body></html>",
		"OEBPS/ch2.xhtml":        "<html><body><p>six seven eight</p></body></html>",
		"OEBPS/images/cover.jpg": "\xff\xd8\xff fake jpeg bytes",
	})

	result := ParseEPUB(data)

	require.NotNil(t, result.Estimate)
	assert.Equal(t, "The Test Book", result.Title)
	assert.Equal(t, "Jane Writer", result.Author)
	assert.Equal(t, 8, result.Estimate.WordCount)
	assert.Equal(t, 1, result.Estimate.PageCount)
	assert.NotEmpty(t, result.Cover)
	assert.Equal(t, "cover.jpg", result.CoverName)
	assert.Empty(t, result.Pages)
}

func TestParseEPUBCorruptArchiveDegradesToSizeEstimate(t *testing.T) {
	// 10 KiB of non-zip bytes: sizeKB/2 = 5 pages.
	data := bytes.Repeat([]byte{0x42}, 10*1024)

	result := ParseEPUB(data)

	require.NotNil(t, result.Estimate)
	assert.Equal(t, 5, result.Estimate.PageCount)
	assert.Equal(t, 5*wordsPerPage, result.Estimate.WordCount)
}

func TestParseEPUBMissingContainerDegradesToSizeEstimate(t *testing.T) {
	data := buildTestEPUB(t, map[string]string{
		"mimetype": "application/epub+zip",
	})

	result := ParseEPUB(data)

	require.NotNil(t, result.Estimate)
	assert.Equal(t, 1, result.Estimate.PageCount)
}

func TestParseEPUBSkipsMissingSpineItems(t *testing.T) {
	data := buildTestEPUB(t, map[string]string{
		"META-INF/container.xml": testContainerXML,
		"OEBPS/content.opf":      testOPF,
		"OEBPS/ch1.xhtml":        "<html><body><p>only chapter present</p></body></html>",
	})

	result := ParseEPUB(data)

	require.NotNil(t, result.Estimate)
	assert.Equal(t, 3, result.Estimate.WordCount)
	assert.Equal(t, 1, result.Estimate.PageCount)
}

func TestHTMLToTextStripsMarkupAndScripts(t *testing.T) {
	text := normalizeText(htmlToText([]byte(
		`<html><head><title>ignored</title><style>p{color:red}</style></head>` +
			`<body><h1>Heading</h1><p>First <b>bold</b> para.</p>` +
			`<script>var x = 1;</script><p>Second para.</p></body></html>`)))

	assert.Contains(t, text, "Heading")
	assert.Contains(t, text, "First bold para.")
	assert.Contains(t, text, "Second para.")
	assert.NotContains(t, text, "ignored")
	assert.NotContains(t, text, "color:red")
	assert.NotContains(t, text, "var x")
}
