package convert

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagewise/reader/internal/parser"
)

func TestBuildEPUBContainerLayout(t *testing.T) {
	pages := []parser.Page{
		{Number: 1, Content: "First page text.\n\nWith two paragraphs.", WordCount: 6},
		{Number: 2, Content: "Second page text.", WordCount: 3},
	}

	data, err := buildEPUB("A Title", "An Author", pages)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	// mimetype must be the first entry and stored uncompressed.
	require.NotEmpty(t, zr.File)
	first := zr.File[0]
	assert.Equal(t, "mimetype", first.Name)
	assert.Equal(t, zip.Store, first.Method)

	rc, err := first.Open()
	require.NoError(t, err)
	mimetype, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "application/epub+zip", string(mimetype))

	names := make(map[string]bool)
	for _, f := range zr.File {
		names[f.Name] = true
	}
	assert.True(t, names["META-INF/container.xml"])
	assert.True(t, names["OEBPS/content.opf"])
	assert.True(t, names["OEBPS/chapter-001.xhtml"])
	assert.True(t, names["OEBPS/chapter-002.xhtml"])
}

func TestBuildEPUBRoundTripsThroughParser(t *testing.T) {
	pages := []parser.Page{
		{Number: 1, Content: "one two three four", WordCount: 4},
		{Number: 2, Content: "five six", WordCount: 2},
	}

	data, err := buildEPUB("Round Trip", "Someone", pages)
	require.NoError(t, err)

	result := parser.ParseEPUB(data)
	require.NotNil(t, result.Estimate)
	assert.Equal(t, "Round Trip", result.Title)
	assert.Equal(t, "Someone", result.Author)
	assert.Equal(t, 6, result.Estimate.WordCount)
	assert.Equal(t, 1, result.Estimate.PageCount)
}

func TestBuildEPUBEscapesMarkup(t *testing.T) {
	pages := []parser.Page{
		{Number: 1, Content: "a < b && c > d", WordCount: 7},
	}

	data, err := buildEPUB("X <script>", "", pages)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	for _, f := range zr.File {
		if f.Name != "OEBPS/chapter-001.xhtml" {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		assert.Contains(t, string(content), "a &lt; b &amp;&amp; c &gt; d")
		return
	}
	t.Fatal("chapter not found in archive")
}
