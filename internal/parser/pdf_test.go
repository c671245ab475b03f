package parser

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimatePDFUnreadableFallsBackToSize(t *testing.T) {
	// 300 KiB of garbage: sizeKB/100 = 3 pages, 250 words each.
	data := bytes.Repeat([]byte{0xAB}, 300*1024)

	result := EstimatePDF(data)

	require.NotNil(t, result.Estimate)
	assert.Equal(t, 3, result.Estimate.PageCount)
	assert.Equal(t, 750, result.Estimate.WordCount)
	assert.Empty(t, result.Pages)
}

func TestEstimatePDFTinyUnreadableStillOnePage(t *testing.T) {
	result := EstimatePDF([]byte("%PDF-1.4 truncated"))

	require.NotNil(t, result.Estimate)
	assert.Equal(t, 1, result.Estimate.PageCount)
	assert.Equal(t, wordsPerPage, result.Estimate.WordCount)
}

func TestExtractPDFUnreadableYieldsPlaceholderPage(t *testing.T) {
	result := ExtractPDF([]byte("not a pdf at all"))

	require.Len(t, result.Pages, 1)
	assert.Equal(t, 1, result.Pages[0].Number)
	assert.Equal(t, nonTextPagePlaceholder(1), result.Pages[0].Content)
	assert.Equal(t, 0, result.Pages[0].WordCount)
}

func TestNonTextPagePlaceholderNamesThePage(t *testing.T) {
	assert.Equal(t, "[Page 7 contains non-text content]", nonTextPagePlaceholder(7))
}
