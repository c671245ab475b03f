package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTextEmptyInputYieldsPlaceholderPage(t *testing.T) {
	result := ParseText([]byte("   \n\n  "))

	require.Len(t, result.Pages, 1)
	assert.Equal(t, 1, result.Pages[0].Number)
	assert.Equal(t, emptyPagePlaceholder, result.Pages[0].Content)
	assert.Equal(t, 0, result.Pages[0].WordCount)
	assert.Equal(t, 0, result.TotalWords())
}

func TestParseTextParagraphNeverSplitsAcrossPages(t *testing.T) {
	// Three paragraphs each just over the budget: each must land whole on
	// its own page.
	big := strings.Repeat("lorem ipsum ", 200) // ~2400 chars
	input := big + "\n\n" + big + "\n\n" + big

	result := ParseText([]byte(input))

	require.Len(t, result.Pages, 3)
	for i, page := range result.Pages {
		assert.Equal(t, i+1, page.Number)
		assert.Equal(t, strings.TrimSpace(big), page.Content)
		assert.NotContains(t, page.Content, "\n\n")
	}
}

func TestParseTextAccumulatesSmallParagraphs(t *testing.T) {
	// Ten short paragraphs fit well within one page.
	var parts []string
	for i := 0; i < 10; i++ {
		parts = append(parts, "A short paragraph of text.")
	}
	result := ParseText([]byte(strings.Join(parts, "\n\n")))

	require.Len(t, result.Pages, 1)
	assert.Equal(t, 10, strings.Count(result.Pages[0].Content, "paragraph"))
	assert.Equal(t, 50, result.TotalWords())
}

func TestParseTextCollapsesSingleNewlines(t *testing.T) {
	result := ParseText([]byte("line one\nline two\n\nnext paragraph"))

	require.Len(t, result.Pages, 1)
	assert.Contains(t, result.Pages[0].Content, "line one line two")
	assert.Contains(t, result.Pages[0].Content, "next paragraph")
}

func TestParseTextPageBudgetRespected(t *testing.T) {
	para := strings.Repeat("word ", 100) // ~500 chars
	var parts []string
	for i := 0; i < 12; i++ {
		parts = append(parts, strings.TrimSpace(para))
	}
	result := ParseText([]byte(strings.Join(parts, "\n\n")))

	require.Greater(t, len(result.Pages), 1)
	for _, page := range result.Pages {
		assert.LessOrEqual(t, len(page.Content), pageCharBudget)
	}
	assert.Equal(t, 1200, result.TotalWords())
}
