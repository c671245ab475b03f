package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCacheKeyLayout(t *testing.T) {
	// The key layout is persisted state; changing it silently invalidates
	// every cached render.
	assert.Equal(t, "render:doc-1:page:3", pageKey("doc-1", 3))
	assert.Equal(t, "render:doc-1:complete", completeKey("doc-1"))
}

func TestPageValueKeepsPlaceholderFlag(t *testing.T) {
	placeholder := PageImage{Number: 2, Data: []byte("png bytes"), Placeholder: true}
	got, ok := decodePageValue(2, encodePageValue(placeholder))
	assert.True(t, ok)
	assert.Equal(t, placeholder, got)

	rendered := PageImage{Number: 5, Data: []byte("real page")}
	got, ok = decodePageValue(5, encodePageValue(rendered))
	assert.True(t, ok)
	assert.False(t, got.Placeholder)
	assert.Equal(t, []byte("real page"), got.Data)
}

func TestPageValueEmptyIsInvalid(t *testing.T) {
	_, ok := decodePageValue(1, nil)
	assert.False(t, ok)
}
