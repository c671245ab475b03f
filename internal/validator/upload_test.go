package validator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pagewise/reader/internal/models"
	"github.com/pagewise/reader/pkg/logger"
)

func newValidator() *UploadValidator {
	return NewUploadValidator(logger.NewTestLogger(), 0, 0)
}

func TestClassifyAndValidateAccepts(t *testing.T) {
	v := newValidator()

	tests := []struct {
		name   string
		meta   FileMeta
		header []byte
		want   models.Format
	}{
		{
			name:   "pdf by mime and extension",
			meta:   FileMeta{Name: "book.pdf", MIME: "application/pdf", Size: 1024},
			header: []byte("%PDF-1.7\n"),
			want:   models.FormatPDF,
		},
		{
			name:   "plain text skips magic check",
			meta:   FileMeta{Name: "notes.txt", MIME: "text/plain", Size: 10},
			header: []byte("hello"),
			want:   models.FormatTXT,
		},
		{
			name:   "epub zip container",
			meta:   FileMeta{Name: "novel.epub", MIME: "application/epub+zip", Size: 2048},
			header: []byte("PK\x03\x04rest"),
			want:   models.FormatEPUB,
		},
		{
			name:   "extension fallback when mime unknown",
			meta:   FileMeta{Name: "report.docx", MIME: "application/octet-stream", Size: 512},
			header: []byte("PK\x03\x04"),
			want:   models.FormatDOCX,
		},
		{
			name:   "mime with charset parameter",
			meta:   FileMeta{Name: "readme.txt", MIME: "text/plain; charset=utf-8", Size: 5},
			header: []byte("hi"),
			want:   models.FormatTXT,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := v.ClassifyAndValidate(tt.meta, tt.header)
			assert.True(t, r.Accepted, r.Reason)
			assert.Equal(t, tt.want, r.Format)
		})
	}
}

func TestClassifyAndValidateRejects(t *testing.T) {
	v := newValidator()

	tests := []struct {
		name   string
		meta   FileMeta
		header []byte
	}{
		{
			name:   "pdf named file without pdf signature",
			meta:   FileMeta{Name: "fake.pdf", MIME: "application/pdf", Size: 100},
			header: []byte("not a pdf"),
		},
		{
			name:   "epub without zip signature",
			meta:   FileMeta{Name: "broken.epub", MIME: "application/epub+zip", Size: 100},
			header: []byte("garbage"),
		},
		{
			name:   "mime extension disagreement",
			meta:   FileMeta{Name: "book.epub", MIME: "application/pdf", Size: 100},
			header: []byte("%PDF-1.4"),
		},
		{
			name:   "unsupported type",
			meta:   FileMeta{Name: "movie.mp4", MIME: "video/mp4", Size: 100},
			header: []byte{0x00, 0x00},
		},
		{
			name:   "empty upload",
			meta:   FileMeta{Name: "empty.txt", MIME: "text/plain", Size: 0},
			header: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := v.ClassifyAndValidate(tt.meta, tt.header)
			assert.False(t, r.Accepted)
			assert.NotEmpty(t, r.Reason)
		})
	}
}

func TestSizeCeilingEnforcedBeforeContent(t *testing.T) {
	v := newValidator()

	// Oversized files are rejected even with a valid header: the ceiling is
	// checked before the header bytes are inspected.
	r := v.ClassifyAndValidate(
		FileMeta{Name: "huge.pdf", MIME: "application/pdf", Size: MaxValidateBytes + 1},
		[]byte("%PDF-1.7"),
	)
	assert.False(t, r.Accepted)
	assert.Contains(t, r.Reason, "size limit")

	// The initiation ceiling is stricter.
	r = v.CheckInit(FileMeta{Name: "big.pdf", MIME: "application/pdf", Size: MaxUploadBytes + 1})
	assert.False(t, r.Accepted)

	r = v.CheckInit(FileMeta{Name: "ok.pdf", MIME: "application/pdf", Size: MaxUploadBytes - 1})
	assert.True(t, r.Accepted)
}

func TestConfiguredCeilingsOverrideDefaults(t *testing.T) {
	v := NewUploadValidator(logger.NewTestLogger(), 1024, 4096)

	r := v.CheckInit(FileMeta{Name: "ok.pdf", MIME: "application/pdf", Size: 1000})
	assert.True(t, r.Accepted)

	r = v.CheckInit(FileMeta{Name: "big.pdf", MIME: "application/pdf", Size: 1025})
	assert.False(t, r.Accepted)

	r = v.ClassifyAndValidate(
		FileMeta{Name: "big.pdf", MIME: "application/pdf", Size: 4097},
		[]byte("%PDF-1.7"),
	)
	assert.False(t, r.Accepted)
	assert.Contains(t, r.Reason, "size limit")
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "my_book.pdf", SanitizeFilename("my book.pdf"))
	assert.Equal(t, "weird_name.epub", SanitizeFilename("weird///***name.epub"))
	assert.Equal(t, "a_b.txt", SanitizeFilename("a___...___b.txt"))
	assert.Equal(t, "upload.pdf", SanitizeFilename("....pdf"))

	long := strings.Repeat("x", 500) + ".docx"
	got := SanitizeFilename(long)
	assert.LessOrEqual(t, len(got), 120)
	assert.True(t, strings.HasSuffix(got, ".docx"))

	// Path components are stripped.
	assert.Equal(t, "passwd.txt", SanitizeFilename("../../etc/passwd.txt"))
}
