package validator

import (
	"bytes"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pagewise/reader/internal/models"
	"github.com/pagewise/reader/pkg/logger"
)

// Size ceilings. MaxUploadBytes gates upload initiation; MaxValidateBytes is
// the looser backstop applied during raw validation. The smaller wins.
const (
	MaxUploadBytes   = 20 << 20
	MaxValidateBytes = 50 << 20

	maxFilenameLen = 120
)

// Magic byte signatures for the binary formats. EPUB and DOCX are ZIP
// containers and share the ZIP signature; PDF has its own.
var (
	magicPDF = []byte("%PDF")
	magicZIP = []byte("PK\x03\x04")
)

// FileMeta describes an upload before any content is read.
type FileMeta struct {
	Name string
	MIME string
	Size int64
}

// Result is either an accepted classification or a rejection reason.
type Result struct {
	Accepted bool
	Format   models.Format
	Reason   string
}

func reject(reason string) Result {
	return Result{Reason: reason}
}

func accept(format models.Format) Result {
	return Result{Accepted: true, Format: format}
}

var mimeFormats = map[string]models.Format{
	"text/plain":      models.FormatTXT,
	"application/pdf": models.FormatPDF,
	"application/epub+zip": models.FormatEPUB,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": models.FormatDOCX,
}

var extFormats = map[string]models.Format{
	".txt":  models.FormatTXT,
	".pdf":  models.FormatPDF,
	".epub": models.FormatEPUB,
	".docx": models.FormatDOCX,
}

// UploadValidator classifies and validates uploads before processing.
type UploadValidator struct {
	logger           logger.Logger
	maxUploadBytes   int64
	maxValidateBytes int64
}

// NewUploadValidator builds a validator with the given size ceilings.
// Non-positive ceilings fall back to the package defaults.
func NewUploadValidator(log logger.Logger, maxUploadBytes, maxValidateBytes int64) *UploadValidator {
	if maxUploadBytes <= 0 {
		maxUploadBytes = MaxUploadBytes
	}
	if maxValidateBytes <= 0 {
		maxValidateBytes = MaxValidateBytes
	}
	return &UploadValidator{
		logger:           log,
		maxUploadBytes:   maxUploadBytes,
		maxValidateBytes: maxValidateBytes,
	}
}

// CheckInit enforces the stricter upload-initiation limit. It runs before any
// content byte exists server-side.
func (v *UploadValidator) CheckInit(meta FileMeta) Result {
	if meta.Size <= 0 {
		return reject("empty upload")
	}
	if meta.Size > v.maxUploadBytes {
		return reject(fmt.Sprintf("file exceeds upload limit of %d bytes", v.maxUploadBytes))
	}
	format, r := v.classify(meta)
	if !r.Accepted {
		return r
	}
	return accept(format)
}

// ClassifyAndValidate checks metadata, classifies the format, and verifies
// magic bytes against the declared format. The size ceiling is enforced
// before the header is inspected.
func (v *UploadValidator) ClassifyAndValidate(meta FileMeta, header []byte) Result {
	if meta.Size <= 0 {
		return reject("empty upload")
	}
	if meta.Size > v.maxValidateBytes {
		return reject(fmt.Sprintf("file exceeds size limit of %d bytes", v.maxValidateBytes))
	}

	format, r := v.classify(meta)
	if !r.Accepted {
		return r
	}

	// Magic byte check is skipped for plain text. A mismatch between the
	// declared format and the signature is a rejection, not a silent
	// reclassification.
	switch format {
	case models.FormatPDF:
		if !bytes.HasPrefix(header, magicPDF) {
			return reject("file content does not match PDF signature")
		}
	case models.FormatEPUB, models.FormatDOCX:
		if !bytes.HasPrefix(header, magicZIP) {
			return reject(fmt.Sprintf("file content does not match %s container signature", format))
		}
	}

	return accept(format)
}

// classify maps MIME type and extension to a supported format. Extension is
// used as a fallback only when the MIME type is unrecognized; when both map
// to a format they must agree.
func (v *UploadValidator) classify(meta FileMeta) (models.Format, Result) {
	ext := strings.ToLower(filepath.Ext(meta.Name))
	extFormat, extOK := extFormats[ext]

	mime := strings.ToLower(strings.TrimSpace(meta.MIME))
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	mimeFormat, mimeOK := mimeFormats[mime]

	switch {
	case mimeOK && extOK:
		if mimeFormat != extFormat {
			return "", reject(fmt.Sprintf("declared type %s does not match extension %s", meta.MIME, ext))
		}
		return mimeFormat, accept(mimeFormat)
	case mimeOK:
		return mimeFormat, accept(mimeFormat)
	case extOK:
		return extFormat, accept(extFormat)
	default:
		return "", reject(fmt.Sprintf("unsupported file type: %s (%s)", ext, meta.MIME))
	}
}

var (
	disallowedChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)
	repeatedSeps    = regexp.MustCompile(`[_.-]{2,}`)
)

// SanitizeFilename makes an uploaded filename safe for use in storage keys:
// disallowed characters are replaced, repeated separators collapsed, and the
// result length-capped while preserving the extension.
func SanitizeFilename(name string) string {
	name = filepath.Base(name)
	ext := strings.ToLower(filepath.Ext(name))
	base := strings.TrimSuffix(name, filepath.Ext(name))

	base = disallowedChars.ReplaceAllString(base, "_")
	base = repeatedSeps.ReplaceAllString(base, "_")
	base = strings.Trim(base, "_.-")
	if base == "" {
		base = "upload"
	}

	if len(base)+len(ext) > maxFilenameLen {
		base = base[:maxFilenameLen-len(ext)]
	}

	return base + ext
}
