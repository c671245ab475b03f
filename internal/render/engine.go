package render

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/gen2brain/go-fitz"
)

// Engine opens a PDF source for page-image rendering.
type Engine interface {
	Open(ctx context.Context, source []byte) (Document, error)
}

// Document is an open render source. Implementations are safe for
// concurrent RenderPage calls.
type Document interface {
	PageCount() int
	// RenderPage renders the 1-based page at display resolution.
	RenderPage(number int) (image.Image, error)
	Close() error
}

// FitzEngine renders through MuPDF. Scale follows the device pixel ratio;
// sharpness is a secondary multiplier trading render latency for fidelity.
type FitzEngine struct {
	Scale     float64
	Sharpness float64
}

var _ Engine = (*FitzEngine)(nil)

// NewFitzEngine creates an engine at the given scale and sharpness. Values
// at or below zero fall back to 1.
func NewFitzEngine(scale, sharpness float64) *FitzEngine {
	if scale <= 0 {
		scale = 1
	}
	if sharpness <= 0 {
		sharpness = 1
	}
	return &FitzEngine{Scale: scale, Sharpness: sharpness}
}

// Open loads the PDF from memory.
func (e *FitzEngine) Open(ctx context.Context, source []byte) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := fitz.NewFromMemory(source)
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}
	return &fitzDocument{
		doc: doc,
		dpi: 72 * e.Scale * e.Sharpness,
	}, nil
}

// fitzDocument serializes page access: a MuPDF document handle is not safe
// for concurrent use.
type fitzDocument struct {
	mu  sync.Mutex
	doc *fitz.Document
	dpi float64
}

func (d *fitzDocument) PageCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.NumPage()
}

func (d *fitzDocument) RenderPage(number int) (image.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, err := d.doc.ImageDPI(number-1, d.dpi)
	if err != nil {
		return nil, fmt.Errorf("rendering page %d: %w", number, err)
	}
	return img, nil
}

func (d *fitzDocument) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Close()
}
