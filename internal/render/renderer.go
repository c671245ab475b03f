package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"sync/atomic"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	"github.com/pagewise/reader/pkg/logger"
)

// Defaults for the progressive schedule: a small window rendered in parallel
// for time-to-first-page, then bounded batches for the remainder.
const (
	DefaultInitialWindow = 6
	DefaultBatchSize     = 12
)

// Placeholder dimensions, US Letter at 72 dpi.
const (
	placeholderWidth  = 612
	placeholderHeight = 792
)

// Config tunes the progressive schedule.
type Config struct {
	InitialWindow int
	BatchSize     int
}

// Renderer turns a PDF into per-page images, populating the cache as pages
// complete. One Renderer serves many sessions.
type Renderer struct {
	cache  Cache
	engine Engine
	log    logger.Logger
	cfg    Config
}

// NewRenderer wires a renderer. Zero config fields take the defaults.
func NewRenderer(cache Cache, engine Engine, log logger.Logger, cfg Config) *Renderer {
	if cfg.InitialWindow <= 0 {
		cfg.InitialWindow = DefaultInitialWindow
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Renderer{
		cache:  cache,
		engine: engine,
		log:    log.Named("render"),
		cfg:    cfg,
	}
}

// InvalidateCache drops all cached page images for the document. Called when
// the document is deleted or its source is replaced.
func (r *Renderer) InvalidateCache(ctx context.Context, documentID string) error {
	return r.cache.Invalidate(ctx, documentID)
}

// Session is one progressive rendering run for one viewer. Pages arrive on
// Updates as they complete; Ready closes once the initial window has
// settled; Done closes when every page is finished. Close tears the session
// down: in-flight renders finish but are discarded, and all outstanding
// handles are released.
type Session struct {
	DocumentID string
	PageCount  int

	updates  chan *Handle
	ready    chan struct{}
	done     chan struct{}
	registry *HandleRegistry

	cancelled atomic.Bool
	readyOnce sync.Once
	doneOnce  sync.Once
}

// Updates streams page handles in completion order. The channel closes after
// the final page.
func (s *Session) Updates() <-chan *Handle { return s.updates }

// Ready closes as soon as the initial window has settled, success or
// placeholder. Display may begin at that point.
func (s *Session) Ready() <-chan struct{} { return s.ready }

// Done closes once every page has been rendered and the cache finalized.
func (s *Session) Done() <-chan struct{} { return s.done }

// Outstanding reports unreleased page handles.
func (s *Session) Outstanding() int { return s.registry.Outstanding() }

// Close cancels the session and releases every outstanding handle. No cache
// write happens after Close begins.
func (s *Session) Close() {
	s.cancelled.Store(true)
	s.registry.ReleaseAll()
}

func (s *Session) markReady() { s.readyOnce.Do(func() { close(s.ready) }) }
func (s *Session) markDone()  { s.doneOnce.Do(func() { close(s.done) }) }

// emit hands a page to the consumer unless the session was torn down. The
// registry refuses acquisition once teardown has run its release pass, so a
// Close racing this call cannot leave an untracked handle behind.
func (s *Session) emit(page PageImage) {
	if s.cancelled.Load() {
		return
	}
	h := s.registry.Acquire(page)
	if h == nil {
		return
	}
	s.updates <- h
}

func newSession(documentID string, pageCount int) *Session {
	return &Session{
		DocumentID: documentID,
		PageCount:  pageCount,
		updates:    make(chan *Handle, pageCount),
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
		registry:   NewHandleRegistry(),
	}
}

// Start begins rendering a document. expectedPages is the page count known
// from ingestion; a finalized cache entry matching it is served without
// opening the engine at all.
func (r *Renderer) Start(ctx context.Context, documentID string, source []byte, expectedPages int) (*Session, error) {
	log := r.log.With(logger.String("documentId", documentID))

	if expectedPages > 0 {
		cached, ok, err := r.cache.GetFull(ctx, documentID, expectedPages)
		if err != nil {
			log.Warn("cache read failed, rendering from source", logger.Error(err))
		} else if ok {
			session := newSession(documentID, expectedPages)
			for _, page := range cached {
				session.emit(page)
			}
			close(session.updates)
			session.markReady()
			session.markDone()
			log.Debug("served full cache hit", logger.Int("pages", expectedPages))
			return session, nil
		}
	}

	doc, err := r.engine.Open(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("opening document for render: %w", err)
	}

	pageCount := doc.PageCount()
	if pageCount < 1 {
		doc.Close()
		return nil, fmt.Errorf("document has no pages")
	}

	session := newSession(documentID, pageCount)
	go r.run(ctx, session, doc, log)
	return session, nil
}

func (r *Renderer) run(ctx context.Context, session *Session, doc Document, log logger.Logger) {
	defer func() {
		doc.Close()
		close(session.updates)
		session.markDone()
	}()

	window := r.cfg.InitialWindow
	if window > session.PageCount {
		window = session.PageCount
	}

	// Initial window: fully parallel, one goroutine per page.
	var wg sync.WaitGroup
	for n := 1; n <= window; n++ {
		wg.Add(1)
		go func(number int) {
			defer wg.Done()
			r.renderOne(ctx, session, doc, number, log)
		}(n)
	}
	wg.Wait()
	session.markReady()

	// Remaining pages in bounded batches.
	if window < session.PageCount {
		g := &errgroup.Group{}
		g.SetLimit(r.cfg.BatchSize)
		for n := window + 1; n <= session.PageCount; n++ {
			number := n
			g.Go(func() error {
				r.renderOne(ctx, session, doc, number, log)
				return nil
			})
		}
		g.Wait() //nolint:errcheck // renderOne never returns an error
	}

	if session.cancelled.Load() {
		return
	}
	if err := r.cache.Finalize(ctx, session.DocumentID, session.PageCount); err != nil {
		log.Warn("cache finalize failed", logger.Error(err))
		return
	}
	log.Info("render complete", logger.Int("pages", session.PageCount))
}

// renderOne renders a single page, degrading to a placeholder on failure.
// The cancelled flag is checked before every persistence point so teardown
// stops cache writes immediately while in-flight renders drain.
func (r *Renderer) renderOne(ctx context.Context, session *Session, doc Document, number int, log logger.Logger) {
	if session.cancelled.Load() {
		return
	}

	page, err := r.renderPage(doc, number)
	if err != nil {
		log.Warn("page render failed, using placeholder",
			logger.Int("page", number), logger.Error(err))
		page, err = placeholderPage(number)
		if err != nil {
			log.Error("placeholder encode failed", logger.Int("page", number), logger.Error(err))
			return
		}
	}

	if session.cancelled.Load() {
		return
	}
	if err := r.cache.Put(ctx, session.DocumentID, page); err != nil {
		log.Warn("cache write failed", logger.Int("page", number), logger.Error(err))
	}
	session.emit(page)
}

func (r *Renderer) renderPage(doc Document, number int) (PageImage, error) {
	img, err := doc.RenderPage(number)
	if err != nil {
		return PageImage{}, err
	}
	data, err := encodePNG(img)
	if err != nil {
		return PageImage{}, err
	}
	return PageImage{Number: number, Data: data}, nil
}

// placeholderPage builds a blank stand-in image. The page number travels in
// the PageImage metadata so the viewer can label it.
func placeholderPage(number int) (PageImage, error) {
	img := imaging.New(placeholderWidth, placeholderHeight, color.White)
	data, err := encodePNG(img)
	if err != nil {
		return PageImage{}, err
	}
	return PageImage{Number: number, Data: data, Placeholder: true}, nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encoding page image: %w", err)
	}
	return buf.Bytes(), nil
}
