package render

import (
	"sync"
	"sync/atomic"
)

// Handle is a scoped reference to one rendered page image. The pixel data
// stays pinned in memory until Release is called, so every consumer must
// release the handles it takes, and a session releases all outstanding
// handles on teardown.
type Handle struct {
	id       uint64
	page     PageImage
	registry *HandleRegistry
	released atomic.Bool
}

// Page returns the rendered page. The returned data is only valid before
// Release.
func (h *Handle) Page() PageImage {
	return h.page
}

// Release frees the handle's image data and removes it from its registry.
// Releasing twice is a no-op.
func (h *Handle) Release() {
	if !h.released.CompareAndSwap(false, true) {
		return
	}
	h.page.Data = nil
	if h.registry != nil {
		h.registry.remove(h.id)
	}
}

// HandleRegistry tracks every handle created during one rendering session so
// teardown can release whatever the consumer forgot.
type HandleRegistry struct {
	mu      sync.Mutex
	closed  bool
	nextID  uint64
	handles map[uint64]*Handle
}

// NewHandleRegistry creates an empty registry.
func NewHandleRegistry() *HandleRegistry {
	return &HandleRegistry{handles: make(map[uint64]*Handle)}
}

// Acquire wraps a page image in a tracked handle. After ReleaseAll the
// registry is closed and Acquire returns nil: a handle created behind the
// teardown's release pass would never be released.
func (r *HandleRegistry) Acquire(page PageImage) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.nextID++
	h := &Handle{id: r.nextID, page: page, registry: r}
	r.handles[h.id] = h
	return h
}

// Outstanding reports how many handles have not been released.
func (r *HandleRegistry) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// ReleaseAll releases every outstanding handle and closes the registry for
// further acquisition.
func (r *HandleRegistry) ReleaseAll() {
	r.mu.Lock()
	r.closed = true
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		h.Release()
	}
}

func (r *HandleRegistry) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, id)
}
