// Package render produces per-page images for a document, serving an
// initial window as fast as possible and filling the rest in the
// background through a persistent cache.
package render

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// PageImage is one rendered page at display resolution.
type PageImage struct {
	Number      int
	Data        []byte
	Placeholder bool
}

// Cache is the persistent store of rendered page images. Keys are scoped by
// document id and 1-based page number; a completion marker records the page
// count a finished render session produced.
type Cache interface {
	// GetFull returns every cached page iff the document was finalized
	// with exactly expectedPages pages. Anything less is a miss.
	GetFull(ctx context.Context, documentID string, expectedPages int) ([]PageImage, bool, error)

	// Put stores one page image.
	Put(ctx context.Context, documentID string, page PageImage) error

	// Finalize writes the completion marker after verifying all pageCount
	// pages are present. Concurrent finalize calls are serialized.
	Finalize(ctx context.Context, documentID string, pageCount int) error

	// Invalidate drops the completion marker and all cached pages.
	Invalidate(ctx context.Context, documentID string) error
}

// RedisCache implements Cache on Redis so rendered pages survive restarts.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration

	finalizeMu sync.Mutex
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache wraps an existing Redis client. ttl bounds how long cached
// renders live without being re-finalized; zero means no expiry.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func pageKey(documentID string, number int) string {
	return fmt.Sprintf("render:%s:page:%d", documentID, number)
}

func completeKey(documentID string) string {
	return fmt.Sprintf("render:%s:complete", documentID)
}

// Cached values carry a one-byte flag prefix so a replayed page keeps its
// placeholder marking; without it a full cache hit would present failed
// renders as real pages.
const (
	pageFlagRendered    byte = 0
	pageFlagPlaceholder byte = 1
)

func encodePageValue(page PageImage) []byte {
	buf := make([]byte, 1+len(page.Data))
	if page.Placeholder {
		buf[0] = pageFlagPlaceholder
	}
	copy(buf[1:], page.Data)
	return buf
}

func decodePageValue(number int, raw []byte) (PageImage, bool) {
	if len(raw) < 1 {
		return PageImage{}, false
	}
	return PageImage{
		Number:      number,
		Data:        raw[1:],
		Placeholder: raw[0] == pageFlagPlaceholder,
	}, true
}

// GetFull checks the completion marker first. A marker recorded for a
// different page count means the document changed under the same id, so the
// cached set is treated as a miss.
func (c *RedisCache) GetFull(ctx context.Context, documentID string, expectedPages int) ([]PageImage, bool, error) {
	val, err := c.client.Get(ctx, completeKey(documentID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading completion marker: %w", err)
	}

	finalized, err := strconv.Atoi(val)
	if err != nil || finalized != expectedPages {
		return nil, false, nil
	}

	keys := make([]string, expectedPages)
	for i := 0; i < expectedPages; i++ {
		keys[i] = pageKey(documentID, i+1)
	}
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, false, fmt.Errorf("reading cached pages: %w", err)
	}

	pages := make([]PageImage, expectedPages)
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			// A page expired out from under the marker.
			return nil, false, nil
		}
		page, ok := decodePageValue(i+1, []byte(s))
		if !ok {
			return nil, false, nil
		}
		pages[i] = page
	}
	return pages, true, nil
}

// Put stores one page image under the document's key space.
func (c *RedisCache) Put(ctx context.Context, documentID string, page PageImage) error {
	err := c.client.Set(ctx, pageKey(documentID, page.Number), encodePageValue(page), c.ttl).Err()
	if err != nil {
		return fmt.Errorf("caching page %d: %w", page.Number, err)
	}
	return nil
}

// Finalize verifies every page up to pageCount is cached before writing the
// marker. A half-finished session must never be observable as full.
func (c *RedisCache) Finalize(ctx context.Context, documentID string, pageCount int) error {
	c.finalizeMu.Lock()
	defer c.finalizeMu.Unlock()

	keys := make([]string, pageCount)
	for i := 0; i < pageCount; i++ {
		keys[i] = pageKey(documentID, i+1)
	}
	present, err := c.client.Exists(ctx, keys...).Result()
	if err != nil {
		return fmt.Errorf("checking cached pages: %w", err)
	}
	if int(present) != pageCount {
		return fmt.Errorf("cannot finalize %s: %d of %d pages cached", documentID, present, pageCount)
	}

	err = c.client.Set(ctx, completeKey(documentID), strconv.Itoa(pageCount), c.ttl).Err()
	if err != nil {
		return fmt.Errorf("writing completion marker: %w", err)
	}
	return nil
}

// Invalidate removes the marker and all page entries for the document.
func (c *RedisCache) Invalidate(ctx context.Context, documentID string) error {
	if err := c.client.Del(ctx, completeKey(documentID)).Err(); err != nil {
		return fmt.Errorf("dropping completion marker: %w", err)
	}

	iter := c.client.Scan(ctx, 0, fmt.Sprintf("render:%s:page:*", documentID), 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scanning cached pages: %w", err)
	}
	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("dropping cached pages: %w", err)
		}
	}
	return nil
}
