// Package catcache resolves status codes to uploaded cat images.
//
// A Cache has two tiers: a process-lifetime memory map and a durable
// cache.Store. A miss in both tiers fetches the image, uploads it to the chat
// server and writes the result through to both tiers. Fills are single-flight
// per status code, so a status is never fetched twice concurrently.
package catcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"httpcat/internal/cache"
	"httpcat/internal/catfetch"
	"httpcat/internal/core"
	"httpcat/internal/observability"
)

// Options tune fill concurrency.
type Options struct {
	// Serial routes every fill through one cache-wide lock, so distinct
	// uncached status codes are fetched one at a time.
	Serial bool
}

// Cache implements core.Resolver.
type Cache struct {
	store    cache.Store
	source   core.ImageSource
	uploader core.MediaUploader
	serial   bool

	mu     sync.RWMutex
	memory map[core.StatusCode]*core.MediaRef

	flight  singleflight.Group
	fillMu  sync.Mutex // serial mode only
	writeMu sync.Mutex // held for every durable write
}

// New creates an empty Cache. The memory tier is seeded lazily from store;
// call Warm to seed it eagerly.
func New(store cache.Store, source core.ImageSource, uploader core.MediaUploader, opts Options) (*Cache, error) {
	if store == nil {
		return nil, fmt.Errorf("durable store is required")
	}
	if source == nil {
		return nil, fmt.Errorf("image source is required")
	}
	if uploader == nil {
		return nil, fmt.Errorf("media uploader is required")
	}
	return &Cache{
		store:    store,
		source:   source,
		uploader: uploader,
		serial:   opts.Serial,
		memory:   make(map[core.StatusCode]*core.MediaRef),
	}, nil
}

// Resolve returns the MediaRef for status, fetching and uploading the image
// on the first request. A non-success upstream response is returned as
// *core.FetchFailure and leaves both tiers untouched.
//
// Cancelling ctx abandons the wait but not an in-flight fill, which still
// completes and caches its result for later callers.
func (c *Cache) Resolve(ctx context.Context, status core.StatusCode) (*core.MediaRef, error) {
	if ref, ok := c.Peek(status); ok {
		observability.CacheHits.WithLabelValues(observability.TierMemory).Inc()
		return ref, nil
	}

	ref, err := c.store.Get(ctx, status)
	switch {
	case err == nil:
		c.remember(status, ref)
		observability.CacheHits.WithLabelValues(observability.TierDurable).Inc()
		return ref.Clone(), nil
	case !errors.Is(err, core.ErrNotFound):
		return nil, fmt.Errorf("read durable tier for %d: %w", status, err)
	}

	fillCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(status.String(), func() (any, error) {
		if c.serial {
			c.fillMu.Lock()
			defer c.fillMu.Unlock()
		}
		return c.fill(fillCtx, status)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*core.MediaRef).Clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fill runs inside the flight for status.
func (c *Cache) fill(ctx context.Context, status core.StatusCode) (*core.MediaRef, error) {
	// Another flight may have finished between the tier lookups and this one.
	if ref, ok := c.Peek(status); ok {
		return ref, nil
	}

	observability.CatFetches.Inc()
	data, err := c.source.Fetch(ctx, status)
	if err != nil {
		observability.CatFetchFailures.WithLabelValues(observability.StageFetch).Inc()
		if ff, ok := core.AsFetchFailure(err); ok {
			slog.Warn("cat fetch failed",
				"request_id", core.RequestID(ctx),
				"status", int(status),
				"upstream_status", ff.UpstreamStatus,
			)
			return nil, err
		}
		return nil, fmt.Errorf("fetch cat %d: %w", status, err)
	}

	info, err := catfetch.Probe(data)
	if err != nil {
		observability.CatFetchFailures.WithLabelValues(observability.StageDecode).Inc()
		return nil, fmt.Errorf("decode cat %d: %w", status, err)
	}
	filename := catfetch.Filename(status, info.MimeType)

	start := time.Now()
	url, err := c.uploader.UploadMedia(ctx, data, info.MimeType, filename)
	observability.UploadDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		observability.CatFetchFailures.WithLabelValues(observability.StageUpload).Inc()
		return nil, fmt.Errorf("upload cat %d: %w", status, err)
	}

	ref := core.NewMediaRef(filename, url, info)

	c.writeMu.Lock()
	err = c.store.Put(ctx, status, ref)
	c.writeMu.Unlock()
	if err != nil {
		observability.CatFetchFailures.WithLabelValues(observability.StageStore).Inc()
		return nil, fmt.Errorf("persist cat %d: %w", status, err)
	}
	c.remember(status, ref)

	slog.Info("cat uploaded",
		"request_id", core.RequestID(ctx),
		"status", int(status),
		"url", url,
		"mimetype", info.MimeType,
		"size", info.Size,
		"digest", fmt.Sprintf("%016x", xxhash.Sum64(data)),
		"upload_ms", time.Since(start).Milliseconds(),
	)
	return ref.Clone(), nil
}

func (c *Cache) remember(status core.StatusCode, ref *core.MediaRef) {
	c.mu.Lock()
	c.memory[status] = ref.Clone()
	c.mu.Unlock()
}

// Peek looks status up in the memory tier only.
func (c *Cache) Peek(status core.StatusCode) (*core.MediaRef, bool) {
	c.mu.RLock()
	ref, ok := c.memory[status]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return ref.Clone(), true
}

// Len returns the number of entries in the memory tier.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.memory)
}

// Warm copies every durable entry into the memory tier and returns how many
// entries were loaded.
func (c *Cache) Warm(ctx context.Context) (int, error) {
	entries, err := c.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list durable tier: %w", err)
	}
	c.mu.Lock()
	for _, e := range entries {
		c.memory[e.Status] = e.Ref.Clone()
	}
	c.mu.Unlock()
	slog.Info("cat cache warmed", "entries", len(entries))
	return len(entries), nil
}

// Entries lists the durable tier.
func (c *Cache) Entries(ctx context.Context) ([]cache.Entry, error) {
	return c.store.List(ctx)
}
