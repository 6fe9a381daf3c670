package catcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"httpcat/internal/cache"
	"httpcat/internal/catfetch"
	"httpcat/internal/core"
	"httpcat/internal/observability"
	"httpcat/internal/pluginconfig"
)

func jpegBytes(t testing.TB) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 750, 600)), nil))
	return buf.Bytes()
}

// fakeSource serves the same JPEG for every status unless a failure is set.
type fakeSource struct {
	data     []byte
	calls    atomic.Int32
	failures map[core.StatusCode]int
	err      error

	// release, when set, blocks every fetch until it is closed.
	release chan struct{}

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	// overlap, when set, makes a fetch wait up to this long for another
	// fetch to start.
	overlap time.Duration
}

func (s *fakeSource) Fetch(ctx context.Context, status core.StatusCode) ([]byte, error) {
	s.calls.Add(1)
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		m := s.maxInFlight.Load()
		if n <= m || s.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	if s.release != nil {
		<-s.release
	}
	if s.overlap > 0 {
		deadline := time.Now().Add(s.overlap)
		for s.inFlight.Load() < 2 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
	}

	if upstream, ok := s.failures[status]; ok {
		return nil, core.NewFetchFailure(status, upstream, fmt.Errorf("upstream said %d", upstream))
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.data, nil
}

type fakeUploader struct {
	mu        sync.Mutex
	calls     int
	filenames []string
	mimeTypes []string
	err       error
}

func (u *fakeUploader) UploadMedia(_ context.Context, _ []byte, mimeType, filename string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return "", u.err
	}
	u.calls++
	u.filenames = append(u.filenames, filename)
	u.mimeTypes = append(u.mimeTypes, mimeType)
	return fmt.Sprintf("mxc://example.org/cat%d", u.calls), nil
}

// failingStore fails every Put.
type failingStore struct {
	cache.Store
}

func (failingStore) Put(context.Context, core.StatusCode, *core.MediaRef) error {
	return errors.New("disk full")
}

func newTestCache(t *testing.T, store cache.Store, source core.ImageSource, uploader core.MediaUploader, opts Options) *Cache {
	t.Helper()
	c, err := New(store, source, uploader, opts)
	require.NoError(t, err)
	return c
}

func TestNew_RequiresCollaborators(t *testing.T) {
	store := cache.NewMemoryStore()
	source := &fakeSource{}
	uploader := &fakeUploader{}

	_, err := New(nil, source, uploader, Options{})
	require.Error(t, err)
	_, err = New(store, nil, uploader, Options{})
	require.Error(t, err)
	_, err = New(store, source, nil, Options{})
	require.Error(t, err)
}

func TestResolve_Idempotent(t *testing.T) {
	source := &fakeSource{data: jpegBytes(t)}
	c := newTestCache(t, cache.NewMemoryStore(), source, &fakeUploader{}, Options{})
	ctx := context.Background()

	first, err := c.Resolve(ctx, 200)
	require.NoError(t, err)
	second, err := c.Resolve(ctx, 200)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), source.calls.Load())
}

func TestResolve_BuildsMediaRef(t *testing.T) {
	source := &fakeSource{data: jpegBytes(t)}
	uploader := &fakeUploader{}
	c := newTestCache(t, cache.NewMemoryStore(), source, uploader, Options{})

	ref, err := c.Resolve(context.Background(), 404)
	require.NoError(t, err)

	assert.Equal(t, core.MessageTypeImage, ref.MsgType)
	assert.Equal(t, "404.jpg", ref.Body)
	assert.Equal(t, "mxc://example.org/cat1", ref.URL)
	assert.Equal(t, "image/jpeg", ref.Info.MimeType)
	assert.Equal(t, len(source.data), ref.Info.Size)
	assert.Equal(t, 750, ref.Info.Width)
	assert.Equal(t, 600, ref.Info.Height)

	assert.Equal(t, []string{"404.jpg"}, uploader.filenames)
	assert.Equal(t, []string{"image/jpeg"}, uploader.mimeTypes)
}

func TestResolve_SingleFlight(t *testing.T) {
	for _, serial := range []bool{false, true} {
		t.Run(fmt.Sprintf("serial=%v", serial), func(t *testing.T) {
			source := &fakeSource{data: jpegBytes(t), release: make(chan struct{})}
			c := newTestCache(t, cache.NewMemoryStore(), source, &fakeUploader{}, Options{Serial: serial})

			const n = 32
			results := make([]*core.MediaRef, n)
			errs := make([]error, n)
			var wg sync.WaitGroup
			for i := range n {
				wg.Add(1)
				go func() {
					defer wg.Done()
					results[i], errs[i] = c.Resolve(context.Background(), 503)
				}()
			}

			time.Sleep(50 * time.Millisecond)
			close(source.release)
			wg.Wait()

			assert.Equal(t, int32(1), source.calls.Load())
			for i := range n {
				require.NoError(t, errs[i])
				assert.Equal(t, results[0], results[i])
			}
		})
	}
}

func TestResolve_DistinctCodesFetchConcurrently(t *testing.T) {
	tests := []struct {
		serial      bool
		maxInFlight int32
	}{
		{serial: false, maxInFlight: 2},
		{serial: true, maxInFlight: 1},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("serial=%v", tt.serial), func(t *testing.T) {
			source := &fakeSource{data: jpegBytes(t), overlap: 200 * time.Millisecond}
			c := newTestCache(t, cache.NewMemoryStore(), source, &fakeUploader{}, Options{Serial: tt.serial})

			var wg sync.WaitGroup
			for _, status := range []core.StatusCode{500, 501} {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := c.Resolve(context.Background(), status)
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			assert.Equal(t, int32(2), source.calls.Load())
			assert.Equal(t, tt.maxInFlight, source.maxInFlight.Load())
			assert.Equal(t, 2, c.Len())
		})
	}
}

func TestResolve_DurabilityRoundTrip(t *testing.T) {
	store := cache.NewMemoryStore()
	source := &fakeSource{data: jpegBytes(t)}

	first := newTestCache(t, store, source, &fakeUploader{}, Options{})
	want, err := first.Resolve(context.Background(), 404)
	require.NoError(t, err)

	// A new Cache over the same store models a process restart.
	restarted := newTestCache(t, store, source, &fakeUploader{}, Options{})
	assert.Equal(t, 0, restarted.Len())

	got, err := restarted.Resolve(context.Background(), 404)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, int32(1), source.calls.Load())
	assert.Equal(t, 1, restarted.Len(), "durable hit should populate the memory tier")
}

func TestResolve_FetchFailureWritesNothing(t *testing.T) {
	store := cache.NewMemoryStore()
	source := &fakeSource{data: jpegBytes(t), failures: map[core.StatusCode]int{999: http.StatusInternalServerError}}
	uploader := &fakeUploader{}
	c := newTestCache(t, store, source, uploader, Options{})

	ref, err := c.Resolve(context.Background(), 999)
	require.Error(t, err)
	assert.Nil(t, ref)

	ff, ok := core.AsFetchFailure(err)
	require.True(t, ok, "expected FetchFailure, got %T", err)
	assert.Equal(t, core.StatusCode(999), ff.Status)
	assert.Equal(t, 500, ff.UpstreamStatus)
	assert.Equal(t, "Failed to get 🐈️ for HTTP 999: HTTP 500", err.Error())

	_, ok = c.Peek(999)
	assert.False(t, ok)
	_, err = store.Get(context.Background(), 999)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Zero(t, uploader.calls)
}

func TestResolve_FailureIsNotCached(t *testing.T) {
	source := &fakeSource{data: jpegBytes(t), err: errors.New("connection reset")}
	c := newTestCache(t, cache.NewMemoryStore(), source, &fakeUploader{}, Options{})

	_, err := c.Resolve(context.Background(), 502)
	require.Error(t, err)
	assert.False(t, core.IsFetchFailure(err))

	source.err = nil
	_, err = c.Resolve(context.Background(), 502)
	require.NoError(t, err)
	assert.Equal(t, int32(2), source.calls.Load())
}

func TestResolve_UndecodableImage(t *testing.T) {
	store := cache.NewMemoryStore()
	uploader := &fakeUploader{}
	c := newTestCache(t, store, &fakeSource{data: []byte("<html>")}, uploader, Options{})

	_, err := c.Resolve(context.Background(), 200)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode cat 200")
	assert.Zero(t, uploader.calls)
	assert.Equal(t, 0, c.Len())
}

func TestResolve_UploadFailureWritesNothing(t *testing.T) {
	store := cache.NewMemoryStore()
	c := newTestCache(t, store, &fakeSource{data: jpegBytes(t)}, &fakeUploader{err: errors.New("M_LIMIT_EXCEEDED")}, Options{})

	_, err := c.Resolve(context.Background(), 429)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "M_LIMIT_EXCEEDED")

	entries, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, 0, c.Len())
}

func TestResolve_StoreFailureSkipsMemoryTier(t *testing.T) {
	store := failingStore{Store: cache.NewMemoryStore()}
	c := newTestCache(t, store, &fakeSource{data: jpegBytes(t)}, &fakeUploader{}, Options{})

	_, err := c.Resolve(context.Background(), 507)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	_, ok := c.Peek(507)
	assert.False(t, ok)
}

func TestResolve_ConfigStoreSaveFailureWritesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "httpcat.yaml")
	pluginCfg, err := pluginconfig.LoadAndUpdate(path, pluginconfig.Defaults())
	require.NoError(t, err)
	store, err := cache.NewConfigStore(pluginCfg)
	require.NoError(t, err)

	// Replace the file with a non-empty directory so every save fails.
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.MkdirAll(filepath.Join(path, "occupied"), 0o755))

	source := &fakeSource{data: jpegBytes(t)}
	c := newTestCache(t, store, source, &fakeUploader{}, Options{})

	_, err = c.Resolve(context.Background(), 500)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist cat 500")

	_, err = store.Get(context.Background(), 500)
	require.ErrorIs(t, err, core.ErrNotFound)
	_, ok := c.Peek(500)
	assert.False(t, ok)

	_, err = c.Resolve(context.Background(), 500)
	require.Error(t, err)
	assert.Equal(t, int32(2), source.calls.Load(), "a failed fill must not be served later")
}

func TestResolve_CallerCancelDoesNotAbortFill(t *testing.T) {
	source := &fakeSource{data: jpegBytes(t), release: make(chan struct{})}
	c := newTestCache(t, cache.NewMemoryStore(), source, &fakeUploader{}, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Resolve(ctx, 408)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(source.release)
	require.Eventually(t, func() bool {
		_, ok := c.Peek(408)
		return ok
	}, time.Second, 5*time.Millisecond)

	_, err = c.Resolve(context.Background(), 408)
	require.NoError(t, err)
	assert.Equal(t, int32(1), source.calls.Load())
}

func TestResolve_ReturnsCopies(t *testing.T) {
	c := newTestCache(t, cache.NewMemoryStore(), &fakeSource{data: jpegBytes(t)}, &fakeUploader{}, Options{})

	ref, err := c.Resolve(context.Background(), 200)
	require.NoError(t, err)
	ref.Body = "mutated"

	again, err := c.Resolve(context.Background(), 200)
	require.NoError(t, err)
	assert.Equal(t, "200.jpg", again.Body)
}

func TestWarm(t *testing.T) {
	store := cache.NewMemoryStore()
	ctx := context.Background()
	for _, status := range []core.StatusCode{200, 404, 418} {
		require.NoError(t, store.Put(ctx, status, core.NewMediaRef(status.String()+".jpg", "mxc://example.org/"+status.String(), core.ImageInfo{MimeType: "image/jpeg"})))
	}

	source := &fakeSource{data: jpegBytes(t)}
	c := newTestCache(t, store, source, &fakeUploader{}, Options{})

	n, err := c.Warm(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, c.Len())

	ref, ok := c.Peek(418)
	require.True(t, ok)
	assert.Equal(t, "mxc://example.org/418", ref.URL)
	assert.Zero(t, source.calls.Load())
}

func TestResolve_Metrics(t *testing.T) {
	memoryHits := observability.CacheHits.WithLabelValues(observability.TierMemory)
	durableHits := observability.CacheHits.WithLabelValues(observability.TierDurable)
	fetchFailures := observability.CatFetchFailures.WithLabelValues(observability.StageFetch)

	beforeMemory := testutil.ToFloat64(memoryHits)
	beforeDurable := testutil.ToFloat64(durableHits)
	beforeFetches := testutil.ToFloat64(observability.CatFetches)
	beforeFailures := testutil.ToFloat64(fetchFailures)

	store := cache.NewMemoryStore()
	source := &fakeSource{data: jpegBytes(t), failures: map[core.StatusCode]int{599: 500}}
	c := newTestCache(t, store, source, &fakeUploader{}, Options{})
	ctx := context.Background()

	_, err := c.Resolve(ctx, 200) // fetch
	require.NoError(t, err)
	_, err = c.Resolve(ctx, 200) // memory hit
	require.NoError(t, err)
	_, err = newTestCache(t, store, source, &fakeUploader{}, Options{}).Resolve(ctx, 200) // durable hit
	require.NoError(t, err)
	_, err = c.Resolve(ctx, 599) // failed fetch
	require.Error(t, err)

	assert.InDelta(t, 1, testutil.ToFloat64(memoryHits)-beforeMemory, 0)
	assert.InDelta(t, 1, testutil.ToFloat64(durableHits)-beforeDurable, 0)
	assert.InDelta(t, 2, testutil.ToFloat64(observability.CatFetches)-beforeFetches, 0)
	assert.InDelta(t, 1, testutil.ToFloat64(fetchFailures)-beforeFailures, 0)
}

// recordingTransport answers every request with a JPEG and records the URL.
type recordingTransport struct {
	mu   sync.Mutex
	urls []string
	body []byte
}

func (rt *recordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rt.mu.Lock()
	rt.urls = append(rt.urls, req.URL.String())
	rt.mu.Unlock()
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"image/jpeg"}},
		Body:       io.NopCloser(bytes.NewReader(rt.body)),
		Request:    req,
	}, nil
}

func TestScenario_FirstRequestPersistsToPluginConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "httpcat.yaml")
	pluginCfg, err := pluginconfig.Load(path, pluginconfig.Defaults())
	require.NoError(t, err)
	require.Equal(t, "https://http.cat/{status}", pluginCfg.URL())
	require.Empty(t, pluginCfg.Cats())

	transport := &recordingTransport{body: jpegBytes(t)}
	fetcher, err := catfetch.New(&http.Client{Transport: transport}, pluginCfg.URL())
	require.NoError(t, err)

	store, err := cache.NewConfigStore(pluginCfg)
	require.NoError(t, err)
	c := newTestCache(t, store, fetcher, &fakeUploader{}, Options{})

	ref, err := c.Resolve(context.Background(), 200)
	require.NoError(t, err)
	assert.Equal(t, "200.jpg", ref.Body)
	assert.Equal(t, []string{"https://http.cat/200"}, transport.urls)

	stored, ok := pluginCfg.Cat(200)
	require.True(t, ok)
	assert.Equal(t, ref, stored)

	reloaded, err := pluginconfig.Load(path, pluginconfig.Defaults())
	require.NoError(t, err)
	persisted, ok := reloaded.Cat(200)
	require.True(t, ok, "reuploaded_cats should contain 200 on disk")
	assert.Equal(t, ref, persisted)
}

func TestScenario_PreloadedEntrySkipsFetch(t *testing.T) {
	data := pluginconfig.Defaults()
	teapot := core.NewMediaRef("418.jpg", "mxc://example.org/teapot", core.ImageInfo{
		MimeType: "image/jpeg",
		Size:     2048,
		Width:    750,
		Height:   600,
	})
	data.ReuploadedCats["418"] = *teapot

	store, err := cache.NewConfigStore(pluginconfig.New("", data))
	require.NoError(t, err)
	source := &fakeSource{data: jpegBytes(t)}
	uploader := &fakeUploader{}
	c := newTestCache(t, store, source, uploader, Options{})

	ref, err := c.Resolve(context.Background(), 418)
	require.NoError(t, err)
	assert.Equal(t, teapot, ref)
	assert.Zero(t, source.calls.Load())
	assert.Zero(t, uploader.calls)
}
