package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/previewkit/ogpipe/internal/ogimage"
	"github.com/previewkit/ogpipe/internal/optioncache"
	"github.com/previewkit/ogpipe/internal/progress"
	pubmemory "github.com/previewkit/ogpipe/internal/publisher/memory"
	"github.com/previewkit/ogpipe/internal/rules"
	"github.com/previewkit/ogpipe/internal/storage/memory"
)

type fakeBackend struct {
	mu       sync.Mutex
	failFor  map[string]bool
	panicFor map[string]bool
	captured []ogimage.CaptureOptions
	closed   bool
}

func (b *fakeBackend) Capture(_ context.Context, opts ogimage.CaptureOptions) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.captured = append(b.captured, opts)
	key := opts.URL
	if key == "" {
		key = "html"
	}
	for route := range b.panicFor {
		if key == "http://preview.local"+route {
			panic("capture exploded")
		}
	}
	for route, fail := range b.failFor {
		if fail && key == "http://preview.local"+route {
			return nil, errors.New("capture failed")
		}
	}
	return []byte("png"), nil
}

func (b *fakeBackend) Close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

type fakePreview struct {
	mu      sync.Mutex
	starts  int
	stopped bool
	err     error
}

func (p *fakePreview) Start() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.starts++
	if p.err != nil {
		return "", p.err
	}
	return "http://preview.local", nil
}

func (p *fakePreview) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	return nil
}

type fakeFetcher struct {
	pages map[string]string
	calls []string
}

func (f *fakeFetcher) FetchHTML(_ context.Context, url string) (string, error) {
	f.calls = append(f.calls, url)
	html, ok := f.pages[url]
	if !ok {
		return "", fmt.Errorf("no page for %s", url)
	}
	return html, nil
}

type failingInstaller struct{ called bool }

func (i *failingInstaller) EnsureInstalled(context.Context) error {
	i.called = true
	return errors.New("exit status 1")
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *recordingEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *recordingEmitter) byStage(stage progress.Stage) []progress.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []progress.Event
	for _, evt := range e.events {
		if evt.Stage == stage {
			out = append(out, evt)
		}
	}
	return out
}

type harness struct {
	orch      *Orchestrator
	backend   *fakeBackend
	preview   *fakePreview
	fetcher   *fakeFetcher
	store     *memory.BlobStore
	publisher *pubmemory.Publisher
	emitter   *recordingEmitter
}

func directivePage(payload string) string {
	return `<!DOCTYPE html><html><head><script type="application/json" data-og-image>` +
		payload + `</script></head><body></body></html>`
}

func newHarness(t *testing.T, cfg Config, overlays []ogimage.Overlay) *harness {
	t.Helper()
	h := &harness{
		backend:   &fakeBackend{failFor: map[string]bool{}, panicFor: map[string]bool{}},
		preview:   &fakePreview{},
		fetcher:   &fakeFetcher{pages: map[string]string{}},
		store:     memory.NewBlobStore(),
		publisher: pubmemory.New(),
		emitter:   &recordingEmitter{},
	}
	resolver := rules.NewResolver(overlays, rules.Defaults{
		Provider: ogimage.ProviderBrowser, Width: 1200, Height: 630,
	})
	h.orch = New(cfg, Deps{
		Resolver:  resolver,
		Cache:     optioncache.New(optioncache.Config{}),
		Browser:   func(context.Context) (CaptureBackend, error) { return h.backend, nil },
		Preview:   h.preview,
		Fetcher:   h.fetcher,
		Store:     h.store,
		Publisher: h.publisher,
		Emitter:   h.emitter,
		Logger:    zap.NewNop(),
	})
	return h
}

func TestCollectQueuesEligibleJobs(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{FullExport: true}, nil)
	h.orch.OnPageRendered("/a", directivePage(`{"static":true}`))
	h.orch.OnPageRendered("/b", "<!DOCTYPE html><html><body>no directive</body></html>")
	h.orch.OnPageRendered("/c", directivePage(`{"provider":"vector"}`))
	h.orch.OnPageRendered("/sitemap.xml", directivePage(`{"static":true}`))

	// /a and /b use the browser provider under a full export; /c selects
	// the vector backend; the dot path never resolves.
	assert.Equal(t, 2, h.orch.QueueLen())
}

func TestCollectStaticOnlyOutsideFullExport(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{FullExport: false}, nil)
	h.orch.OnPageRendered("/static-page", directivePage(`{"static":true}`))
	h.orch.OnPageRendered("/dynamic-page", directivePage(`{}`))

	assert.Equal(t, 1, h.orch.QueueLen())
}

func TestCollectSkipsDisabledRoutes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{FullExport: true}, []ogimage.Overlay{
		{Pattern: "/internal/*", Disabled: true},
	})
	h.orch.OnPageRendered("/internal/admin", directivePage(`{"static":true}`))
	assert.Zero(t, h.orch.QueueLen())
}

func TestDrainIsolatesFailures(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{FullExport: true}, nil)
	h.backend.failFor["/a"] = true
	h.orch.OnPageRendered("/a", directivePage(`{"static":true}`))
	h.orch.OnPageRendered("/b", directivePage(`{"static":true}`))

	err := h.orch.OnBuildComplete(context.Background())
	require.NoError(t, err, "one failing capture must not surface as a drain error")

	_, err = h.store.Get(context.Background(), "b/__og_image__/og.png")
	assert.NoError(t, err, "the healthy job's image must exist")
	_, err = h.store.Get(context.Background(), "a/__og_image__/og.png")
	assert.Error(t, err, "the failed job must not leave an artifact")

	captures := h.emitter.byStage(progress.StageCaptureDone)
	require.Len(t, captures, 2, "one progress line per job regardless of outcome")
	assert.Equal(t, progress.ResultFailed, captures[0].Result)
	assert.Equal(t, progress.ResultOK, captures[1].Result)
	assert.Equal(t, 100, captures[1].Percent)

	done := h.emitter.byStage(progress.StageBatchDone)
	require.Len(t, done, 1)
	assert.Equal(t, 2, done[0].Total)
	assert.Equal(t, 1, done[0].Failed)

	assert.True(t, h.backend.closed, "browser torn down")
	assert.True(t, h.preview.stopped, "preview server torn down")
	assert.Equal(t, []string{"/b"}, h.publisher.Routes(), "only successful captures publish events")
}

func TestDrainTeardownOnPanic(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{FullExport: true}, nil)
	h.backend.panicFor["/boom"] = true
	h.orch.OnPageRendered("/boom", directivePage(`{"static":true}`))

	require.Panics(t, func() {
		_ = h.orch.OnBuildComplete(context.Background())
	})
	assert.True(t, h.backend.closed, "browser must close even when the capture pass panics")
	assert.True(t, h.preview.stopped, "preview server must stop even when the capture pass panics")
	assert.Zero(t, h.orch.QueueLen(), "queue ownership transferred before the capture pass")
}

func TestDrainCompletesStubJobs(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{FullExport: true}, nil)
	h.fetcher.pages["http://preview.local/lazy"] = directivePage(`{"width":800,"static":true}`)
	h.orch.EnqueueRoute("/lazy")

	require.NoError(t, h.orch.OnBuildComplete(context.Background()))

	_, err := h.store.Get(context.Background(), "lazy/__og_image__/og.png")
	require.NoError(t, err)
	require.NotEmpty(t, h.backend.captured)
	assert.Equal(t, 800, h.backend.captured[0].Width, "directive extracted during completion pass")
}

func TestDrainStubFetchFailureIsIsolated(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{FullExport: true}, nil)
	h.orch.EnqueueRoute("/missing")
	h.fetcher.pages["http://preview.local/ok"] = directivePage(`{}`)
	h.orch.EnqueueRoute("/ok")

	require.NoError(t, h.orch.OnBuildComplete(context.Background()))

	_, err := h.store.Get(context.Background(), "ok/__og_image__/og.png")
	assert.NoError(t, err)
	done := h.emitter.byStage(progress.StageBatchDone)
	require.Len(t, done, 1)
	assert.Equal(t, 1, done[0].Failed)
}

func TestDrainAttachesComponentMarkup(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{FullExport: true}, nil)
	h.fetcher.pages["http://preview.local/card"] = "<!DOCTYPE html><html><body>card page</body></html>"
	h.orch.OnPageRendered("/card", directivePage(`{"component":"BlogCard","static":true}`))

	require.NoError(t, h.orch.OnBuildComplete(context.Background()))

	require.NotEmpty(t, h.backend.captured)
	assert.Contains(t, h.backend.captured[0].HTML, "card page")
	assert.Empty(t, h.backend.captured[0].URL, "injected markup replaces navigation")
}

func TestDrainEmptyQueueIsNoOp(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{FullExport: true}, nil)
	require.NoError(t, h.orch.OnBuildComplete(context.Background()))
	assert.Zero(t, h.preview.starts, "no subprocesses for an empty queue")
}

func TestSecondDrainIsNoOp(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{FullExport: true}, nil)
	h.orch.OnPageRendered("/a", directivePage(`{"static":true}`))

	require.NoError(t, h.orch.OnBuildComplete(context.Background()))
	require.NoError(t, h.orch.OnBuildComplete(context.Background()))
	assert.Equal(t, 1, h.preview.starts, "queue drains at most meaningfully once per build")
}

func TestDevModeNeverDrains(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{FullExport: true, Dev: true}, nil)
	h.orch.OnPageRendered("/a", directivePage(`{"static":true}`))
	require.NoError(t, h.orch.OnBuildComplete(context.Background()))
	assert.Zero(t, h.preview.starts)
}

func TestInstallerFailureDoesNotAbortDrain(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{FullExport: true}, nil)
	installer := &failingInstaller{}
	h.orch.deps.Installer = installer
	h.orch.OnPageRendered("/a", directivePage(`{"static":true}`))

	require.NoError(t, h.orch.OnBuildComplete(context.Background()))
	assert.True(t, installer.called)
	_, err := h.store.Get(context.Background(), "a/__og_image__/og.png")
	assert.NoError(t, err, "drain proceeds optimistically after install failure")
}

func TestPreviewStartFailureSurfaces(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{FullExport: true}, nil)
	h.preview.err = errors.New("port in use")
	h.orch.OnPageRendered("/a", directivePage(`{"static":true}`))

	err := h.orch.OnBuildComplete(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "preview server")

	// The batch was announced, so it must also be closed out.
	done := h.emitter.byStage(progress.StageBatchDone)
	require.Len(t, done, 1)
	assert.Equal(t, progress.ResultFailed, done[0].Result)
	assert.Equal(t, 1, done[0].Total)
	assert.Equal(t, 1, done[0].Failed)
}

func TestBrowserLaunchFailureClosesOutBatch(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{FullExport: true}, nil)
	h.orch.deps.Browser = func(context.Context) (CaptureBackend, error) {
		return nil, errors.New("chrome not found")
	}
	h.orch.OnPageRendered("/a", directivePage(`{"static":true}`))

	err := h.orch.OnBuildComplete(context.Background())
	require.Error(t, err)
	assert.True(t, h.preview.stopped, "preview server torn down after launch failure")

	done := h.emitter.byStage(progress.StageBatchDone)
	require.Len(t, done, 1)
	assert.Equal(t, progress.ResultFailed, done[0].Result)
	assert.Contains(t, done[0].Note, "chrome not found")
}

func TestMergeCaptureDefaults(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{FullExport: true, DefaultWidth: 1200, DefaultHeight: 630, CaptureTimeout: 10 * time.Second}, nil)
	merged := h.orch.mergeCapture(&ogimage.ImageOptions{Route: "/a"}, "http://preview.local")
	assert.Equal(t, "http://preview.local/a", merged.URL)
	assert.Equal(t, 1200, merged.Width)
	assert.Equal(t, 630, merged.Height)
	assert.Equal(t, 10*time.Second, merged.Timeout)
}

func TestCollectWritesOptionCache(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{FullExport: true}, nil)
	h.orch.OnPageRendered("/a", directivePage(`{"width":900,"static":true}`))

	cached, ok := h.orch.deps.Cache.Get("/a")
	require.True(t, ok)
	assert.Equal(t, 900, cached.Width)
	assert.True(t, cached.Static)
}
