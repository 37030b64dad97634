// Package orchestrator drives the batch screenshot pipeline: it collects
// image-generation jobs while the site builds, then drains them once the
// build completes, managing the browser and preview-server subprocesses.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/previewkit/ogpipe/internal/clock/system"
	"github.com/previewkit/ogpipe/internal/extractor"
	"github.com/previewkit/ogpipe/internal/ogimage"
	"github.com/previewkit/ogpipe/internal/optioncache"
	"github.com/previewkit/ogpipe/internal/progress"
	"github.com/previewkit/ogpipe/internal/rules"
)

// PreviewServer is the static file server subprocess serving the build
// output during a drain.
type PreviewServer interface {
	Start() (string, error)
	Stop() error
}

// CaptureBackend is a launched browser that can capture jobs and be torn
// down afterwards.
type CaptureBackend interface {
	ogimage.Capturer
	Close(ctx context.Context) error
}

// BrowserFactory launches the capture backend at drain time, so no browser
// runs while the site is still building.
type BrowserFactory func(ctx context.Context) (CaptureBackend, error)

// Config controls orchestrator behavior.
type Config struct {
	// FullExport marks a full static export; browser-provider jobs are
	// eligible unconditionally in that mode, otherwise only when static.
	FullExport bool
	// Dev disables draining entirely.
	Dev bool
	// Topic names the completion-event topic.
	Topic string
	// CaptureTimeout bounds one capture including navigation.
	CaptureTimeout time.Duration
	// DefaultWidth and DefaultHeight fill job fields left at zero when
	// capture configuration is merged.
	DefaultWidth  int
	DefaultHeight int
}

// Deps wires the orchestrator's collaborators.
type Deps struct {
	Resolver  *rules.Resolver
	Cache     *optioncache.Cache
	Browser   BrowserFactory
	Preview   PreviewServer
	Installer Installer
	Fetcher   ogimage.Fetcher
	Store     ogimage.BlobStore
	Publisher ogimage.Publisher
	Emitter   progress.Emitter
	Clock     ogimage.Clock
	Logger    *zap.Logger
}

// Orchestrator owns the job queue. Collection and drain phases are
// temporally disjoint: the build appends, the drain takes ownership of
// the collected jobs and empties the queue.
type Orchestrator struct {
	cfg  Config
	deps Deps

	mu   sync.Mutex
	jobs []*ogimage.ScreenshotJob
}

// New constructs an Orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.CaptureTimeout <= 0 {
		cfg.CaptureTimeout = 25 * time.Second
	}
	if cfg.DefaultWidth <= 0 {
		cfg.DefaultWidth = 1200
	}
	if cfg.DefaultHeight <= 0 {
		cfg.DefaultHeight = 630
	}
	if cfg.Topic == "" {
		cfg.Topic = "og-images"
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Orchestrator{cfg: cfg, deps: deps}
}

// OnPageRendered is the collection boundary: the host framework calls it
// with each page's route and rendered markup. Options are resolved and
// cached, and eligible jobs are queued for the post-build drain.
func (o *Orchestrator) OnPageRendered(route, markup string) {
	if rules.Excluded(route) {
		return
	}

	var directive *ogimage.Directive
	if d, ok := extractor.Extract(markup); ok {
		directive = &d
	}

	opts, ok := o.deps.Resolver.Resolve(route, directive)
	if !ok {
		return
	}
	o.deps.Cache.Store(opts)

	if !o.eligible(opts) {
		return
	}
	o.append(&ogimage.ScreenshotJob{Route: opts.Route, Options: &opts, Status: ogimage.JobPending})
}

// EnqueueRoute queues a route-only stub to be completed during the drain
// by fetching its HTML from the preview server. Used for prerendered
// routes whose markup is not available at collection time.
func (o *Orchestrator) EnqueueRoute(route string) {
	if o.cfg.Dev || rules.Excluded(route) {
		return
	}
	o.append(&ogimage.ScreenshotJob{Route: route, Status: ogimage.JobPending})
}

// QueueLen reports the number of currently queued jobs.
func (o *Orchestrator) QueueLen() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.jobs)
}

// Eligibility is decided once, at collection time.
func (o *Orchestrator) eligible(opts ogimage.ImageOptions) bool {
	if o.cfg.Dev {
		return false
	}
	if opts.Provider != ogimage.ProviderBrowser {
		return false
	}
	return o.cfg.FullExport || opts.Static
}

func (o *Orchestrator) append(job *ogimage.ScreenshotJob) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.jobs = append(o.jobs, job)
}

// take transfers ownership of all queued jobs to the caller and empties
// the queue, making a second drain on the same build a cheap no-op.
func (o *Orchestrator) take() []*ogimage.ScreenshotJob {
	o.mu.Lock()
	defer o.mu.Unlock()
	jobs := o.jobs
	o.jobs = nil
	return jobs
}

// OnBuildComplete is the drain boundary. It is invoked from both the
// pre-bundle and post-close build signals; whichever arrives first drains
// the queue, the other finds it empty. Development mode never drains.
func (o *Orchestrator) OnBuildComplete(ctx context.Context) error {
	if o.cfg.Dev {
		o.deps.Logger.Debug("dev mode, skipping screenshot drain")
		return nil
	}
	jobs := o.take()
	if len(jobs) == 0 {
		return nil
	}

	batchID := progress.UUIDToBytes(uuid.New())
	batchStart := o.deps.Clock.Now()
	o.emit(progress.Event{
		BatchID: batchID,
		TS:      batchStart.UTC(),
		Stage:   progress.StageBatchStart,
		Total:   len(jobs),
	})
	o.deps.Logger.Info("draining screenshot queue", zap.Int("jobs", len(jobs)))

	// The dependency may already be installed, so a failed installer is
	// logged and the drain proceeds optimistically.
	if o.deps.Installer != nil {
		if err := o.deps.Installer.EnsureInstalled(ctx); err != nil {
			o.deps.Logger.Error("browser dependency install failed", zap.Error(err))
		}
	}

	baseURL, err := o.deps.Preview.Start()
	if err != nil {
		o.emitAborted(batchID, batchStart, len(jobs), err)
		return fmt.Errorf("start preview server: %w", err)
	}
	defer func() {
		if stopErr := o.deps.Preview.Stop(); stopErr != nil {
			o.deps.Logger.Warn("stop preview server", zap.Error(stopErr))
		}
	}()

	backend, err := o.deps.Browser(ctx)
	if err != nil {
		o.emitAborted(batchID, batchStart, len(jobs), err)
		return fmt.Errorf("launch browser: %w", err)
	}
	defer func() {
		if closeErr := backend.Close(ctx); closeErr != nil {
			o.deps.Logger.Warn("close browser", zap.Error(closeErr))
		}
	}()

	o.completeJobs(ctx, jobs, baseURL)
	failed := o.captureJobs(ctx, backend, jobs, baseURL, batchID)

	result := progress.ResultOK
	if failed > 0 {
		result = progress.ResultFailed
	}
	o.emit(progress.Event{
		BatchID: batchID,
		TS:      o.deps.Clock.Now().UTC(),
		Stage:   progress.StageBatchDone,
		Result:  result,
		Dur:     o.deps.Clock.Now().Sub(batchStart),
		Total:   len(jobs),
		Failed:  failed,
	})
	o.deps.Logger.Info("screenshot queue drained",
		zap.Int("total", len(jobs)), zap.Int("failed", failed))
	return nil
}

// emitAborted closes out a batch that never reached its capture pass, so
// downstream sinks see a terminal event for every started batch.
func (o *Orchestrator) emitAborted(batchID [16]byte, batchStart time.Time, total int, cause error) {
	o.emit(progress.Event{
		BatchID: batchID,
		TS:      o.deps.Clock.Now().UTC(),
		Stage:   progress.StageBatchDone,
		Result:  progress.ResultFailed,
		Dur:     o.deps.Clock.Now().Sub(batchStart),
		Total:   total,
		Failed:  total,
		Note:    cause.Error(),
	})
}

// completeJobs fills in stub jobs by fetching their HTML from the preview
// server, and attaches page markup to component-backed jobs. Each job's
// failure is isolated.
func (o *Orchestrator) completeJobs(ctx context.Context, jobs []*ogimage.ScreenshotJob, baseURL string) {
	for _, job := range jobs {
		if job.Stub() {
			if err := o.completeStub(ctx, job, baseURL); err != nil {
				job.Status = ogimage.JobFailed
				job.Err = err
				o.deps.Logger.Error("complete job options",
					zap.String("route", job.Route), zap.Error(err))
				continue
			}
		}
		if job.Options.Component != "" && job.Options.HTML == "" {
			html, err := o.deps.Fetcher.FetchHTML(ctx, baseURL+job.Route)
			if err != nil {
				job.Status = ogimage.JobFailed
				job.Err = fmt.Errorf("fetch page markup: %w", err)
				o.deps.Logger.Error("fetch page markup",
					zap.String("route", job.Route), zap.Error(err))
				continue
			}
			job.Options.HTML = html
		}
	}
}

func (o *Orchestrator) completeStub(ctx context.Context, job *ogimage.ScreenshotJob, baseURL string) error {
	html, err := o.deps.Fetcher.FetchHTML(ctx, baseURL+job.Route)
	if err != nil {
		return fmt.Errorf("fetch route html: %w", err)
	}
	var directive *ogimage.Directive
	if d, ok := extractor.Extract(html); ok {
		directive = &d
	}
	opts, ok := o.deps.Resolver.Resolve(job.Route, directive)
	if !ok {
		return fmt.Errorf("route resolved to skip")
	}
	job.Options = &opts
	return nil
}

// captureJobs runs the capture pass strictly sequentially: one shared
// browser instance, each job awaited to completion before the next, with
// ordered per-job progress output. Returns the failure count.
func (o *Orchestrator) captureJobs(
	ctx context.Context,
	backend CaptureBackend,
	jobs []*ogimage.ScreenshotJob,
	baseURL string,
	batchID [16]byte,
) int {
	failed := 0
	for i, job := range jobs {
		if job.Status != ogimage.JobFailed {
			o.captureOne(ctx, backend, job, baseURL)
		}
		if job.Status == ogimage.JobFailed {
			failed++
		}

		percent := (i + 1) * 100 / len(jobs)
		evt := progress.Event{
			BatchID: batchID,
			TS:      o.deps.Clock.Now().UTC(),
			Stage:   progress.StageCaptureDone,
			Route:   job.Route,
			Result:  progress.ResultOK,
			Dur:     job.Duration,
			Percent: percent,
			Total:   len(jobs),
			Failed:  failed,
		}
		if job.Status == ogimage.JobFailed {
			evt.Result = progress.ResultFailed
			if job.Err != nil {
				evt.Note = job.Err.Error()
			}
		}
		o.emit(evt)
	}
	return failed
}

// captureOne executes a single capture job. Errors are recorded on the
// job; they never abort the batch.
func (o *Orchestrator) captureOne(ctx context.Context, backend CaptureBackend, job *ogimage.ScreenshotJob, baseURL string) {
	merged := o.mergeCapture(job.Options, baseURL)

	start := o.deps.Clock.Now()
	data, err := backend.Capture(ctx, merged)
	job.Duration = o.deps.Clock.Now().Sub(start)
	if err != nil {
		job.Status = ogimage.JobFailed
		job.Err = err
		o.deps.Logger.Error("capture failed",
			zap.String("route", job.Route), zap.Duration("dur", job.Duration), zap.Error(err))
		return
	}

	outPath := job.Options.Path
	if outPath == "" {
		outPath = rules.OutputPath(job.Route)
	}
	uri, err := o.deps.Store.Put(ctx, outPath, "image/png", data)
	if err != nil {
		job.Status = ogimage.JobFailed
		job.Err = fmt.Errorf("write image: %w", err)
		o.deps.Logger.Error("write image",
			zap.String("route", job.Route), zap.Error(err))
		return
	}
	job.Status = ogimage.JobDone

	if o.deps.Publisher != nil {
		payload := map[string]any{
			"route":       job.Route,
			"uri":         uri,
			"duration_ms": job.Duration.Milliseconds(),
		}
		if _, err := o.deps.Publisher.Publish(ctx, o.cfg.Topic, payload); err != nil {
			o.deps.Logger.Warn("publish image event",
				zap.String("route", job.Route), zap.Error(err))
		}
	}
}

// mergeCapture folds global capture defaults under the job's resolved
// fields.
func (o *Orchestrator) mergeCapture(opts *ogimage.ImageOptions, baseURL string) ogimage.CaptureOptions {
	merged := ogimage.CaptureOptions{
		HTML:    opts.HTML,
		Width:   opts.Width,
		Height:  opts.Height,
		Timeout: o.cfg.CaptureTimeout,
	}
	if merged.Width <= 0 {
		merged.Width = o.cfg.DefaultWidth
	}
	if merged.Height <= 0 {
		merged.Height = o.cfg.DefaultHeight
	}
	if merged.HTML == "" {
		merged.URL = baseURL + opts.Route
	}
	return merged
}

func (o *Orchestrator) emit(evt progress.Event) {
	if o.deps.Emitter == nil {
		return
	}
	o.deps.Emitter.Emit(evt)
}
