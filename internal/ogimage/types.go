package ogimage

import "time"

// Provider identifies the rendering backend for a job.
type Provider string

// Supported rendering backends.
const (
	// ProviderVector renders from a layout template without a browser.
	ProviderVector Provider = "vector"
	// ProviderBrowser captures a screenshot with a headless browser.
	ProviderBrowser Provider = "browser"
)

// EndpointSegment is the path segment under which generated images are
// addressed, both in the build output tree and on the runtime endpoint.
const EndpointSegment = "__og_image__"

// ImageOptions is the fully resolved directive for producing one image.
// Once resolved, Provider and Path are non-empty and Static never changes.
type ImageOptions struct {
	// Route is the page route the image belongs to, e.g. "/blog/post-1".
	Route string `json:"route"`
	// Path is the output path of the image relative to the build root.
	Path string `json:"path"`
	// Provider selects the rendering backend.
	Provider Provider `json:"provider"`
	Width    int      `json:"width"`
	Height   int      `json:"height"`
	// Component optionally names a template the page wants rendered
	// instead of a plain screenshot of the page itself.
	Component string `json:"component,omitempty"`
	// Static marks the image as build-time-stable.
	Static bool `json:"static"`
	// Extra carries renderer-specific fields passed through untouched.
	Extra map[string]any `json:"extra,omitempty"`
	// HTML holds pre-fetched page markup when the backend needs it.
	HTML string `json:"-"`
}

// Directive is the raw per-page payload extracted from rendered markup,
// before overlays and defaults are applied. Nil pointer fields mean the
// page did not set that field.
type Directive struct {
	Provider  *Provider      `json:"provider,omitempty"`
	Width     *int           `json:"width,omitempty"`
	Height    *int           `json:"height,omitempty"`
	Component *string        `json:"component,omitempty"`
	Static    *bool          `json:"static,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// Overlay is a partial ImageOptions scoped to a route pattern. Nil fields
// leave the underlying value untouched; Disabled short-circuits resolution
// for every route the pattern matches.
type Overlay struct {
	Pattern   string
	Provider  *Provider
	Width     *int
	Height    *int
	Component *string
	Static    *bool
	Disabled  bool
	Extra     map[string]any
}

// JobStatus tracks the lifecycle of one screenshot job during a drain.
type JobStatus string

// Job status values reported per capture.
const (
	JobPending JobStatus = "pending"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// ScreenshotJob is one element of the orchestrator's queue. A job either
// starts fully resolved or as a route-only stub completed during drain.
type ScreenshotJob struct {
	Route    string
	Options  *ImageOptions // nil until the completion pass for stubs
	Status   JobStatus
	Err      error
	Duration time.Duration
}

// Stub reports whether the job still needs option completion.
func (j *ScreenshotJob) Stub() bool {
	return j.Options == nil
}

// CaptureOptions is the merged configuration handed to a capture backend
// for one job.
type CaptureOptions struct {
	// URL is the address to navigate to; ignored when HTML is set.
	URL string
	// HTML, when non-empty, is injected as the document instead of
	// navigating.
	HTML   string
	Width  int
	Height int
	// Timeout bounds the whole capture including navigation.
	Timeout time.Duration
}

// FontRef identifies a font the rendering backend needs. Data, when set by
// the caller, bypasses all lookups. Path points at an optional local file.
type FontRef struct {
	Family string
	Weight int
	Data   []byte
	Path   string
}
