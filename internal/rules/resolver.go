package rules

import (
	"path"
	"strings"

	"github.com/previewkit/ogpipe/internal/ogimage"
)

// Defaults carries the base values every resolution starts from.
type Defaults struct {
	Provider ogimage.Provider
	Width    int
	Height   int
}

// Resolver merges extracted directives with matching overlays and global
// defaults. Precedence, lowest to highest: defaults, extracted directive,
// overlays from least to most specific.
type Resolver struct {
	matcher  *Matcher
	defaults Defaults
}

// NewResolver constructs a Resolver over the given overlays.
func NewResolver(overlays []ogimage.Overlay, defaults Defaults) *Resolver {
	if defaults.Provider == "" {
		defaults.Provider = ogimage.ProviderBrowser
	}
	return &Resolver{
		matcher:  NewMatcher(overlays),
		defaults: defaults,
	}
}

// Excluded reports whether a route must never enter resolution: paths with
// a dot are static assets rather than pages, and the image endpoint's own
// output must not be scanned recursively.
func Excluded(route string) bool {
	if strings.Contains(route, ".") {
		return true
	}
	return strings.Contains(route, ogimage.EndpointSegment)
}

// Resolve produces the final options for route. The second return value
// is false when generation is skipped: either the route is excluded
// outright or its most specific matching overlay disables generation.
func (r *Resolver) Resolve(route string, directive *ogimage.Directive) (ogimage.ImageOptions, bool) {
	route = normalizeRoute(route)
	if Excluded(route) {
		return ogimage.ImageOptions{}, false
	}

	overlays := r.matcher.Match(route)
	if len(overlays) > 0 && overlays[0].Disabled {
		return ogimage.ImageOptions{}, false
	}

	opts := ogimage.ImageOptions{
		Route:    route,
		Provider: r.defaults.Provider,
		Width:    r.defaults.Width,
		Height:   r.defaults.Height,
	}
	applyDirective(&opts, directive)

	// Fold least specific first so later (more specific) overlays win.
	for i := len(overlays) - 1; i >= 0; i-- {
		applyOverlay(&opts, overlays[i])
	}

	opts.Path = OutputPath(route)
	return opts, true
}

// OutputPath derives the artifact path for a route, relative to the build
// output root.
func OutputPath(route string) string {
	return path.Join(strings.TrimPrefix(normalizeRoute(route), "/"), ogimage.EndpointSegment, "og.png")
}

func applyDirective(opts *ogimage.ImageOptions, d *ogimage.Directive) {
	if d == nil {
		return
	}
	if d.Provider != nil {
		opts.Provider = *d.Provider
	}
	if d.Width != nil {
		opts.Width = *d.Width
	}
	if d.Height != nil {
		opts.Height = *d.Height
	}
	if d.Component != nil {
		opts.Component = *d.Component
	}
	if d.Static != nil {
		opts.Static = *d.Static
	}
	mergeExtra(opts, d.Extra)
}

func applyOverlay(opts *ogimage.ImageOptions, o ogimage.Overlay) {
	if o.Provider != nil {
		opts.Provider = *o.Provider
	}
	if o.Width != nil {
		opts.Width = *o.Width
	}
	if o.Height != nil {
		opts.Height = *o.Height
	}
	if o.Component != nil {
		opts.Component = *o.Component
	}
	if o.Static != nil {
		opts.Static = *o.Static
	}
	mergeExtra(opts, o.Extra)
}

func mergeExtra(opts *ogimage.ImageOptions, extra map[string]any) {
	if len(extra) == 0 {
		return
	}
	if opts.Extra == nil {
		opts.Extra = make(map[string]any, len(extra))
	}
	for k, v := range extra {
		opts.Extra[k] = v
	}
}

func normalizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	if !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	if route != "/" {
		route = strings.TrimSuffix(route, "/")
	}
	return route
}
