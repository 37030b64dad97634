package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/previewkit/ogpipe/internal/ogimage"
)

func intPtr(v int) *int { return &v }

func boolPtr(v bool) *bool { return &v }

func providerPtr(p ogimage.Provider) *ogimage.Provider { return &p }

var testDefaults = Defaults{Provider: ogimage.ProviderBrowser, Width: 1200, Height: 630}

func TestMatchOrdersMostSpecificFirst(t *testing.T) {
	t.Parallel()

	m := NewMatcher([]ogimage.Overlay{
		{Pattern: "/blog/*", Width: intPtr(1000)},
		{Pattern: "/blog/post-1", Width: intPtr(800)},
		{Pattern: "/*", Width: intPtr(600)},
	})

	got := m.Match("/blog/post-1")
	require.Len(t, got, 3)
	assert.Equal(t, "/blog/post-1", got[0].Pattern)
	assert.Equal(t, "/blog/*", got[1].Pattern)
	assert.Equal(t, "/*", got[2].Pattern)
}

func TestMatchSingleSegmentWildcard(t *testing.T) {
	t.Parallel()

	m := NewMatcher([]ogimage.Overlay{
		{Pattern: "/docs/*/examples", Width: intPtr(700)},
	})

	assert.Len(t, m.Match("/docs/v2/examples"), 1)
	assert.Empty(t, m.Match("/docs/v2/guide"))
	assert.Empty(t, m.Match("/docs/v2/deep/examples"))
}

func TestMatchPrefixWildcardSpansSegments(t *testing.T) {
	t.Parallel()

	m := NewMatcher([]ogimage.Overlay{
		{Pattern: "/blog/*", Width: intPtr(1000)},
	})

	assert.Len(t, m.Match("/blog/2024/post-1"), 1)
	assert.Empty(t, m.Match("/blog"), "prefix wildcard needs at least one more segment")
	assert.Empty(t, m.Match("/about"))
}

func TestResolveOverlayWinsOverDirective(t *testing.T) {
	t.Parallel()

	r := NewResolver([]ogimage.Overlay{
		{Pattern: "/blog/*", Width: intPtr(1000)},
	}, testDefaults)

	directive := &ogimage.Directive{Width: intPtr(640), Height: intPtr(320)}
	opts, ok := r.Resolve("/blog/post-1", directive)
	require.True(t, ok)
	assert.Equal(t, 1000, opts.Width, "overlay overrides extracted width")
	assert.Equal(t, 320, opts.Height, "directive still wins over defaults")
	assert.Equal(t, ogimage.ProviderBrowser, opts.Provider)
	assert.Equal(t, "blog/post-1/__og_image__/og.png", opts.Path)
}

func TestResolveFoldsLeastSpecificFirst(t *testing.T) {
	t.Parallel()

	r := NewResolver([]ogimage.Overlay{
		{Pattern: "/blog/*", Width: intPtr(1000), Height: intPtr(500)},
		{Pattern: "/blog/post-1", Width: intPtr(800)},
	}, testDefaults)

	opts, ok := r.Resolve("/blog/post-1", nil)
	require.True(t, ok)
	assert.Equal(t, 800, opts.Width, "most specific overlay wins")
	assert.Equal(t, 500, opts.Height, "less specific overlay still contributes")
}

func TestResolveSingleWildcardOverlay(t *testing.T) {
	t.Parallel()

	r := NewResolver([]ogimage.Overlay{
		{Pattern: "/blog/*", Width: intPtr(1000)},
	}, testDefaults)

	opts, ok := r.Resolve("/blog/post-1", nil)
	require.True(t, ok)
	assert.Equal(t, 1000, opts.Width)
	assert.Equal(t, 630, opts.Height, "unset fields come from defaults")
	assert.Equal(t, ogimage.ProviderBrowser, opts.Provider)
}

func TestResolveDisableSentinel(t *testing.T) {
	t.Parallel()

	r := NewResolver([]ogimage.Overlay{
		{Pattern: "/internal/*", Disabled: true},
	}, testDefaults)

	directive := &ogimage.Directive{Width: intPtr(640)}
	_, ok := r.Resolve("/internal/admin", directive)
	assert.False(t, ok, "disable sentinel overrides any extracted directive")
}

func TestResolveMoreSpecificOverlayOverridesDisable(t *testing.T) {
	t.Parallel()

	r := NewResolver([]ogimage.Overlay{
		{Pattern: "/internal/*", Disabled: true},
		{Pattern: "/internal/status", Width: intPtr(900)},
	}, testDefaults)

	opts, ok := r.Resolve("/internal/status", nil)
	require.True(t, ok, "a more specific non-disabling overlay wins")
	assert.Equal(t, 900, opts.Width)
}

func TestResolveExcludesDotPaths(t *testing.T) {
	t.Parallel()

	r := NewResolver(nil, testDefaults)

	_, ok := r.Resolve("/sitemap.xml", &ogimage.Directive{Width: intPtr(640)})
	assert.False(t, ok)

	_, ok = r.Resolve("/blog/post-1/__og_image__/og.png", nil)
	assert.False(t, ok, "the image endpoint's own path never resolves")
}

func TestResolveStaticAndProviderOverlays(t *testing.T) {
	t.Parallel()

	r := NewResolver([]ogimage.Overlay{
		{Pattern: "/landing", Provider: providerPtr(ogimage.ProviderVector), Static: boolPtr(true)},
	}, testDefaults)

	opts, ok := r.Resolve("/landing", nil)
	require.True(t, ok)
	assert.Equal(t, ogimage.ProviderVector, opts.Provider)
	assert.True(t, opts.Static)
}

func TestResolveMergesExtra(t *testing.T) {
	t.Parallel()

	r := NewResolver([]ogimage.Overlay{
		{Pattern: "/blog/*", Extra: map[string]any{"accent": "#00f", "badge": "blog"}},
	}, testDefaults)

	directive := &ogimage.Directive{Extra: map[string]any{"accent": "#f00", "title": "Post"}}
	opts, ok := r.Resolve("/blog/post-1", directive)
	require.True(t, ok)
	assert.Equal(t, "#00f", opts.Extra["accent"], "overlay extra wins on conflict")
	assert.Equal(t, "Post", opts.Extra["title"])
	assert.Equal(t, "blog", opts.Extra["badge"])
}

func TestResolveRootRoute(t *testing.T) {
	t.Parallel()

	r := NewResolver(nil, testDefaults)
	opts, ok := r.Resolve("/", nil)
	require.True(t, ok)
	assert.Equal(t, "/", opts.Route)
	assert.Equal(t, "__og_image__/og.png", opts.Path)
}
