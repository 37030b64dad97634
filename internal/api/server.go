// Package api exposes the runtime HTTP endpoint that serves per-request
// preview images for routes that are not build-time-stable.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/previewkit/ogpipe/internal/extractor"
	"github.com/previewkit/ogpipe/internal/ogimage"
	"github.com/previewkit/ogpipe/internal/optioncache"
	"github.com/previewkit/ogpipe/internal/rules"
)

const imageSuffix = "/" + ogimage.EndpointSegment + "/og.png"

// Config controls runtime serving behavior.
type Config struct {
	// SiteBaseURL is where page HTML is fetched from when a route's
	// options are not cached.
	SiteBaseURL    string
	CaptureTimeout time.Duration
}

// Server wires the image endpoint to the resolution pipeline and the
// capture backend.
type Server struct {
	router   chi.Router
	cfg      Config
	resolver *rules.Resolver
	cache    *optioncache.Cache
	fetcher  ogimage.Fetcher
	capturer ogimage.Capturer
	store    ogimage.BlobStore
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	cfg Config,
	resolver *rules.Resolver,
	cache *optioncache.Cache,
	fetcher ogimage.Fetcher,
	capturer ogimage.Capturer,
	store ogimage.BlobStore,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:      cfg,
		resolver: resolver,
		cache:    cache,
		fetcher:  fetcher,
		capturer: capturer,
		store:    store,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/*", s.serveImage)

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// serveImage handles GET /<route>/__og_image__/og.png. Prebuilt images
// are served from the store; everything else is captured on demand using
// options from the cache, re-resolving when the cache has gone stale.
func (s *Server) serveImage(w http.ResponseWriter, r *http.Request) {
	route, ok := routeFromPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	if data, err := s.store.Get(r.Context(), rules.OutputPath(route)); err == nil {
		writePNG(w, data)
		return
	}

	opts, ok := s.cache.Get(route)
	if !ok {
		opts, ok = s.resolveLive(r, route)
		if !ok {
			http.NotFound(w, r)
			return
		}
		s.cache.Store(opts)
	}

	captured, err := s.capturer.Capture(r.Context(), ogimage.CaptureOptions{
		URL:     s.cfg.SiteBaseURL + route,
		Width:   opts.Width,
		Height:  opts.Height,
		Timeout: s.cfg.CaptureTimeout,
	})
	if err != nil {
		s.logger.Error("runtime capture failed", zap.String("route", route), zap.Error(err))
		http.Error(w, "image generation failed", http.StatusBadGateway)
		return
	}
	writePNG(w, captured)
}

func (s *Server) resolveLive(r *http.Request, route string) (ogimage.ImageOptions, bool) {
	html, err := s.fetcher.FetchHTML(r.Context(), s.cfg.SiteBaseURL+route)
	if err != nil {
		s.logger.Warn("fetch page for resolution", zap.String("route", route), zap.Error(err))
		return ogimage.ImageOptions{}, false
	}
	var directive *ogimage.Directive
	if d, ok := extractor.Extract(html); ok {
		directive = &d
	}
	return s.resolver.Resolve(route, directive)
}

// routeFromPath strips the image suffix off a request path. The root
// route's image lives at /__og_image__/og.png.
func routeFromPath(path string) (string, bool) {
	if !strings.HasSuffix(path, imageSuffix) {
		return "", false
	}
	route := strings.TrimSuffix(path, imageSuffix)
	if route == "" {
		route = "/"
	}
	return route, true
}

func writePNG(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
