// Package fonts resolves font references to binary font data for the
// vector rendering backend, consulting a persistent cache before fetching.
package fonts

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/previewkit/ogpipe/internal/ogimage"
)

// Config controls font resolution.
type Config struct {
	// Endpoint is the fallback font-serving base URL. The resolver
	// requests GET <Endpoint>/<family>/<weight>.<Ext>.
	Endpoint string
	// Ext is the file extension requested from the endpoint.
	Ext string
	// CachePrefix namespaces font keys in the blob store.
	CachePrefix string
}

// Resolver resolves FontRefs. Cached values are stored as base64 text and
// decoded back to binary on read. The resolver never stores fetched data
// itself; populating the cache is the caller's concern.
type Resolver struct {
	cfg    Config
	store  ogimage.BlobStore
	client *http.Client
	logger *zap.Logger
}

// New constructs a Resolver. The store may be nil, in which case cache
// lookups are skipped.
func New(cfg Config, store ogimage.BlobStore, client *http.Client, logger *zap.Logger) *Resolver {
	if cfg.Ext == "" {
		cfg.Ext = "ttf"
	}
	if cfg.CachePrefix == "" {
		cfg.CachePrefix = "fonts"
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{cfg: cfg, store: store, client: client, logger: logger}
}

// Key derives the stable cache key for a family and weight.
func (r *Resolver) Key(family string, weight int) string {
	normalized := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(family), " ", "-"))
	return fmt.Sprintf("%s/%s-%d.b64", r.cfg.CachePrefix, normalized, weight)
}

// Resolve returns binary font data for ref. Resolution order: inline data
// as supplied, then the persistent cache, then a configured local path,
// then the font endpoint. Fetch failures propagate to the caller; no
// fallback font is substituted.
func (r *Resolver) Resolve(ctx context.Context, ref ogimage.FontRef) ([]byte, error) {
	if len(ref.Data) > 0 {
		return ref.Data, nil
	}

	if data, ok := r.fromCache(ctx, ref); ok {
		return data, nil
	}

	if ref.Path != "" {
		data, err := os.ReadFile(ref.Path)
		if err != nil {
			return nil, fmt.Errorf("read font %s from %s: %w", ref.Family, ref.Path, err)
		}
		return data, nil
	}

	return r.fetch(ctx, ref)
}

func (r *Resolver) fromCache(ctx context.Context, ref ogimage.FontRef) ([]byte, bool) {
	if r.store == nil {
		return nil, false
	}
	key := r.Key(ref.Family, ref.Weight)
	encoded, err := r.store.Get(ctx, key)
	if err != nil {
		return nil, false
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(encoded)))
	if err != nil {
		r.logger.Warn("discarding undecodable cached font",
			zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return data, true
}

func (r *Resolver) fetch(ctx context.Context, ref ogimage.FontRef) ([]byte, error) {
	if r.cfg.Endpoint == "" {
		return nil, fmt.Errorf("font %s@%d: no endpoint configured", ref.Family, ref.Weight)
	}
	url := fmt.Sprintf("%s/%s/%d.%s",
		strings.TrimSuffix(r.cfg.Endpoint, "/"), ref.Family, ref.Weight, r.cfg.Ext)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build font request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch font %s@%d: %w", ref.Family, ref.Weight, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch font %s@%d: unexpected status %d", ref.Family, ref.Weight, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read font body: %w", err)
	}
	return data, nil
}

// EncodeForCache prepares binary font data for storage as text.
func EncodeForCache(data []byte) []byte {
	return []byte(base64.StdEncoding.EncodeToString(data))
}
