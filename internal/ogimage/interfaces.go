package ogimage

import (
	"context"
	"time"
)

// Capturer produces image bytes for one job. Implementations must be
// idempotent and side-effect-free beyond returning bytes.
type Capturer interface {
	Capture(ctx context.Context, opts CaptureOptions) ([]byte, error)
}

// BlobStore persists generated artifacts and cached binary values.
type BlobStore interface {
	Put(ctx context.Context, path string, contentType string, data []byte) (string, error)
	Get(ctx context.Context, path string) ([]byte, error)
}

// Publisher pushes image-generated events to interested consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher retrieves a page's rendered HTML.
type Fetcher interface {
	FetchHTML(ctx context.Context, url string) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
