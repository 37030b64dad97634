package browser

import (
	"context"
	"testing"
	"time"

	"github.com/previewkit/ogpipe/internal/ogimage"
)

func TestCaptureRequiresTarget(t *testing.T) {
	t.Parallel()

	b := &Browser{cfg: Config{NavTimeout: time.Second}}
	_, err := b.Capture(context.Background(), ogimage.CaptureOptions{Width: 1200, Height: 630})
	if err != ErrNoTarget {
		t.Fatalf("expected ErrNoTarget, got %v", err)
	}
}

func TestCloseNil(t *testing.T) {
	t.Parallel()

	var b *Browser
	if err := b.Close(context.Background()); err != nil {
		t.Fatalf("Close() on nil browser error = %v", err)
	}
}

func TestForwardCancelStops(t *testing.T) {
	t.Parallel()

	ctx, cancelParent := context.WithCancel(context.Background())
	canceled := make(chan struct{})
	stop := forwardCancel(ctx, func() { close(canceled) })
	defer stop()

	cancelParent()
	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatal("cancel was not forwarded")
	}
}
