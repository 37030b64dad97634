// Package ogimage defines the core types shared across the preview-image
// pipeline: resolved image options, route overlays, screenshot jobs, and the
// interfaces the orchestrator depends on.
package ogimage
