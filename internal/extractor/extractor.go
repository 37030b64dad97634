// Package extractor pulls embedded image-generation directives out of
// rendered page markup.
package extractor

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/previewkit/ogpipe/internal/ogimage"
)

// PayloadSelector locates the single embedded directive payload a rendered
// full page may carry.
const PayloadSelector = `script[type="application/json"][data-og-image]`

// Extract scans markup for an embedded directive. The second return value
// is false when no directive is present; absence is a normal outcome and
// never an error. Fragment responses (island renders) are always treated
// as absent, since directives are only meaningful on full pages.
func Extract(markup string) (ogimage.Directive, bool) {
	if !fullPage(markup) {
		return ogimage.Directive{}, false
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return ogimage.Directive{}, false
	}

	payload := doc.Find(PayloadSelector).First().Text()
	if strings.TrimSpace(payload) == "" {
		return ogimage.Directive{}, false
	}

	var directive ogimage.Directive
	if err := json.Unmarshal([]byte(payload), &directive); err != nil {
		// Malformed payloads are ignored rather than surfaced; the page
		// still builds without an image directive.
		return ogimage.Directive{}, false
	}
	return directive, true
}

// fullPage reports whether markup looks like a complete document rather
// than a sub-fragment response.
func fullPage(markup string) bool {
	head := strings.ToLower(markup)
	if len(head) > 1024 {
		head = head[:1024]
	}
	return strings.Contains(head, "<!doctype") || strings.Contains(head, "<html")
}
