// Package rules matches route patterns to configuration overlays and
// resolves them, together with extracted directives and global defaults,
// into renderer-ready image options.
package rules

import (
	"sort"
	"strings"

	"github.com/previewkit/ogpipe/internal/ogimage"
)

// Matcher indexes route overlays in a segment trie so lookup cost scales
// with route depth, not with the number of registered patterns.
//
// Pattern forms:
//   - exact:       /blog/post-1
//   - one segment: /blog/*/comments ("*" matches a single segment)
//   - prefix:      /blog/*          (trailing "*" matches any remainder)
type Matcher struct {
	root *trieNode
}

type trieNode struct {
	children map[string]*trieNode
	wild     *trieNode
	// terminal holds overlays whose pattern ends exactly at this node.
	terminal []scoredOverlay
	// rest holds overlays with a trailing "*" anchored at this node.
	rest []scoredOverlay
}

type scoredOverlay struct {
	overlay  ogimage.Overlay
	literals int
	prefix   bool
}

func newTrieNode() *trieNode {
	return &trieNode{children: map[string]*trieNode{}}
}

// NewMatcher builds a Matcher from the supplied overlays.
func NewMatcher(overlays []ogimage.Overlay) *Matcher {
	m := &Matcher{root: newTrieNode()}
	for _, o := range overlays {
		m.add(o)
	}
	return m
}

func (m *Matcher) add(o ogimage.Overlay) {
	segments := splitRoute(o.Pattern)
	literals := 0
	for _, s := range segments {
		if s != "*" {
			literals++
		}
	}

	node := m.root
	for i, seg := range segments {
		if seg == "*" && i == len(segments)-1 {
			node.rest = append(node.rest, scoredOverlay{overlay: o, literals: literals, prefix: true})
			return
		}
		if seg == "*" {
			if node.wild == nil {
				node.wild = newTrieNode()
			}
			node = node.wild
			continue
		}
		child, ok := node.children[seg]
		if !ok {
			child = newTrieNode()
			node.children[seg] = child
		}
		node = child
	}
	node.terminal = append(node.terminal, scoredOverlay{overlay: o, literals: literals})
}

// Match returns every overlay whose pattern matches route, ordered most
// specific first. The resolver applies them in reverse so the most
// specific overlay's fields win on conflict.
func (m *Matcher) Match(route string) []ogimage.Overlay {
	segments := splitRoute(route)
	var matches []scoredOverlay
	collect(m.root, segments, &matches)

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.literals != b.literals {
			return a.literals > b.literals
		}
		if a.prefix != b.prefix {
			return !a.prefix
		}
		return a.overlay.Pattern > b.overlay.Pattern
	})

	out := make([]ogimage.Overlay, len(matches))
	for i, sc := range matches {
		out[i] = sc.overlay
	}
	return out
}

func collect(node *trieNode, remaining []string, matches *[]scoredOverlay) {
	if node == nil {
		return
	}
	if len(remaining) > 0 {
		*matches = append(*matches, node.rest...)
		collect(node.children[remaining[0]], remaining[1:], matches)
		collect(node.wild, remaining[1:], matches)
		return
	}
	*matches = append(*matches, node.terminal...)
}

// splitRoute normalizes a route or pattern into trie segments. The root
// route "/" yields no segments.
func splitRoute(route string) []string {
	route = strings.Trim(route, "/")
	if route == "" {
		return nil
	}
	return strings.Split(route, "/")
}
