// Package dom defines the narrow capability surface the map-link engine needs
// from a host document: structural queries, attribute reads and writes, a
// single insertion primitive, geometry, and change notifications.
//
// Two backends implement it: memdom (a fully controlled in-memory tree) and
// roddom (a live Chrome page driven over CDP). The engine never touches a
// concrete tree type.
package dom

import (
	"fmt"

	"golang.org/x/net/html"
)

// NodeID is a stable per-node identifier, unique within one document.
type NodeID uint64

// Rect is a node's bounding box in CSS pixels.
type Rect struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Node is a handle on one element of the host document.
//
// Attribute reads never fail: a missing attribute reads as "". Selector
// methods return a *SelectorError when the selector cannot be compiled or
// evaluated.
type Node interface {
	ID() NodeID
	// Tag is the lower-case element name.
	Tag() string
	Attr(name string) string
	HasAttr(name string) bool
	SetAttr(name, value string) error
	RemoveAttr(name string) error
	// Parent returns nil above the document element.
	Parent() Node
	// Closest tests the node itself, then its ancestors. Nil when none match.
	Closest(selector string) (Node, error)
	// Query returns the first matching descendant, nil when none match.
	Query(selector string) (Node, error)
	QueryAll(selector string) ([]Node, error)
	Rect() (Rect, error)
	// InsertFirst inserts a detached tree as the node's first child.
	InsertFirst(tree *html.Node) error
}

// Document is the host document as seen by the engine.
type Document interface {
	QueryAll(selector string) ([]Node, error)
	// Location is the current address of the document.
	Location() string
	// Observe subscribes to subtree child-list mutations of the whole
	// document. Batches are delivered outside of any Node method call.
	Observe(fn func([]Record)) (cancel func())
	// ObserveTitle subscribes to changes of the page title, the signal for
	// client-side navigation.
	ObserveTitle(fn func()) (cancel func())
}

// SelectorError reports a structural query that could not be run.
type SelectorError struct {
	Selector string
	Err      error
}

func (e *SelectorError) Error() string {
	return fmt.Sprintf("dom: selector %q: %v", e.Selector, e.Err)
}

func (e *SelectorError) Unwrap() error { return e.Err }
