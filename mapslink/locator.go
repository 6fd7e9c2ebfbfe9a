package mapslink

import (
	"strings"

	"github.com/hazyhaar/mapslink/dom"
)

// Locator finds the ancestor an annotation is anchored to. Stable containers
// survive the host page's inner re-renders; the nodes below them do not.
type Locator struct{}

// FindAnchor walks up from n's parent and returns the first stable container.
// The walk stops below the body. Without a stable ancestor, n itself is the
// anchor.
func (Locator) FindAnchor(n dom.Node) dom.Node {
	for cur := n.Parent(); cur != nil; cur = cur.Parent() {
		if tag := cur.Tag(); tag == "body" || tag == "html" {
			break
		}
		if isStableContainer(cur) {
			return cur
		}
	}
	return n
}

func isStableContainer(n dom.Node) bool {
	if dom.HasClass(n, "lu_map_section") {
		return true
	}
	return n.HasAttr("data-hveid") && strings.Contains(n.Attr("class"), "ULSxyf")
}
