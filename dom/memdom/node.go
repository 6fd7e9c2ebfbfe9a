package memdom

import (
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/hazyhaar/mapslink/dom"
)

// Node is a dom.Node over an *html.Node owned by a Document.
type Node struct {
	doc *Document
	n   *html.Node
	id  dom.NodeID
}

var _ dom.Node = (*Node)(nil)

// HTMLNode exposes the underlying tree node.
func (n *Node) HTMLNode() *html.Node { return n.n }

func (n *Node) ID() dom.NodeID { return n.id }

func (n *Node) Tag() string { return n.n.Data }

func (n *Node) Attr(name string) string {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	return attr(n.n, name)
}

func (n *Node) HasAttr(name string) bool {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	for _, a := range n.n.Attr {
		if a.Namespace == "" && a.Key == name {
			return true
		}
	}
	return false
}

func (n *Node) SetAttr(name, value string) error {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	for i, a := range n.n.Attr {
		if a.Namespace == "" && a.Key == name {
			n.n.Attr[i].Val = value
			return nil
		}
	}
	n.n.Attr = append(n.n.Attr, html.Attribute{Key: name, Val: value})
	return nil
}

func (n *Node) RemoveAttr(name string) error {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	kept := n.n.Attr[:0]
	for _, a := range n.n.Attr {
		if a.Namespace == "" && a.Key == name {
			continue
		}
		kept = append(kept, a)
	}
	n.n.Attr = kept
	return nil
}

func (n *Node) Parent() dom.Node {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	p := n.n.Parent
	if p == nil || p.Type != html.ElementNode {
		return nil
	}
	return n.doc.wrapLocked(p)
}

func (n *Node) Closest(selector string) (dom.Node, error) {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	m, err := n.doc.compileLocked(selector)
	if err != nil {
		return nil, err
	}
	found := n.selection().ClosestMatcher(m).Nodes
	if len(found) == 0 {
		return nil, nil
	}
	return n.doc.wrapLocked(found[0]), nil
}

func (n *Node) Query(selector string) (dom.Node, error) {
	all, err := n.QueryAll(selector)
	if err != nil || len(all) == 0 {
		return nil, err
	}
	return all[0], nil
}

func (n *Node) QueryAll(selector string) ([]dom.Node, error) {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	m, err := n.doc.compileLocked(selector)
	if err != nil {
		return nil, err
	}
	return n.doc.wrapAllLocked(n.selection().FindMatcher(m).Nodes), nil
}

func (n *Node) Rect() (dom.Rect, error) {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	if r, ok := n.doc.rects[n.n]; ok {
		return r, nil
	}
	return n.doc.defaultRect, nil
}

func (n *Node) InsertFirst(tree *html.Node) error {
	if tree == nil {
		return fmt.Errorf("memdom: insert nil tree")
	}
	if tree.Parent != nil || tree.PrevSibling != nil || tree.NextSibling != nil {
		return fmt.Errorf("memdom: insert attached tree")
	}
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	if first := n.n.FirstChild; first != nil {
		n.n.InsertBefore(tree, first)
	} else {
		n.n.AppendChild(tree)
	}
	n.doc.queueLocked(dom.OpInsert, n.n, tree)
	return nil
}

// selection is a single-node goquery selection rooted at n, usable for
// descendant and ancestor traversal even when n is detached.
func (n *Node) selection() *goquery.Selection {
	return goquery.NewDocumentFromNode(n.n).Selection
}

func unwrap(n dom.Node) *html.Node {
	mn, ok := n.(*Node)
	if !ok {
		panic(fmt.Sprintf("memdom: foreign node %T", n))
	}
	return mn.n
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val
		}
	}
	return ""
}
