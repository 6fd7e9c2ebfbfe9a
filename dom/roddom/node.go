package roddom

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/mapslink/dom"
)

// Node is a live element. Its identity is the CDP backend node ID, which
// stays fixed for the lifetime of the element.
type Node struct {
	doc  *Document
	el   *rod.Element
	once sync.Once
	desc *proto.DOMNode
}

func (n *Node) describe() *proto.DOMNode {
	n.once.Do(func() {
		desc, err := n.el.Describe(0, false)
		if err != nil {
			n.doc.logger.Debug("roddom: describe node", "error", err)
			return
		}
		n.desc = desc
	})
	return n.desc
}

func (n *Node) ID() dom.NodeID {
	if desc := n.describe(); desc != nil {
		return dom.NodeID(desc.BackendNodeID)
	}
	return 0
}

func (n *Node) Tag() string {
	if desc := n.describe(); desc != nil {
		return tagOf(desc)
	}
	return ""
}

func (n *Node) Attr(name string) string {
	v, err := n.el.Attribute(name)
	if err != nil || v == nil {
		return ""
	}
	return *v
}

func (n *Node) HasAttr(name string) bool {
	v, err := n.el.Attribute(name)
	return err == nil && v != nil
}

func (n *Node) SetAttr(name, value string) error {
	if _, err := n.el.Eval(`(k, v) => this.setAttribute(k, v)`, name, value); err != nil {
		return fmt.Errorf("roddom: set attribute %s: %w", name, err)
	}
	return nil
}

func (n *Node) RemoveAttr(name string) error {
	if _, err := n.el.Eval(`(k) => this.removeAttribute(k)`, name); err != nil {
		return fmt.Errorf("roddom: remove attribute %s: %w", name, err)
	}
	return nil
}

// Parent returns the parent element, nil for the document element.
func (n *Node) Parent() dom.Node {
	p, err := n.el.Parent()
	if err != nil {
		return nil
	}
	return n.doc.wrap(p)
}

func (n *Node) Closest(selector string) (dom.Node, error) {
	return n.byJS(`(s) => this.closest(s)`, selector)
}

func (n *Node) Query(selector string) (dom.Node, error) {
	return n.byJS(`(s) => this.querySelector(s)`, selector)
}

func (n *Node) QueryAll(selector string) ([]dom.Node, error) {
	els, err := n.el.Elements(selector)
	if err != nil {
		return nil, &dom.SelectorError{Selector: selector, Err: err}
	}
	return n.doc.wrapAll(els), nil
}

// byJS evaluates a selector script that returns an element or null.
func (n *Node) byJS(js, selector string) (dom.Node, error) {
	el, err := n.el.ElementByJS(rod.Eval(js, selector))
	if err != nil {
		var nf *rod.ElementNotFoundError
		if errors.As(err, &nf) {
			return nil, nil
		}
		return nil, &dom.SelectorError{Selector: selector, Err: err}
	}
	return n.doc.wrap(el), nil
}

func (n *Node) Rect() (dom.Rect, error) {
	res, err := n.el.Eval(`() => {
		const r = this.getBoundingClientRect();
		return JSON.stringify({x: r.x, y: r.y, width: r.width, height: r.height});
	}`)
	if err != nil {
		return dom.Rect{}, fmt.Errorf("roddom: bounding box: %w", err)
	}
	var box struct {
		X, Y, Width, Height float64
	}
	if err := json.Unmarshal([]byte(res.Value.Str()), &box); err != nil {
		return dom.Rect{}, fmt.Errorf("roddom: bounding box: %w", err)
	}
	return dom.Rect{X: box.X, Y: box.Y, Width: box.Width, Height: box.Height}, nil
}

// buildJS constructs a node from its JSON description with createElementNS
// and inserts it first. Pages that enforce Trusted Types reject innerHTML.
const buildJS = `(shape) => {
	const build = (s) => {
		if (s.tag === undefined) return document.createTextNode(s.text || "");
		const el = s.ns ? document.createElementNS(s.ns, s.tag) : document.createElement(s.tag);
		for (const [k, v] of (s.attrs || [])) {
			if (k !== "xmlns") el.setAttribute(k, v);
		}
		for (const c of (s.children || [])) el.appendChild(build(c));
		return el;
	};
	this.insertBefore(build(JSON.parse(shape)), this.firstChild);
}`

// InsertFirst serialises tree, passes it through the sanitizer and builds
// the result as the element's first child.
func (n *Node) InsertFirst(tree *html.Node) error {
	if tree == nil || tree.Parent != nil {
		return fmt.Errorf("roddom: insert: tree must be a detached node")
	}
	shape, err := buildShape(tree, n.doc.sanitize)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(shape)
	if err != nil {
		return fmt.Errorf("roddom: insert: %w", err)
	}
	if _, err := n.el.Eval(buildJS, string(raw)); err != nil {
		return fmt.Errorf("roddom: insert: %w", err)
	}
	return nil
}

// nodeShape is the JSON shape buildJS understands. A shape without a tag is a
// text node.
type nodeShape struct {
	Tag      string      `json:"tag,omitempty"`
	NS       string      `json:"ns,omitempty"`
	Attrs    [][2]string `json:"attrs,omitempty"`
	Text     string      `json:"text,omitempty"`
	Children []nodeShape `json:"children,omitempty"`
}

var namespaces = map[string]string{
	"svg":  "http://www.w3.org/2000/svg",
	"math": "http://www.w3.org/1998/Math/MathML",
}

// buildShape renders tree, sanitises the markup and re-parses it, so only
// what survives sanitising reaches the page.
func buildShape(tree *html.Node, sanitize func(string) string) (nodeShape, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, tree); err != nil {
		return nodeShape{}, fmt.Errorf("roddom: render: %w", err)
	}
	clean := buf.String()
	if sanitize != nil {
		clean = sanitize(clean)
	}

	holder := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	frag, err := html.ParseFragment(strings.NewReader(clean), holder)
	if err != nil {
		return nodeShape{}, fmt.Errorf("roddom: reparse: %w", err)
	}
	for _, f := range frag {
		if f.Type == html.ElementNode {
			return toShape(f), nil
		}
	}
	return nodeShape{}, fmt.Errorf("roddom: insert: nothing left after sanitising")
}

func toShape(n *html.Node) nodeShape {
	if n.Type == html.TextNode {
		return nodeShape{Text: n.Data}
	}
	s := nodeShape{Tag: n.Data, NS: namespaces[n.Namespace]}
	for _, a := range n.Attr {
		s.Attrs = append(s.Attrs, [2]string{a.Key, a.Val})
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode || c.Type == html.TextNode {
			s.Children = append(s.Children, toShape(c))
		}
	}
	return s
}

var (
	_ dom.Node     = (*Node)(nil)
	_ dom.Document = (*Document)(nil)
)
