// CLAUDE:SUMMARY In-memory dom.Document over x/net/html with goquery selectors, queued mutation records and settable geometry.
// Package memdom is a fully controlled dom.Document built on golang.org/x/net/html.
//
// It plays both sides of the host contract: the engine reads and writes it
// through dom.Node, and callers act as the host page through Append, Remove,
// Replace and Navigate. Mutation records are queued and only delivered on
// Flush, the equivalent of a browser's microtask checkpoint, so observers
// never run inside a mutating call.
package memdom

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/mapslink/dom"
)

// Option configures a Document.
type Option func(*Document)

// WithDefaultRect sets the geometry reported for nodes without an explicit
// SetRect. Without it such nodes report a zero-size box.
func WithDefaultRect(r dom.Rect) Option {
	return func(d *Document) { d.defaultRect = r }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Document) { d.logger = l }
}

// Document is an in-memory host document. It is safe for concurrent use.
type Document struct {
	mu          sync.Mutex
	root        *html.Node
	ids         map[*html.Node]dom.NodeID
	nextID      dom.NodeID
	rects       map[*html.Node]dom.Rect
	defaultRect dom.Rect
	location    string
	selectors   map[string]cascadia.Selector
	logger      *slog.Logger

	pending      []dom.Record
	titleChanged bool

	obsMu     sync.Mutex
	nextObs   int
	observers map[int]func([]dom.Record)
	titleObs  map[int]func()
}

// Parse builds a Document from markup served at location.
func Parse(r io.Reader, location string, opts ...Option) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("memdom: parse: %w", err)
	}
	d := &Document{
		root:      root,
		ids:       make(map[*html.Node]dom.NodeID),
		rects:     make(map[*html.Node]dom.Rect),
		location:  location,
		selectors: make(map[string]cascadia.Selector),
		observers: make(map[int]func([]dom.Record)),
		titleObs:  make(map[int]func()),
	}
	for _, o := range opts {
		o(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d, nil
}

// ParseString is Parse over a string.
func ParseString(markup, location string, opts ...Option) (*Document, error) {
	return Parse(strings.NewReader(markup), location, opts...)
}

// QueryAll runs selector over the whole document.
func (d *Document) QueryAll(selector string) ([]dom.Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, err := d.compileLocked(selector)
	if err != nil {
		return nil, err
	}
	return d.wrapAllLocked(goquery.NewDocumentFromNode(d.root).FindMatcher(m).Nodes), nil
}

// Location returns the current address.
func (d *Document) Location() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.location
}

// Title returns the text of the head title element.
func (d *Document) Title() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := findFirst(d.root, atom.Title)
	if t == nil {
		return ""
	}
	return textOf(t)
}

// Observe subscribes fn to child-list mutation batches.
func (d *Document) Observe(fn func([]dom.Record)) func() {
	d.obsMu.Lock()
	defer d.obsMu.Unlock()
	id := d.nextObs
	d.nextObs++
	d.observers[id] = fn
	return func() {
		d.obsMu.Lock()
		delete(d.observers, id)
		d.obsMu.Unlock()
	}
}

// ObserveTitle subscribes fn to title changes.
func (d *Document) ObserveTitle(fn func()) func() {
	d.obsMu.Lock()
	defer d.obsMu.Unlock()
	id := d.nextObs
	d.nextObs++
	d.titleObs[id] = fn
	return func() {
		d.obsMu.Lock()
		delete(d.titleObs, id)
		d.obsMu.Unlock()
	}
}

// Flush delivers queued mutation records as one batch, then any pending
// title notification. Observers run on the caller's goroutine.
func (d *Document) Flush() {
	d.mu.Lock()
	batch := d.pending
	d.pending = nil
	titled := d.titleChanged
	d.titleChanged = false
	d.mu.Unlock()

	d.obsMu.Lock()
	obs := make([]func([]dom.Record), 0, len(d.observers))
	for _, fn := range d.observers {
		obs = append(obs, fn)
	}
	tobs := make([]func(), 0, len(d.titleObs))
	for _, fn := range d.titleObs {
		tobs = append(tobs, fn)
	}
	d.obsMu.Unlock()

	if len(batch) > 0 {
		for _, fn := range obs {
			fn(batch)
		}
	}
	if titled {
		for _, fn := range tobs {
			fn()
		}
	}
}

// SetRect fixes the bounding box reported for n.
func (d *Document) SetRect(n dom.Node, r dom.Rect) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rects[unwrap(n)] = r
}

// Append parses markup in the context of parent and appends the resulting
// nodes, as a host render would. It returns the inserted element nodes.
func (d *Document) Append(parent dom.Node, markup string) ([]dom.Node, error) {
	p := unwrap(parent)
	frag, err := html.ParseFragment(strings.NewReader(markup), p)
	if err != nil {
		return nil, fmt.Errorf("memdom: parse fragment: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	var added []*html.Node
	for _, n := range frag {
		p.AppendChild(n)
		d.queueLocked(dom.OpInsert, p, n)
		if n.Type == html.ElementNode {
			added = append(added, n)
		}
	}
	return d.wrapAllLocked(added), nil
}

// Remove detaches n from its parent.
func (d *Document) Remove(n dom.Node) {
	h := unwrap(n)
	d.mu.Lock()
	defer d.mu.Unlock()
	p := h.Parent
	if p == nil {
		return
	}
	p.RemoveChild(h)
	d.queueLocked(dom.OpRemove, p, h)
}

// Replace swaps old for freshly parsed markup at the same position, the way
// a host re-render discards a subtree and builds a new one.
func (d *Document) Replace(old dom.Node, markup string) ([]dom.Node, error) {
	o := unwrap(old)
	p := o.Parent
	if p == nil {
		return nil, fmt.Errorf("memdom: replace detached node")
	}
	frag, err := html.ParseFragment(strings.NewReader(markup), p)
	if err != nil {
		return nil, fmt.Errorf("memdom: parse fragment: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	var added []*html.Node
	for _, n := range frag {
		p.InsertBefore(n, o)
		d.queueLocked(dom.OpInsert, p, n)
		if n.Type == html.ElementNode {
			added = append(added, n)
		}
	}
	p.RemoveChild(o)
	d.queueLocked(dom.OpRemove, p, o)
	return d.wrapAllLocked(added), nil
}

// Navigate changes the address and the title text, as a single-page
// application does on a new search.
func (d *Document) Navigate(location, title string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.location = location
	t := findFirst(d.root, atom.Title)
	if t == nil {
		return
	}
	for c := t.FirstChild; c != nil; {
		next := c.NextSibling
		t.RemoveChild(c)
		c = next
	}
	t.AppendChild(&html.Node{Type: html.TextNode, Data: title})
	d.titleChanged = true
}

// HTML renders the whole document.
func (d *Document) HTML() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var buf bytes.Buffer
	if err := html.Render(&buf, d.root); err != nil {
		d.logger.Warn("memdom: render failed", "error", err)
	}
	return buf.String()
}

func (d *Document) queueLocked(op dom.Op, parent, n *html.Node) {
	rec := dom.Record{Op: op, Target: d.wrapLocked(parent)}
	if n.Type == html.ElementNode {
		rec.Tag = n.Data
		rec.Class = attr(n, "class")
	}
	d.pending = append(d.pending, rec)
}

func (d *Document) compileLocked(selector string) (cascadia.Selector, error) {
	if m, ok := d.selectors[selector]; ok {
		return m, nil
	}
	m, err := cascadia.Compile(selector)
	if err != nil {
		return nil, &dom.SelectorError{Selector: selector, Err: err}
	}
	d.selectors[selector] = m
	return m, nil
}

func (d *Document) wrapLocked(n *html.Node) *Node {
	id, ok := d.ids[n]
	if !ok {
		d.nextID++
		id = d.nextID
		d.ids[n] = id
	}
	return &Node{doc: d, n: n, id: id}
}

func (d *Document) wrapAllLocked(ns []*html.Node) []dom.Node {
	if len(ns) == 0 {
		return nil
	}
	out := make([]dom.Node, len(ns))
	for i, n := range ns {
		out[i] = d.wrapLocked(n)
	}
	return out
}

func findFirst(root *html.Node, a atom.Atom) *html.Node {
	if root.Type == html.ElementNode && root.DataAtom == a {
		return root
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if f := findFirst(c, a); f != nil {
			return f
		}
	}
	return nil
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}
