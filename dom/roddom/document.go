// Package roddom is a dom.Document over a live Chrome page driven by go-rod.
//
// Structural queries and attribute writes run as small scripts against the
// page. Change notifications come from CDP: DOM child-node events feed the
// mutation observers and main-frame navigations feed the title observers.
// Events are pumped through a buffered channel and delivered in batches from
// a dedicated goroutine, never from inside a Node call.
package roddom

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/mapslink/dom"
)

// Option configures a Document.
type Option func(*Document)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Document) { d.logger = l }
}

// WithSanitizer filters serialised markup before InsertFirst builds it in
// the page.
func WithSanitizer(fn func(string) string) Option {
	return func(d *Document) { d.sanitize = fn }
}

type rawEvent struct {
	op     dom.Op // empty for navigation
	parent proto.DOMNodeID
	node   *proto.DOMNode // inserted node
	tag    string
	class  string
}

// Document is a live page. Create it with Attach and release it with Close.
type Document struct {
	page     *rod.Page
	logger   *slog.Logger
	sanitize func(string) string
	nodes    *nodeIndex

	ctx    context.Context
	cancel context.CancelFunc
	rawCh  chan rawEvent
	wg     sync.WaitGroup

	obsMu     sync.Mutex
	nextObs   int
	observers map[int]func([]dom.Record)
	titleObs  map[int]func()

	// CDP round trips made while delivering a batch.
	resolveNode func(proto.DOMNodeID) dom.Node
	expand      func(proto.DOMNodeID)
	retrack     func() error
}

func newDocument(ctx context.Context, opts ...Option) *Document {
	d := &Document{
		nodes:     newNodeIndex(),
		rawCh:     make(chan rawEvent, 4096),
		observers: make(map[int]func([]dom.Record)),
		titleObs:  make(map[int]func()),
	}
	for _, o := range opts {
		o(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.sanitize == nil {
		d.sanitize = func(s string) string { return s }
	}
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.resolveNode = d.resolve
	d.expand = d.requestChildren
	d.retrack = d.track
	return d
}

// Attach starts tracking page. The page should already be loaded; the DOM
// tree present at this point is the baseline for removal records.
func Attach(ctx context.Context, page *rod.Page, opts ...Option) (*Document, error) {
	d := newDocument(ctx, opts...)
	d.page = page.Context(d.ctx)

	if err := (proto.DOMEnable{}).Call(d.page); err != nil {
		d.cancel()
		return nil, fmt.Errorf("roddom: DOM.enable: %w", err)
	}
	if err := d.track(); err != nil {
		d.cancel()
		return nil, err
	}

	// EachEvent subscribes before returning, so nothing between here and
	// the first wait() call is lost.
	wait := d.page.EachEvent(
		func(e *proto.DOMChildNodeInserted) {
			d.nodes.add(e.ParentNodeID, e.Node)
			d.push(rawEvent{
				op:     dom.OpInsert,
				parent: e.ParentNodeID,
				node:   e.Node,
				tag:    tagOf(e.Node),
				class:  attrOf(e.Node.Attributes, "class"),
			})
		},
		func(e *proto.DOMChildNodeRemoved) {
			info, _ := d.nodes.remove(e.NodeID)
			d.push(rawEvent{op: dom.OpRemove, parent: e.ParentNodeID, tag: info.tag, class: info.class})
		},
		func(e *proto.DOMSetChildNodes) {
			d.nodes.setChildren(e.ParentID, e.Nodes)
		},
		func(e *proto.DOMAttributeModified) {
			if e.Name == "class" {
				d.nodes.setClass(e.NodeID, e.Value)
			}
		},
		func(e *proto.DOMAttributeRemoved) {
			if e.Name == "class" {
				d.nodes.setClass(e.NodeID, "")
			}
		},
		func(e *proto.DOMDocumentUpdated) {
			d.push(rawEvent{})
		},
		func(e *proto.PageNavigatedWithinDocument) {
			if e.FrameID == d.page.FrameID {
				d.push(rawEvent{})
			}
		},
		func(e *proto.PageFrameNavigated) {
			if e.Frame != nil && e.Frame.ParentID == "" {
				d.push(rawEvent{})
			}
		},
	)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		wait()
	}()
	d.startPump()

	d.logger.Info("roddom: attached", "url", d.Location(), "nodes", d.nodes.len())
	return d, nil
}

// Close stops event delivery and waits for the event goroutines to exit.
// It does not close the page.
func (d *Document) Close() {
	d.cancel()
	d.wg.Wait()
}

// QueryAll runs selector over the whole document.
func (d *Document) QueryAll(selector string) ([]dom.Node, error) {
	els, err := d.page.Elements(selector)
	if err != nil {
		return nil, &dom.SelectorError{Selector: selector, Err: err}
	}
	return d.wrapAll(els), nil
}

// Location returns the page's current address.
func (d *Document) Location() string {
	res, err := d.page.Eval(`() => location.href`)
	if err != nil {
		d.logger.Debug("roddom: read location", "error", err)
		return ""
	}
	return res.Value.Str()
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

// ObserveTitle subscribes fn to main-frame navigations, the events that
// change the title of a search page.
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

// track calls DOM.getDocument with depth -1 and pierce. Without it CDP
// silently drops mutations on nodes it has never sent to the client.
func (d *Document) track() error {
	depth := -1
	doc, err := proto.DOMGetDocument{Depth: &depth, Pierce: true}.Call(d.page)
	if err != nil {
		return fmt.Errorf("roddom: DOM.getDocument: %w", err)
	}
	d.nodes.reset(doc.Root)
	return nil
}

func (d *Document) push(ev rawEvent) {
	select {
	case d.rawCh <- ev:
	case <-d.ctx.Done():
	}
}

func (d *Document) startPump() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.pump()
	}()
}

// pump turns raw CDP events into batches. Everything already queued when a
// batch starts is delivered with it.
func (d *Document) pump() {
	for {
		var first rawEvent
		select {
		case <-d.ctx.Done():
			return
		case first = <-d.rawCh:
		}

		events := []rawEvent{first}
	drain:
		for {
			select {
			case ev := <-d.rawCh:
				events = append(events, ev)
			default:
				break drain
			}
		}
		d.deliver(events)
	}
}

func (d *Document) deliver(events []rawEvent) {
	batch, expand, navigated := collect(events, d.resolveNode)
	for _, id := range expand {
		d.expand(id)
	}
	if navigated {
		// A new document invalidates every node ID CDP handed out.
		if err := d.retrack(); err != nil {
			d.logger.Warn("roddom: re-track after navigation", "error", err)
		}
	}
	d.notify(batch, navigated)
}

// collect turns one drain of raw events into mutation records. Each parent
// is resolved once per batch. expand lists the inserted elements whose
// subtrees CDP still has to report.
func collect(events []rawEvent, resolve func(proto.DOMNodeID) dom.Node) (batch []dom.Record, expand []proto.DOMNodeID, navigated bool) {
	targets := make(map[proto.DOMNodeID]dom.Node)
	for _, ev := range events {
		if ev.op == "" {
			navigated = true
			continue
		}
		target, ok := targets[ev.parent]
		if !ok {
			target = resolve(ev.parent)
			targets[ev.parent] = target
		}
		batch = append(batch, dom.Record{Op: ev.op, Target: target, Tag: ev.tag, Class: ev.class})
		if ev.op == dom.OpInsert && ev.node != nil && ev.node.NodeType == 1 {
			expand = append(expand, ev.node.NodeID)
		}
	}
	return batch, expand, navigated
}

// notify hands batch to the mutation observers and, after a navigation,
// calls the title observers. No lock is held during the calls, so observers
// may subscribe or cancel from inside them.
func (d *Document) notify(batch []dom.Record, navigated bool) {
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
	if navigated {
		for _, fn := range tobs {
			fn()
		}
	}
}

// resolve returns the live element for a CDP node ID, nil if it is gone.
func (d *Document) resolve(id proto.DOMNodeID) dom.Node {
	el, err := d.page.ElementFromNode(&proto.DOMNode{NodeID: id})
	if err != nil {
		d.logger.Debug("roddom: resolve node", "node_id", id, "error", err)
		return nil
	}
	return d.wrap(el)
}

// requestChildren asks CDP to report the subtree of a freshly inserted
// node, so later insertions below it produce events too.
func (d *Document) requestChildren(id proto.DOMNodeID) {
	depth := -1
	err := proto.DOMRequestChildNodes{NodeID: id, Depth: &depth, Pierce: true}.Call(d.page)
	if err != nil {
		d.logger.Debug("roddom: request child nodes", "node_id", id, "error", err)
	}
}

func (d *Document) wrap(el *rod.Element) *Node {
	return &Node{doc: d, el: el}
}

func (d *Document) wrapAll(els rod.Elements) []dom.Node {
	if len(els) == 0 {
		return nil
	}
	out := make([]dom.Node, len(els))
	for i, el := range els {
		out[i] = d.wrap(el)
	}
	return out
}
