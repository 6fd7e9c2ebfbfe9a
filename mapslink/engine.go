// CLAUDE:SUMMARY Engine wiring scan, classify, locate and reconcile to document mutations and SPA navigation with debounced passes.
// Package mapslink detects geographic map widgets in a search results page
// and anchors an "Open in Google Maps" link to each of them, keeping the link
// in place while the host page re-renders around it.
//
// The pipeline is Scanner (find candidates) → Classifier (keep real maps) →
// Locator (pick a stable anchor) → Reconciler (inject once). Engine runs the
// pipeline once at start, again 200ms after the page stops adding nodes or
// deleting an annotation, and again 500ms after a client-side navigation.
package mapslink

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/mapslink/clock"
	"github.com/hazyhaar/mapslink/dom"
	"github.com/hazyhaar/mapslink/idgen"
)

const (
	// RescanDelay is the quiet window that coalesces mutation bursts.
	RescanDelay = 200 * time.Millisecond
	// SettleDelay lets new content render after a navigation.
	SettleDelay = 500 * time.Millisecond
)

// ErrStopped is returned by Start on an engine that was stopped.
var ErrStopped = errors.New("mapslink: engine stopped")

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock sets the time source driving the rescan and settle timers.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithIDGenerator sets the generator for pass identifiers.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(e *Engine) { e.newID = gen }
}

// PassResult summarises one scan-and-reconcile pass.
type PassResult struct {
	ID         string
	Trigger    string
	Candidates int
	Outcomes   map[Outcome]int
}

// Injected is the number of annotations the pass inserted.
func (r PassResult) Injected() int { return r.Outcomes[OutcomeInjected] }

// Engine keeps annotations in sync with one document. Handlers, timer
// callbacks and passes all run under one mutex, so a pass is never
// interleaved with another pass or with a notification handler.
type Engine struct {
	doc        dom.Document
	clock      clock.Clock
	logger     *slog.Logger
	newID      idgen.Generator
	scanner    *Scanner
	reconciler *Reconciler
	processed  *ProcessedSet

	mu          sync.Mutex
	started     bool
	stopped     bool
	lastURL     string
	passes      int
	rescan      *clock.Timer
	settle      *clock.Timer
	cancelObs   func()
	cancelTitle func()
	done        chan struct{}
}

// New creates an Engine for doc. Call Start to begin watching.
func New(doc dom.Document, opts ...Option) *Engine {
	e := &Engine{doc: doc, done: make(chan struct{})}
	for _, o := range opts {
		o(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.clock == nil {
		e.clock = clock.Real{}
	}
	if e.newID == nil {
		e.newID = idgen.Prefixed("pass_", idgen.Default)
	}

	e.processed = NewProcessedSet()
	e.scanner = NewScanner(NewClassifier(e.logger), e.logger)
	e.reconciler = NewReconciler(e.processed, e.logger)
	e.rescan = clock.NewTimer(e.clock, RescanDelay, func() { e.timerPass("mutation") })
	e.settle = clock.NewTimer(e.clock, SettleDelay, func() { e.timerPass("navigation") })
	return e
}

// Start runs a first pass and subscribes to document mutations and title
// changes. The engine stops when ctx is done or Stop is called. A stopped
// engine cannot be restarted.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return ErrStopped
	}
	if e.started {
		return nil
	}
	e.started = true
	e.lastURL = e.doc.Location()

	e.passLocked("start")

	e.cancelObs = e.doc.Observe(e.onMutations)
	e.cancelTitle = e.doc.ObserveTitle(e.onTitle)

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				e.Stop()
			case <-e.done:
			}
		}()
	}

	e.logger.Info("mapslink: engine started", "url", e.lastURL)
	return nil
}

// Stop cancels pending passes and unsubscribes. Safe to call more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.stopped = true
	e.rescan.Stop()
	e.settle.Stop()
	if e.cancelObs != nil {
		e.cancelObs()
	}
	if e.cancelTitle != nil {
		e.cancelTitle()
	}
	close(e.done)
	e.logger.Info("mapslink: engine stopped", "passes", e.passes)
}

// RunPass scans and reconciles immediately.
func (e *Engine) RunPass() PassResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.passLocked("manual")
}

// Processed reports how many candidates were annotated since the last
// navigation.
func (e *Engine) Processed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.processed.Len()
}

func (e *Engine) timerPass(trigger string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.passLocked(trigger)
}

func (e *Engine) passLocked(trigger string) PassResult {
	res := PassResult{ID: e.newID(), Trigger: trigger, Outcomes: make(map[Outcome]int)}
	e.passes++

	candidates := e.scanner.Scan(e.doc)
	res.Candidates = len(candidates)
	for _, c := range candidates {
		res.Outcomes[e.reconciler.Reconcile(e.doc, c)]++
	}

	if res.Candidates == 0 {
		e.logger.Debug("mapslink: no map containers found", "pass", res.ID, "trigger", trigger)
	} else {
		e.logger.Debug("mapslink: pass done",
			"pass", res.ID,
			"trigger", trigger,
			"candidates", res.Candidates,
			"injected", res.Injected())
	}
	return res
}

// onMutations handles one batch of child-list records. Any insertion, or the
// removal of an annotation, schedules a pass. A removed annotation also frees
// its former parent's marker so the pass can inject again.
func (e *Engine) onMutations(recs []dom.Record) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}

	need := false
	for _, r := range recs {
		switch r.Op {
		case dom.OpInsert:
			need = true
		case dom.OpRemove:
			if !dom.HasClassToken(r.Class, AnnotationClass) {
				continue
			}
			need = true
			if r.Target == nil || !r.Target.HasAttr(MarkerAttr) {
				continue
			}
			e.logger.Info("mapslink: link was removed, re-adding", "anchor", r.Target.ID())
			if err := r.Target.RemoveAttr(MarkerAttr); err != nil {
				e.logger.Warn("mapslink: clear marker failed", "anchor", r.Target.ID(), "error", err)
			}
		}
	}
	if need {
		e.rescan.Reset()
	}
}

// onTitle treats a title change with a new address as a navigation: every
// marker and the processed set are dropped, and a pass runs once the new
// content has had time to render.
func (e *Engine) onTitle() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}

	loc := e.doc.Location()
	if loc == e.lastURL {
		return
	}
	e.lastURL = loc

	marked, err := e.doc.QueryAll("[" + MarkerAttr + "]")
	if err != nil {
		e.logger.Warn("mapslink: marker query failed", "error", err)
	}
	for _, n := range marked {
		if err := n.RemoveAttr(MarkerAttr); err != nil {
			e.logger.Warn("mapslink: clear marker failed", "anchor", n.ID(), "error", err)
		}
	}
	e.processed.Clear()
	e.settle.Reset()

	e.logger.Info("mapslink: navigation detected", "url", loc, "markers_cleared", len(marked))
}
