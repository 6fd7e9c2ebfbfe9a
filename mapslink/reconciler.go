package mapslink

import (
	"log/slog"

	"github.com/hazyhaar/mapslink/dom"
)

// Outcome is the result of one Reconcile call.
type Outcome int

const (
	OutcomeInjected Outcome = iota // annotation inserted
	OutcomeNoQuery                 // no search query in the address
	OutcomePresent                 // anchor already holds an annotation
	OutcomeMarked                  // anchor carries the marker
	OutcomeFailed                  // a DOM read or write failed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInjected:
		return "injected"
	case OutcomeNoQuery:
		return "no_query"
	case OutcomePresent:
		return "present"
	case OutcomeMarked:
		return "marked"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// ProcessedSet remembers candidates handled since the last navigation. It is
// a hint for diagnostics and never gates injection. Not safe for concurrent
// use; the Engine serialises access.
type ProcessedSet struct {
	ids map[dom.NodeID]struct{}
}

func NewProcessedSet() *ProcessedSet {
	return &ProcessedSet{ids: make(map[dom.NodeID]struct{})}
}

func (p *ProcessedSet) Add(id dom.NodeID) { p.ids[id] = struct{}{} }

func (p *ProcessedSet) Has(id dom.NodeID) bool {
	_, ok := p.ids[id]
	return ok
}

func (p *ProcessedSet) Len() int { return len(p.ids) }

func (p *ProcessedSet) Clear() { clear(p.ids) }

// Reconciler ensures one annotation per stable container.
type Reconciler struct {
	locator   Locator
	processed *ProcessedSet
	logger    *slog.Logger
}

// NewReconciler returns a Reconciler recording into processed.
func NewReconciler(processed *ProcessedSet, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if processed == nil {
		processed = NewProcessedSet()
	}
	return &Reconciler{processed: processed, logger: logger}
}

// Reconcile annotates candidate's anchor unless it is already annotated. It
// is idempotent: the structural check and the marker check each suffice to
// stop a second insertion, so either one going stale is tolerated.
func (r *Reconciler) Reconcile(doc dom.Document, candidate dom.Node) Outcome {
	query := QueryFromURL(doc.Location())
	if query == "" {
		r.logger.Debug("mapslink: no search query, skipping")
		return OutcomeNoQuery
	}

	anchor := r.locator.FindAnchor(candidate)

	existing, err := anchor.Query("." + AnnotationClass)
	if err != nil {
		r.logger.Warn("mapslink: annotation lookup failed", "anchor", anchor.ID(), "error", err)
		return OutcomeFailed
	}
	if existing != nil {
		r.logger.Debug("mapslink: link already present", "anchor", anchor.ID())
		return OutcomePresent
	}
	if anchor.HasAttr(MarkerAttr) {
		return OutcomeMarked
	}

	if err := anchor.SetAttr(MarkerAttr, "true"); err != nil {
		r.logger.Warn("mapslink: set marker failed", "anchor", anchor.ID(), "error", err)
		return OutcomeFailed
	}
	if err := anchor.InsertFirst(BuildAnnotationElement(BuildTargetURL(query))); err != nil {
		r.logger.Warn("mapslink: insert annotation failed", "anchor", anchor.ID(), "error", err)
		if err := anchor.RemoveAttr(MarkerAttr); err != nil {
			r.logger.Warn("mapslink: marker rollback failed", "anchor", anchor.ID(), "error", err)
		}
		return OutcomeFailed
	}
	r.processed.Add(candidate.ID())

	r.logger.Info("mapslink: link added",
		"query", query, "anchor", anchor.ID(), "class", anchor.Attr("class"))
	return OutcomeInjected
}
