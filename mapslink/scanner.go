package mapslink

import (
	"log/slog"
	"strings"

	"github.com/hazyhaar/mapslink/dom"
)

// MinMapSize is the exclusive lower bound, in CSS pixels, on both sides of a
// visible map candidate.
const MinMapSize = 100

// candidateSelectors are the structural signatures of map widgets.
var candidateSelectors = []string{
	locationMapSelector, // knowledge panel map
	localMapSelector,    // local business results
	`[data-md]`,         // local results
	`[jsname="WZSFy"]`,  // maps container
}

// ScanStats describes one scan, for diagnostics.
type ScanStats struct {
	// Matches counts raw hits per selector.
	Matches map[string]int
	// Visible counts selector hits that passed the size filter.
	Visible int
	// Iframes counts maps iframes found.
	Iframes int
	// Candidates is the deduplicated count before classification.
	Candidates int
	// Accepted is the count the classifier kept.
	Accepted int
	// SelectorErrors counts selectors skipped because they failed.
	SelectorErrors int
}

// Scanner finds map candidates across a whole document.
type Scanner struct {
	selectors  []string
	classifier *Classifier
	logger     *slog.Logger
}

// NewScanner returns a Scanner using the built-in selectors.
func NewScanner(classifier *Classifier, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	if classifier == nil {
		classifier = NewClassifier(logger)
	}
	return &Scanner{
		selectors:  candidateSelectors,
		classifier: classifier,
		logger:     logger,
	}
}

// Scan returns the geographic map candidates of doc, deduplicated by node
// identity, in discovery order.
func (s *Scanner) Scan(doc dom.Document) []dom.Node {
	nodes, _ := s.ScanWithStats(doc)
	return nodes
}

// ScanWithStats is Scan plus per-strategy counters.
func (s *Scanner) ScanWithStats(doc dom.Document) ([]dom.Node, ScanStats) {
	stats := ScanStats{Matches: make(map[string]int, len(s.selectors))}
	seen := make(map[dom.NodeID]struct{})
	var found []dom.Node
	add := func(n dom.Node) {
		if _, ok := seen[n.ID()]; ok {
			return
		}
		seen[n.ID()] = struct{}{}
		found = append(found, n)
	}

	// Structural selectors, visible nodes only.
	for _, sel := range s.selectors {
		nodes, err := doc.QueryAll(sel)
		if err != nil {
			stats.SelectorErrors++
			s.logger.Warn("mapslink: selector failed, skipping", "selector", sel, "error", err)
			continue
		}
		stats.Matches[sel] = len(nodes)
		for _, n := range nodes {
			if !s.visible(n) {
				continue
			}
			stats.Visible++
			add(n)
		}
	}

	// Maps iframes contribute their map-classed container, not themselves.
	iframes, err := doc.QueryAll(mapsIframeSelector)
	if err != nil {
		stats.SelectorErrors++
		s.logger.Warn("mapslink: iframe query failed", "error", err)
	}
	stats.Iframes = len(iframes)
	for _, f := range iframes {
		if c := mapClassedAncestor(f); c != nil {
			add(c)
		}
	}
	stats.Candidates = len(found)

	accepted := found[:0]
	for _, n := range found {
		if s.classifier.IsGeographicMap(n) {
			accepted = append(accepted, n)
		}
	}
	stats.Accepted = len(accepted)

	s.logger.Debug("mapslink: scan done",
		"matches", stats.Matches,
		"visible", stats.Visible,
		"iframes", stats.Iframes,
		"candidates", stats.Candidates,
		"accepted", stats.Accepted)
	return accepted, stats
}

func (s *Scanner) visible(n dom.Node) bool {
	r, err := n.Rect()
	if err != nil {
		s.logger.Debug("mapslink: geometry unavailable", "node", n.ID(), "error", err)
		return false
	}
	return r.Width > MinMapSize && r.Height > MinMapSize
}

// mapClassedAncestor returns the nearest div above n whose class contains
// "map" in any letter case.
func mapClassedAncestor(n dom.Node) dom.Node {
	for cur := n.Parent(); cur != nil; cur = cur.Parent() {
		if cur.Tag() == "div" && strings.Contains(strings.ToLower(cur.Attr("class")), "map") {
			return cur
		}
	}
	return nil
}
