package mapslink

import (
	"log/slog"
	"strings"

	"github.com/hazyhaar/mapslink/dom"
)

// financeSignatures identify stock and finance charts, which render much
// like a map widget. A hit on the node or any ancestor vetoes the node.
var financeSignatures = []string{
	`[data-attrid*="stock"]`,
	`[data-attrid*="finance"]`,
	`[class*="finance"]`,
	`[class*="stock"]`,
	`[id*="knowledge-finance"]`,
}

const (
	locationMapSelector   = `[data-attrid="kc:/location/location:map"]`
	locationPanelSelector = `[data-attrid="kc:/location"]`
	localMapSelector      = `.lu_map_section`
	mapsIframeSelector    = `iframe[src*="maps.google"]`
)

type evidence struct {
	name string
	test func(dom.Node) (bool, error)
}

// geoEvidence is OR-ed: one hit is enough.
var geoEvidence = []evidence{
	{"location-map-panel", hasDescendant(locationMapSelector)},
	{"maps-iframe", hasDescendant(mapsIframeSelector)},
	{"location-panel", hasAncestor(locationPanelSelector)},
	{"local-map-section", hasAncestor(localMapSelector)},
	{"map-canvas", hasMapCanvas},
}

func hasDescendant(sel string) func(dom.Node) (bool, error) {
	return func(n dom.Node) (bool, error) {
		hit, err := n.Query(sel)
		return hit != nil, err
	}
}

func hasAncestor(sel string) func(dom.Node) (bool, error) {
	return func(n dom.Node) (bool, error) {
		hit, err := n.Closest(sel)
		return hit != nil, err
	}
}

func hasMapCanvas(n dom.Node) (bool, error) {
	canvases, err := n.QueryAll("canvas")
	if err != nil {
		return false, err
	}
	for _, c := range canvases {
		if strings.Contains(strings.ToLower(c.Attr("aria-label")), "map") {
			return true, nil
		}
	}
	return false, nil
}

// Classifier decides whether a candidate node is a geographic map.
type Classifier struct {
	logger *slog.Logger
}

// NewClassifier returns a Classifier. A nil logger means slog.Default().
func NewClassifier(logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{logger: logger}
}

// IsGeographicMap runs the finance exclusion first, then the positive
// evidence. A predicate whose query fails counts as no match.
func (c *Classifier) IsGeographicMap(n dom.Node) bool {
	for _, sel := range financeSignatures {
		hit, err := n.Closest(sel)
		if err != nil {
			c.logger.Debug("mapslink: exclusion check failed", "selector", sel, "error", err)
			continue
		}
		if hit != nil {
			c.logger.Debug("mapslink: financial chart, skipping",
				"node", n.ID(), "signature", sel)
			return false
		}
	}

	for _, ev := range geoEvidence {
		ok, err := ev.test(n)
		if err != nil {
			c.logger.Debug("mapslink: evidence check failed", "evidence", ev.name, "error", err)
			continue
		}
		if ok {
			c.logger.Debug("mapslink: geographic map", "node", n.ID(), "evidence", ev.name)
			return true
		}
	}
	return false
}
