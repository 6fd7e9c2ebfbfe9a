package mapslink

import (
	"io"
	"log/slog"
	"testing"

	"golang.org/x/net/html"

	"github.com/hazyhaar/mapslink/dom"
	"github.com/hazyhaar/mapslink/dom/memdom"
)

const searchURL = "https://www.google.com/search?q=pizza+near+me"

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newDoc(t *testing.T, body, location string) *memdom.Document {
	t.Helper()
	d, err := memdom.ParseString(
		"<html><head><title>results</title></head><body>"+body+"</body></html>",
		location, memdom.WithLogger(quiet))
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func one(t *testing.T, d dom.Document, sel string) dom.Node {
	t.Helper()
	ns, err := d.QueryAll(sel)
	if err != nil {
		t.Fatalf("QueryAll(%q): %v", sel, err)
	}
	if len(ns) != 1 {
		t.Fatalf("QueryAll(%q): got %d nodes, want 1", sel, len(ns))
	}
	return ns[0]
}

func size(t *testing.T, d *memdom.Document, sel string, w, h float64) dom.Node {
	t.Helper()
	n := one(t, d, sel)
	d.SetRect(n, dom.Rect{Width: w, Height: h})
	return n
}

func countAnnotations(t *testing.T, d dom.Document) int {
	t.Helper()
	ns, err := d.QueryAll("." + AnnotationClass)
	if err != nil {
		t.Fatal(err)
	}
	return len(ns)
}

// firstChild returns the first child of n, of any node type.
func firstChild(n dom.Node) *html.Node {
	return n.(*memdom.Node).HTMLNode().FirstChild
}

func isAnnotation(h *html.Node) bool {
	if h == nil || h.Type != html.ElementNode {
		return false
	}
	for _, a := range h.Attr {
		if a.Key == "class" && a.Val == AnnotationClass {
			return true
		}
	}
	return false
}

func linkHref(h *html.Node) string {
	for c := h.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "a" {
			for _, a := range c.Attr {
				if a.Key == "href" {
					return a.Val
				}
			}
		}
	}
	return ""
}

func newDocRaw(markup string) (*memdom.Document, error) {
	return memdom.ParseString(markup, searchURL, memdom.WithLogger(quiet))
}

func domRect(w, h float64) dom.Rect {
	return dom.Rect{Width: w, Height: h}
}
